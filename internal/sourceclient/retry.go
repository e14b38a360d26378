package sourceclient

import (
	"context"
	"errors"
	"time"

	"PriceWatch/internal/feed"
)

// RetryPolicy is the single retry/backoff policy for upstream calls.
// Delays double per attempt: base, 2*base, 4*base, ...
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// sleepFunc is injectable so tests can run backoff without real time.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes op, retrying transient failures with exponential backoff.
// Authorization failures and missing dataset keys are surfaced immediately.
func (p RetryPolicy) Run(ctx context.Context, sleep sleepFunc, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	delay := p.BaseDelay
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}

	if errors.Is(lastErr, feed.ErrUpstreamUnavailable) {
		return lastErr
	}
	return errors.Join(feed.ErrUpstreamUnavailable, lastErr)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, feed.ErrAuthorization):
		return false
	case errors.Is(err, feed.ErrDatasetNotFound):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
