package sourceclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"PriceWatch/internal/feed"
	"PriceWatch/internal/ports"
)

const keysCacheKey = "\x00dataset-keys"

// Options tunes caching and upstream politeness.
type Options struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	Retry        RetryPolicy
	Limiter      *rate.Limiter
	Logger       *slog.Logger
}

type cacheEntry struct {
	rows      feed.RawRows
	fetchedAt time.Time
}

type keysEntry struct {
	keys      []string
	fetchedAt time.Time
}

// Client wraps a feed.Fetcher with a TTL cache, in-flight request dedup,
// retry/backoff, and a rate limit toward the upstream. Concurrent callers of
// the same cache key share one pending upstream call.
type Client struct {
	fetcher feed.Fetcher
	ttl     time.Duration
	timeout time.Duration
	retry   RetryPolicy
	limiter *rate.Limiter
	logger  *slog.Logger

	group singleflight.Group
	sleep sleepFunc

	mu    sync.RWMutex
	cache map[string]cacheEntry
	keys  *keysEntry
}

var _ ports.RowSource = (*Client)(nil)

// New builds a caching client around the given fetcher.
func New(fetcher feed.Fetcher, opts Options) *Client {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
	}
	return &Client{
		fetcher: fetcher,
		ttl:     opts.TTL,
		timeout: opts.FetchTimeout,
		retry:   opts.Retry,
		limiter: opts.Limiter,
		logger:  opts.Logger,
		cache:   map[string]cacheEntry{},
	}
}

// Fetch returns cached rows when fresh; otherwise exactly one upstream call
// per key is issued no matter how many callers miss concurrently.
func (c *Client) Fetch(ctx context.Context, datasetKey string) (feed.RawRows, error) {
	if rows, ok := c.cached(datasetKey); ok {
		return rows, nil
	}

	result, err, shared := c.group.Do(datasetKey, func() (any, error) {
		// Re-check after winning the flight: a FetchFresh may have landed.
		if rows, ok := c.cached(datasetKey); ok {
			return rows, nil
		}
		rows, err := c.fetchUpstream(ctx, datasetKey)
		if err != nil {
			return nil, err
		}
		c.store(datasetKey, rows)
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.debug("shared in-flight fetch", "dataset_key", datasetKey)
	}
	return result.(feed.RawRows), nil
}

// FetchFresh bypasses the cache and the in-flight table entirely, then
// re-populates the cache so subsequent reads are warm. Used by the webhook
// fast path.
func (c *Client) FetchFresh(ctx context.Context, datasetKey string) (feed.RawRows, error) {
	rows, err := c.fetchUpstream(ctx, datasetKey)
	if err != nil {
		return nil, err
	}
	c.store(datasetKey, rows)
	return rows, nil
}

// ListKeys enumerates dataset keys, cached under the same TTL.
func (c *Client) ListKeys(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	entry := c.keys
	c.mu.RUnlock()
	if entry != nil && time.Since(entry.fetchedAt) < c.ttl {
		return entry.keys, nil
	}

	result, err, _ := c.group.Do(keysCacheKey, func() (any, error) {
		var keys []string
		err := c.retry.Run(ctx, c.sleep, func(parent context.Context) error {
			attempt, cancel := context.WithTimeout(parent, c.timeout)
			defer cancel()
			var opErr error
			keys, opErr = c.fetcher.ListKeys(attempt)
			return c.normalizeAttemptErr(parent, attempt, opErr)
		})
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.keys = &keysEntry{keys: keys, fetchedAt: time.Now()}
		c.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// Invalidate evicts one cache key.
func (c *Client) Invalidate(datasetKey string) {
	c.mu.Lock()
	delete(c.cache, datasetKey)
	c.mu.Unlock()
}

// InvalidateAll evicts every cached range and the key listing.
func (c *Client) InvalidateAll() {
	c.mu.Lock()
	c.cache = map[string]cacheEntry{}
	c.keys = nil
	c.mu.Unlock()
}

// Reset restores pristine state; tests use it between cases.
func (c *Client) Reset() {
	c.InvalidateAll()
}

func (c *Client) cached(datasetKey string) (feed.RawRows, bool) {
	c.mu.RLock()
	entry, ok := c.cache[datasetKey]
	c.mu.RUnlock()
	if !ok || time.Since(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return entry.rows, true
}

func (c *Client) store(datasetKey string, rows feed.RawRows) {
	c.mu.Lock()
	c.cache[datasetKey] = cacheEntry{rows: rows, fetchedAt: time.Now()}
	c.mu.Unlock()
}

func (c *Client) fetchUpstream(ctx context.Context, datasetKey string) (feed.RawRows, error) {
	var rows feed.RawRows
	err := c.retry.Run(ctx, c.sleep, func(parent context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(parent); err != nil {
				return err
			}
		}
		attempt, cancel := context.WithTimeout(parent, c.timeout)
		defer cancel()
		var opErr error
		rows, opErr = c.fetcher.FetchRows(attempt, feed.Request{DatasetKey: datasetKey})
		return c.normalizeAttemptErr(parent, attempt, opErr)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", datasetKey, err)
	}
	return rows, nil
}

// normalizeAttemptErr turns a per-attempt timeout into a retryable upstream
// failure while leaving parent-context cancellation fatal, so a hung upstream
// call cannot wedge a refresh cycle.
func (c *Client) normalizeAttemptErr(parent, attempt context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: fetch timed out after %s", feed.ErrUpstreamUnavailable, c.timeout)
	}
	return err
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
