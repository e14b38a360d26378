package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"PriceWatch/internal/config"
)

// Mode names the current refresh cadence.
type Mode string

const (
	ModePeak    Mode = "peak"
	ModeOffPeak Mode = "offpeak"
)

// refresher is the slice of the pipeline the scheduler drives.
type refresher interface {
	RunScheduled(ctx context.Context, peak bool) error
	InProgress() bool
}

// SchedulerStatus is the operator-facing view of the scheduler state.
type SchedulerStatus struct {
	Mode       Mode          `json:"mode"`
	Interval   time.Duration `json:"interval"`
	InProgress bool          `json:"in_progress"`
}

// Scheduler alternates the refresh cadence between a short peak interval
// inside business hours and a long off-peak interval outside them. Mode is
// re-evaluated once a minute; a transition reschedules the next refresh but
// never interrupts one already running.
type Scheduler struct {
	pipeline refresher
	cfg      config.SchedulerConfig
	logger   *slog.Logger
	now      func() time.Time

	modeCh chan Mode // test hook, may be nil
}

// NewScheduler builds a scheduler over the refresh pipeline.
func NewScheduler(pipeline refresher, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// ModeAt classifies an instant against the business-hours window in the
// configured timezone. The window may wrap past midnight.
func (s *Scheduler) ModeAt(t time.Time) Mode {
	local := t.In(s.cfg.Location())
	minute := local.Hour()*60 + local.Minute()
	from, to := s.cfg.Window()

	inWindow := false
	if from <= to {
		inWindow = minute >= from && minute < to
	} else {
		inWindow = minute >= from || minute < to
	}
	if inWindow {
		return ModePeak
	}
	return ModeOffPeak
}

// Interval maps a mode to its refresh cadence.
func (s *Scheduler) Interval(mode Mode) time.Duration {
	if mode == ModePeak {
		return s.cfg.PeakInterval.Std()
	}
	return s.cfg.OffPeakInterval.Std()
}

// Status reports the current mode, cadence and whether a cycle is running.
func (s *Scheduler) Status() SchedulerStatus {
	mode := s.ModeAt(s.now())
	return SchedulerStatus{
		Mode:       mode,
		Interval:   s.Interval(mode),
		InProgress: s.pipeline.InProgress(),
	}
}

// Run drives the refresh loop until ctx is cancelled. The first refresh
// fires immediately so a restart does not wait out a full interval.
func (s *Scheduler) Run(ctx context.Context) {
	mode := s.ModeAt(s.now())
	s.log("scheduler started", "mode", mode, "interval", s.Interval(mode))

	s.fire(ctx, mode)

	refresh := time.NewTicker(s.Interval(mode))
	defer refresh.Stop()

	check := s.cfg.ModeCheckInterval.Std()
	if check <= 0 {
		check = time.Minute
	}
	modeCheck := time.NewTicker(check)
	defer modeCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log("scheduler stopped")
			return

		case <-refresh.C:
			s.fire(ctx, mode)

		case <-modeCheck.C:
			next := s.ModeAt(s.now())
			if next == mode {
				continue
			}
			mode = next
			refresh.Reset(s.Interval(mode))
			s.log("scheduler mode changed", "mode", mode, "interval", s.Interval(mode))
			if s.modeCh != nil {
				s.modeCh <- mode
			}
		}
	}
}

// fire launches one scheduled refresh without blocking the loop, so a slow
// cycle cannot delay mode checks. Overlap is prevented by the pipeline's
// in-progress flag, not by the scheduler.
func (s *Scheduler) fire(ctx context.Context, mode Mode) {
	go func() {
		err := s.pipeline.RunScheduled(ctx, mode == ModePeak)
		switch {
		case err == nil:
		case errors.Is(err, ErrSyncInProgress):
			s.log("scheduled tick skipped, cycle in progress")
		case errors.Is(err, context.Canceled):
		default:
			if s.logger != nil {
				s.logger.Error("scheduled refresh failed", "error", err)
			}
		}
	}()
}

func (s *Scheduler) log(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}
