package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"PriceWatch/internal/diff"
	"PriceWatch/internal/domain"
	"PriceWatch/internal/feed"
	"PriceWatch/internal/parser"
	"PriceWatch/internal/ports"
)

// ErrSyncInProgress reports that a refresh cycle is already running and the
// trigger was dropped rather than queued.
var ErrSyncInProgress = errors.New("refresh cycle already in progress")

// SignalOutcome tells a webhook caller what happened to its signal.
type SignalOutcome string

const (
	SignalStarted  SignalOutcome = "started"
	SignalDeferred SignalOutcome = "deferred"
)

// PipelineDeps wires all driven adapters into the refresh pipeline.
// Audit and Notifier are optional.
type PipelineDeps struct {
	Source   ports.RowSource
	Parser   *parser.Parser
	Store    ports.SnapshotStore
	Hub      ports.Broadcaster
	Audit    ports.AuditRepository
	Notifier ports.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// Pipeline runs the fetch→parse→diff→commit→broadcast cycle. A single
// in-progress flag serializes every trigger source: timer ticks, webhook
// signals and manual syncs all contend on the same flag, so at most one
// cycle touches the upstream at a time.
type Pipeline struct {
	source   ports.RowSource
	parser   *parser.Parser
	store    ports.SnapshotStore
	hub      ports.Broadcaster
	audit    ports.AuditRepository
	notifier ports.Notifier
	logger   *slog.Logger
	now      func() time.Time

	inProgress atomic.Bool
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	p := deps.Parser
	if p == nil {
		p = parser.New(deps.Logger)
	}
	return &Pipeline{
		source:   deps.Source,
		parser:   p,
		store:    deps.Store,
		hub:      deps.Hub,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		now:      now,
	}
}

// InProgress reports whether a refresh cycle is currently running.
func (p *Pipeline) InProgress() bool {
	return p.inProgress.Load()
}

// RunScheduled refreshes the most recent dataset key. In peak mode the cache
// entry is invalidated after the cycle so the next tick sees fresh data even
// inside the TTL window.
func (p *Pipeline) RunScheduled(ctx context.Context, peak bool) error {
	if !p.inProgress.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer p.inProgress.Store(false)

	key, err := p.currentKey(ctx)
	if err != nil {
		return err
	}
	return p.runCycle(ctx, key, domain.TriggerScheduler, false, peak)
}

// ForceSync refreshes one dataset key on demand (admin surface). An empty
// key means "the most recent one".
func (p *Pipeline) ForceSync(ctx context.Context, datasetKey string) error {
	if !p.inProgress.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer p.inProgress.Store(false)

	if datasetKey == "" {
		key, err := p.currentKey(ctx)
		if err != nil {
			return err
		}
		datasetKey = key
	}
	return p.runCycle(ctx, datasetKey, domain.TriggerManual, false, false)
}

// OnExternalChangeSignal is the webhook fast path. The in-progress check and
// flag set happen synchronously so a concurrent signal observes Deferred; the
// fetch itself runs in the background and the caller is acknowledged
// immediately. A deferred signal is dropped: the running cycle or the next
// tick picks the change up.
func (p *Pipeline) OnExternalChangeSignal(ctx context.Context, datasetKey, hint string) SignalOutcome {
	if !p.inProgress.CompareAndSwap(false, true) {
		p.log("webhook signal deferred, cycle in progress", "dataset_key", datasetKey, "hint", hint)
		return SignalDeferred
	}

	// The refresh outlives the webhook request, so the request context must
	// not cancel it mid-cycle.
	bg := context.WithoutCancel(ctx)
	go func() {
		defer p.inProgress.Store(false)
		// Targeted invalidation: unrelated datasets keep their cache.
		p.source.Invalidate(datasetKey)
		if err := p.runCycle(bg, datasetKey, domain.TriggerWebhook, true, false); err != nil {
			p.log("webhook refresh failed, scheduled tick will catch up",
				"dataset_key", datasetKey, "error", err)
		}
	}()
	return SignalStarted
}

// currentKey resolves the most recent dataset key advertised upstream.
func (p *Pipeline) currentKey(ctx context.Context) (string, error) {
	keys, err := p.source.ListKeys(ctx)
	if err != nil {
		return "", fmt.Errorf("list dataset keys: %w", err)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("upstream advertises no dataset keys: %w", feed.ErrDatasetNotFound)
	}
	return keys[0], nil
}

// runCycle executes one fetch→parse→diff→commit→broadcast sequence. The
// caller must hold the in-progress flag. A failure leaves the previous
// snapshot authoritative: stale-but-valid beats no-data.
func (p *Pipeline) runCycle(ctx context.Context, datasetKey string, trigger domain.SyncTrigger, fresh, invalidateAfter bool) error {
	startedAt := p.now()
	run := domain.SyncRun{
		DatasetKey: datasetKey,
		Trigger:    trigger,
		StartedAt:  startedAt,
		Status:     "ok",
	}

	err := p.execute(ctx, datasetKey, fresh, invalidateAfter, &run)
	run.Duration = p.now().Sub(startedAt)
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
	}
	p.recordAudit(ctx, run)

	if err != nil {
		// Fall back once when the requested slice vanished upstream.
		if errors.Is(err, feed.ErrDatasetNotFound) {
			if fallback, ok := p.fallbackKey(ctx, datasetKey); ok {
				p.log("dataset key gone upstream, falling back",
					"requested", datasetKey, "fallback", fallback)
				return p.runCycle(ctx, fallback, trigger, fresh, invalidateAfter)
			}
		}
		return err
	}
	return nil
}

func (p *Pipeline) execute(ctx context.Context, datasetKey string, fresh, invalidateAfter bool, run *domain.SyncRun) error {
	var rows feed.RawRows
	var err error
	if fresh {
		rows, err = p.source.FetchFresh(ctx, datasetKey)
	} else {
		rows, err = p.source.Fetch(ctx, datasetKey)
	}
	if err != nil {
		return fmt.Errorf("fetch rows: %w", err)
	}

	snap, stats, err := p.parser.Parse(datasetKey, rows, p.now())
	if err != nil {
		return fmt.Errorf("parse rows: %w", err)
	}
	run.RowsRead = stats.RowsRead
	run.RowsConverted = stats.RowsConverted
	run.RowsSkipped = stats.RowsSkipped

	previous, _ := p.store.Get(datasetKey)
	events := diff.Changes(previous, snap)
	run.EventsEmitted = len(events)

	p.store.Commit(snap)

	if p.hub != nil {
		p.hub.BroadcastChanges(events)
		p.hub.BroadcastSnapshotRefreshed(datasetKey, len(snap.Records), snap.FetchedAt)
	}

	if invalidateAfter {
		p.source.Invalidate(datasetKey)
	}

	p.notifyAlerts(ctx, events)

	p.log("refresh cycle complete",
		"dataset_key", datasetKey,
		"records", len(snap.Records),
		"events", len(events),
		"rows_skipped", stats.RowsSkipped,
	)
	return nil
}

// fallbackKey picks the most recent upstream key different from the failed one.
func (p *Pipeline) fallbackKey(ctx context.Context, failedKey string) (string, bool) {
	keys, err := p.source.ListKeys(ctx)
	if err != nil {
		return "", false
	}
	for _, key := range keys {
		if key != failedKey {
			return key, true
		}
	}
	return "", false
}

func (p *Pipeline) notifyAlerts(ctx context.Context, events []domain.ChangeEvent) {
	if p.notifier == nil || len(events) == 0 {
		return
	}
	if err := p.notifier.PublishPriceAlerts(ctx, events); err != nil {
		p.log("price alert delivery failed", "error", err)
	}
}

func (p *Pipeline) recordAudit(ctx context.Context, run domain.SyncRun) {
	if p.audit == nil {
		return
	}
	if err := p.audit.RecordRun(ctx, run); err != nil {
		p.log("audit record failed", "error", err)
	}
}

func (p *Pipeline) log(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}
