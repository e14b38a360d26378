package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PriceWatch/internal/domain"
	"PriceWatch/internal/feed"
	"PriceWatch/internal/snapshot"
)

type fakeSource struct {
	mu          sync.Mutex
	rows        map[string]feed.RawRows
	errByKey    map[string]error
	keys        []string
	delay       time.Duration
	fetchCalls  int
	freshCalls  int
	invalidated []string
}

func (f *fakeSource) Fetch(ctx context.Context, datasetKey string) (feed.RawRows, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()
	return f.serve(ctx, datasetKey)
}

func (f *fakeSource) FetchFresh(ctx context.Context, datasetKey string) (feed.RawRows, error) {
	f.mu.Lock()
	f.freshCalls++
	f.mu.Unlock()
	return f.serve(ctx, datasetKey)
}

func (f *fakeSource) serve(ctx context.Context, datasetKey string) (feed.RawRows, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errByKey[datasetKey]; ok && err != nil {
		return nil, err
	}
	rows, ok := f.rows[datasetKey]
	if !ok {
		return nil, feed.ErrDatasetNotFound
	}
	return rows, nil
}

func (f *fakeSource) ListKeys(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...), nil
}

func (f *fakeSource) Invalidate(datasetKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, datasetKey)
}

func (f *fakeSource) InvalidateAll() {}

func (f *fakeSource) invalidations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}

func (f *fakeSource) counts() (fetch, fresh int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, f.freshCalls
}

type fakeHub struct {
	mu        sync.Mutex
	events    []domain.ChangeEvent
	refreshed int
}

func (h *fakeHub) BroadcastChanges(events []domain.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, events...)
}

func (h *fakeHub) BroadcastSnapshotRefreshed(datasetKey string, records int, fetchedAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshed++
}

func (h *fakeHub) SubscriberCount() int { return 0 }

func (h *fakeHub) state() ([]domain.ChangeEvent, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.ChangeEvent(nil), h.events...), h.refreshed
}

type fakeAudit struct {
	mu   sync.Mutex
	runs []domain.SyncRun
}

func (a *fakeAudit) RecordRun(ctx context.Context, run domain.SyncRun) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, run)
	return nil
}

func (a *fakeAudit) RecentRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.SyncRun(nil), a.runs...), nil
}

func feedRows(prices ...string) feed.RawRows {
	rows := feed.RawRows{
		{"Fornecedor", "Categoria", "Modelo", "Armazenamento", "Regiao", "Cor", "Preco", "Atualizado"},
	}
	for _, price := range prices {
		rows = append(rows, []string{"TechSupply", "Smartphone", "iPhone 15", "128GB", "SP", "Blue", price, ""})
	}
	return rows
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRunScheduledCommitsAndBroadcasts(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		rows: map[string]feed.RawRows{"02/06": feedRows("R$ 3.500,00")},
		keys: []string{"02/06"},
	}
	store := snapshot.New()
	hub := &fakeHub{}
	audit := &fakeAudit{}

	p := NewPipeline(PipelineDeps{Source: source, Store: store, Hub: hub, Audit: audit})
	if err := p.RunScheduled(context.Background(), false); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}

	snap, ok := store.Get("02/06")
	if !ok || len(snap.Records) != 1 {
		t.Fatalf("snapshot not committed: ok=%v", ok)
	}
	if snap.Records[0].Price != 3500.00 {
		t.Fatalf("unexpected price: %v", snap.Records[0].Price)
	}

	events, refreshed := hub.state()
	if len(events) != 0 {
		t.Fatalf("cold start must not emit change events, got %d", len(events))
	}
	if refreshed != 1 {
		t.Fatalf("expected one snapshot-refreshed announcement, got %d", refreshed)
	}

	runs, _ := audit.RecentRuns(context.Background(), 10)
	if len(runs) != 1 || runs[0].Status != "ok" || runs[0].Trigger != domain.TriggerScheduler {
		t.Fatalf("unexpected audit trail: %+v", runs)
	}
}

func TestSecondRunEmitsPriceDrop(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		rows: map[string]feed.RawRows{"02/06": feedRows("R$ 3.500,00")},
		keys: []string{"02/06"},
	}
	store := snapshot.New()
	hub := &fakeHub{}
	p := NewPipeline(PipelineDeps{Source: source, Store: store, Hub: hub})

	if err := p.RunScheduled(context.Background(), false); err != nil {
		t.Fatalf("first run: %v", err)
	}

	source.mu.Lock()
	source.rows["02/06"] = feedRows("R$ 3.150,00")
	source.mu.Unlock()

	if err := p.RunScheduled(context.Background(), false); err != nil {
		t.Fatalf("second run: %v", err)
	}

	events, _ := hub.state()
	if len(events) != 1 || events[0].Type != domain.ChangePriceDrop {
		t.Fatalf("expected one price drop, got %+v", events)
	}
	if events[0].OldPrice != 3500.00 || events[0].NewPrice != 3150.00 {
		t.Fatalf("unexpected prices: %+v", events[0])
	}
}

func TestConcurrentTriggersShareOneFlag(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		rows:  map[string]feed.RawRows{"02/06": feedRows("R$ 3.500,00")},
		keys:  []string{"02/06"},
		delay: 100 * time.Millisecond,
	}
	store := snapshot.New()
	p := NewPipeline(PipelineDeps{Source: source, Store: store, Hub: &fakeHub{}})

	done := make(chan error, 1)
	go func() { done <- p.RunScheduled(context.Background(), false) }()

	waitFor(t, time.Second, p.InProgress)

	if err := p.ForceSync(context.Background(), "02/06"); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("manual sync should be rejected while busy, got %v", err)
	}
	if outcome := p.OnExternalChangeSignal(context.Background(), "02/06", "B7"); outcome != SignalDeferred {
		t.Fatalf("webhook signal should be deferred while busy, got %s", outcome)
	}

	if err := <-done; err != nil {
		t.Fatalf("scheduled run failed: %v", err)
	}
	fetch, fresh := source.counts()
	if fetch != 1 || fresh != 0 {
		t.Fatalf("expected exactly one upstream call, got fetch=%d fresh=%d", fetch, fresh)
	}
}

func TestWebhookSignalRefreshesInBackground(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		rows: map[string]feed.RawRows{"02/06": feedRows("R$ 3.500,00")},
		keys: []string{"02/06"},
	}
	store := snapshot.New()
	p := NewPipeline(PipelineDeps{Source: source, Store: store, Hub: &fakeHub{}})

	if outcome := p.OnExternalChangeSignal(context.Background(), "02/06", "B7"); outcome != SignalStarted {
		t.Fatalf("expected started, got %s", outcome)
	}

	waitFor(t, time.Second, func() bool {
		_, ok := store.Get("02/06")
		return ok && !p.InProgress()
	})

	fetch, fresh := source.counts()
	if fresh != 1 || fetch != 0 {
		t.Fatalf("webhook must bypass the cache, got fetch=%d fresh=%d", fetch, fresh)
	}
	inv := source.invalidations()
	if len(inv) == 0 || inv[0] != "02/06" {
		t.Fatalf("expected targeted invalidation of 02/06, got %v", inv)
	}
}

func TestFailedCycleKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		rows: map[string]feed.RawRows{"02/06": feedRows("R$ 3.500,00")},
		keys: []string{"02/06"},
	}
	store := snapshot.New()
	audit := &fakeAudit{}
	p := NewPipeline(PipelineDeps{Source: source, Store: store, Hub: &fakeHub{}, Audit: audit})

	if err := p.RunScheduled(context.Background(), false); err != nil {
		t.Fatalf("first run: %v", err)
	}

	source.mu.Lock()
	source.errByKey = map[string]error{"02/06": feed.ErrUpstreamUnavailable}
	source.mu.Unlock()

	if err := p.RunScheduled(context.Background(), false); !errors.Is(err, feed.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	snap, ok := store.Get("02/06")
	if !ok || len(snap.Records) != 1 {
		t.Fatal("previous snapshot must survive a failed cycle")
	}

	runs, _ := audit.RecentRuns(context.Background(), 10)
	if len(runs) != 2 || runs[1].Status != "failed" || runs[1].Error == "" {
		t.Fatalf("failed cycle not audited: %+v", runs)
	}
}

func TestPeakModeInvalidatesAfterCycle(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		rows: map[string]feed.RawRows{"02/06": feedRows("R$ 3.500,00")},
		keys: []string{"02/06"},
	}
	p := NewPipeline(PipelineDeps{Source: source, Store: snapshot.New(), Hub: &fakeHub{}})

	if err := p.RunScheduled(context.Background(), true); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}
	if inv := source.invalidations(); len(inv) != 1 || inv[0] != "02/06" {
		t.Fatalf("peak cycle must invalidate its key, got %v", inv)
	}

	if err := p.RunScheduled(context.Background(), false); err != nil {
		t.Fatalf("off-peak run: %v", err)
	}
	if inv := source.invalidations(); len(inv) != 1 {
		t.Fatalf("off-peak cycle must not invalidate, got %v", inv)
	}
}

func TestMissingDatasetFallsBackToNextKey(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		rows: map[string]feed.RawRows{"26/05": feedRows("R$ 3.500,00")},
		keys: []string{"02/06", "26/05"},
	}
	store := snapshot.New()
	p := NewPipeline(PipelineDeps{Source: source, Store: store, Hub: &fakeHub{}})

	if err := p.RunScheduled(context.Background(), false); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}
	if _, ok := store.Get("26/05"); !ok {
		t.Fatal("fallback key not refreshed")
	}
}
