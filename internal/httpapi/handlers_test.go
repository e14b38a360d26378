package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PriceWatch/internal/config"
	"PriceWatch/internal/domain"
	"PriceWatch/internal/feed"
	"PriceWatch/internal/hub"
	"PriceWatch/internal/snapshot"
	"PriceWatch/internal/usecase"
)

type stubSource struct {
	mu             sync.Mutex
	rows           feed.RawRows
	delay          time.Duration
	invalidatedAll atomic.Bool
}

func (s *stubSource) Fetch(ctx context.Context, datasetKey string) (feed.RawRows, error) {
	return s.serve(ctx)
}

func (s *stubSource) FetchFresh(ctx context.Context, datasetKey string) (feed.RawRows, error) {
	return s.serve(ctx)
}

func (s *stubSource) serve(ctx context.Context) (feed.RawRows, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, nil
}

func (s *stubSource) ListKeys(ctx context.Context) ([]string, error) {
	return []string{"02/06"}, nil
}

func (s *stubSource) Invalidate(datasetKey string) {}

func (s *stubSource) InvalidateAll() { s.invalidatedAll.Store(true) }

func defaultRows() feed.RawRows {
	return feed.RawRows{
		{"Fornecedor", "Categoria", "Modelo", "Armazenamento", "Regiao", "Cor", "Preco", "Atualizado"},
		{"TechSupply", "Smartphone", "iPhone 15", "128GB", "SP", "Blue", "R$ 3.500,00", ""},
	}
}

type testApp struct {
	server *Server
	source *stubSource
	store  *snapshot.Store
}

func newTestApp(t *testing.T, adminKey string) *testApp {
	t.Helper()

	source := &stubSource{rows: defaultRows()}
	store := snapshot.New()
	h := hub.New(nil)
	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source: source,
		Store:  store,
		Hub:    h,
	})
	scheduler := usecase.NewScheduler(pipeline, config.SchedulerConfig{
		PeakInterval:    config.Duration(15 * time.Minute),
		OffPeakInterval: config.Duration(2 * time.Hour),
	}, nil)

	server := NewServer(ServerDeps{
		Store:       store,
		Source:      source,
		Pipeline:    pipeline,
		Scheduler:   scheduler,
		Hub:         h,
		AdminAPIKey: adminKey,
	})
	return &testApp{server: server, source: source, store: store}
}

func (a *testApp) seedSnapshot(key string) {
	a.store.Commit(&domain.Snapshot{
		DatasetKey: key,
		FetchedAt:  time.Now(),
		Records: []domain.ProductRecord{
			{SKU: "IPHONE-15-128GB-BLUE", Model: "iPhone 15", Supplier: "TechSupply", Price: 3500},
		},
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "")
	router := app.server.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/sheet-change",
		strings.NewReader(`{"datasetKeyHint":"02/06","rowHint":"7","columnHint":"B"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("webhook must answer 200, got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["status"]; got != "started" {
		t.Fatalf("expected started, got %v", got)
	}

	// Malformed body is still a 200: the signal is advisory.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook/sheet-change", strings.NewReader("{not json"))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("malformed webhook must answer 200, got %d", rec.Code)
	}
}

func TestWebhookDeferredWhileBusy(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "")
	app.source.delay = 200 * time.Millisecond
	router := app.server.Router()

	fire := func() string {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhook/sheet-change",
			strings.NewReader(`{"datasetKeyHint":"02/06"}`))
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("webhook must answer 200, got %d", rec.Code)
		}
		return decodeBody(t, rec)["status"].(string)
	}

	if got := fire(); got != "started" {
		t.Fatalf("first signal: expected started, got %s", got)
	}
	if got := fire(); got != "deferred" {
		t.Fatalf("second signal: expected deferred, got %s", got)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "")
	app.seedSnapshot("02/06")
	router := app.server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots/02%2F06", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown key, got %d", rec.Code)
	}
}

func TestDatasetsEndpoint(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "")
	app.seedSnapshot("02/06")
	router := app.server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/datasets", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	keys, ok := body["datasets"].([]any)
	if !ok || len(keys) != 1 || keys[0] != "02/06" {
		t.Fatalf("unexpected datasets payload: %v", body)
	}
}

func TestAdminRequiresAPIKey(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "sesame")
	router := app.server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key must be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("X-Api-Key", "wrong")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key must be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("X-Api-Key", "sesame")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid key must pass, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["mode"] == nil || body["intervalMs"] == nil || body["inProgress"] == nil {
		t.Fatalf("status payload incomplete: %v", body)
	}
}

func TestForceSyncConflictWhileBusy(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "")
	app.source.delay = 200 * time.Millisecond
	router := app.server.Router()

	started := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/sync", strings.NewReader(`{"datasetKey":"02/06"}`))
		router.ServeHTTP(rec, req)
		started <- rec.Code
	}()

	deadline := time.Now().Add(time.Second)
	for !app.server.pipeline.InProgress() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/sync", strings.NewReader(`{"datasetKey":"02/06"}`))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("concurrent sync must conflict, got %d", rec.Code)
	}

	if code := <-started; code != http.StatusOK {
		t.Fatalf("first sync should complete, got %d", code)
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "")
	router := app.server.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/cache/clear", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !app.source.invalidatedAll.Load() {
		t.Fatal("cache clear did not reach the source")
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "")
	rec := httptest.NewRecorder()
	app.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuditEndpointWithoutDatabase(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "")
	rec := httptest.NewRecorder()
	app.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("audit without database must answer 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	runs, ok := body["runs"].([]any)
	if !ok || len(runs) != 0 {
		t.Fatalf("expected empty runs list, got %v", body)
	}
}
