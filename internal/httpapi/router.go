package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"PriceWatch/internal/hub"
	"PriceWatch/internal/ports"
	"PriceWatch/internal/usecase"
)

// Server exposes the read API, the change webhook, the WebSocket stream and
// the admin surface over one mux router.
type Server struct {
	store     ports.SnapshotStore
	source    ports.RowSource
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	hub       *hub.Hub
	audit     ports.AuditRepository
	logger    *slog.Logger

	adminAPIKey string
	upgrader    websocket.Upgrader
}

// ServerDeps carries everything the HTTP layer needs. Audit is optional.
type ServerDeps struct {
	Store       ports.SnapshotStore
	Source      ports.RowSource
	Pipeline    *usecase.Pipeline
	Scheduler   *usecase.Scheduler
	Hub         *hub.Hub
	Audit       ports.AuditRepository
	Logger      *slog.Logger
	AdminAPIKey string
}

// NewServer builds the HTTP layer over the assembled application.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		store:       deps.Store,
		source:      deps.Source,
		pipeline:    deps.Pipeline,
		scheduler:   deps.Scheduler,
		hub:         deps.Hub,
		audit:       deps.Audit,
		logger:      deps.Logger,
		adminAPIKey: deps.AdminAPIKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Subscribers are read-only dashboards; origin checks stay
			// with the reverse proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router assembles all routes with recovery, request-id and logging
// middleware applied to every handler.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/webhook/sheet-change", s.handleSheetChange).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/snapshots/{key:.+}", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/datasets", s.handleDatasets).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAPIKey)
	admin.HandleFunc("/sync", s.handleForceSync).Methods(http.MethodPost)
	admin.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	admin.HandleFunc("/cache/clear", s.handleCacheClear).Methods(http.MethodPost)
	admin.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)

	r.Use(s.requestID, s.logRequests)

	return handlers.RecoveryHandler(handlers.RecoveryLogger(&recoveryLogger{logger: s.logger}))(r)
}

// recoveryLogger adapts slog to the gorilla recovery handler.
type recoveryLogger struct {
	logger *slog.Logger
}

func (l *recoveryLogger) Println(v ...any) {
	if l.logger != nil {
		l.logger.Error("panic recovered in http handler", "detail", v)
	}
}
