package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"PriceWatch/internal/config"
	"PriceWatch/internal/feed"
	"PriceWatch/internal/httpapi"
	"PriceWatch/internal/httputil"
	"PriceWatch/internal/hub"
	"PriceWatch/internal/infrastructure/htmltable"
	"PriceWatch/internal/infrastructure/sheets"
	"PriceWatch/internal/infrastructure/storage"
	"PriceWatch/internal/infrastructure/telegram"
	"PriceWatch/internal/logging"
	"PriceWatch/internal/ports"
	"PriceWatch/internal/snapshot"
	"PriceWatch/internal/sourceclient"
	"PriceWatch/internal/usecase"
)

const shutdownGrace = 10 * time.Second

// App wires configuration, adapters and the refresh pipeline together.
type App struct {
	cfg       config.Config
	logger    *slog.Logger
	source    *sourceclient.Client
	store     *snapshot.Store
	hub       *hub.Hub
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	server    *http.Server
	closeDB   func() error
}

// New assembles the application from configuration. Optional adapters
// (audit database, Telegram alerts) are wired only when configured.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.New(cfg.Logging.Level)

	fetcher, err := buildFetcher(cfg.Source)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Source.RatePerSecond > 0 {
		burst := cfg.Source.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Source.RatePerSecond), burst)
	}

	source := sourceclient.New(fetcher, sourceclient.Options{
		TTL:          cfg.Source.CacheTTL.Std(),
		FetchTimeout: cfg.Source.FetchTimeout.Std(),
		Retry: sourceclient.RetryPolicy{
			MaxAttempts: cfg.Source.MaxRetries,
			BaseDelay:   cfg.Source.RetryBaseDelay.Std(),
		},
		Limiter: limiter,
		Logger:  logging.Component(logger, "source"),
	})

	var audit ports.AuditRepository
	closeDB := func() error { return nil }
	if cfg.Database.DSN != "" {
		db, err := storage.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect audit database: %w", err)
		}
		audit = storage.NewPostgresRepository(db)
		closeDB = db.Close
	}

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	store := snapshot.New()
	wsHub := hub.New(logging.Component(logger, "hub"))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:   source,
		Store:    store,
		Hub:      wsHub,
		Audit:    audit,
		Notifier: notifier,
		Logger:   logging.Component(logger, "pipeline"),
	})
	scheduler := usecase.NewScheduler(pipeline, cfg.Scheduler, logging.Component(logger, "scheduler"))

	api := httpapi.NewServer(httpapi.ServerDeps{
		Store:       store,
		Source:      source,
		Pipeline:    pipeline,
		Scheduler:   scheduler,
		Hub:         wsHub,
		Audit:       audit,
		Logger:      logging.Component(logger, "http"),
		AdminAPIKey: cfg.HTTP.AdminAPIKey,
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		source:    source,
		store:     store,
		hub:       wsHub,
		pipeline:  pipeline,
		scheduler: scheduler,
		server:    server,
		closeDB:   closeDB,
	}, nil
}

func buildFetcher(src config.SourceConfig) (feed.Fetcher, error) {
	httpClient := httputil.NewHTTPClient(nil)

	registry := feed.NewRegistry()
	registry.Register(sheets.NewClient(src.BaseURL, src.APIKey, httpClient))
	registry.Register(htmltable.NewScanner(src.BaseURL, src.DatasetKeys, httpClient))

	return registry.Resolve(src.Fetcher)
}

// Run starts the scheduler and the HTTP listener and blocks until the
// context is cancelled or a termination signal arrives, then drains.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.scheduler.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listener started", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http listener: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	a.hub.Close()
	if dbErr := a.closeDB(); dbErr != nil && err == nil {
		err = dbErr
	}
	return err
}

// SyncOnce runs a single manual refresh cycle and exits; used by the CLI.
func (a *App) SyncOnce(ctx context.Context, datasetKey string) error {
	defer func() { _ = a.closeDB() }()
	return a.pipeline.ForceSync(ctx, datasetKey)
}
