// Package server builds the application's dependencies and runs the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/api"
	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/engine"
	collyfetcher "github.com/JakeFAU/sitecrawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitecrawler/internal/fetcher/headless"
	"github.com/JakeFAU/sitecrawler/internal/hash/sha256"
	"github.com/JakeFAU/sitecrawler/internal/hash/xxhash"
	"github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/progress"
	progresssinks "github.com/JakeFAU/sitecrawler/internal/progress/sinks"
	"github.com/JakeFAU/sitecrawler/internal/service"
	memorystore "github.com/JakeFAU/sitecrawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitecrawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/sitecrawler/internal/storage/sqlite"
)

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	registry    *prometheus.Registry
	progressHub *progress.Hub
	headless    *headlessfetcher.Fetcher
	engine      *engine.Engine
	store       crawler.SessionStore
	closeStore  func()
	service     *service.Service
	apiServer   *api.Server
	closeOnce   sync.Once
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:      cfg,
		logger:   logger,
		registry: metrics.NewRegistry(),
	}
	app.logger.Info("building application dependencies",
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	if err := app.setupProgress(ctx); err != nil {
		return nil, err
	}
	if err := app.setupStorage(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupEngine(); err != nil {
		app.Close(ctx)
		return nil, err
	}

	var err error
	app.service, err = service.New(service.Config{
		Defaults:     cfg.Crawl,
		StoreTimeout: cfg.Storage.Timeout,
	}, service.Deps{
		Store:   app.store,
		Engine:  app.engine,
		IDs:     uuid.New(),
		Clock:   system.New(),
		Emitter: app.progressHub,
		Logger:  logger,
	})
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("service init failed: %w", err)
	}

	httpMetrics, err := metrics.NewHTTP(app.registry)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("http metrics init failed: %w", err)
	}
	app.apiServer = api.NewServer(api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, app.service, httpMetrics, app.registry, logger)

	return app, nil
}

// Service returns the crawl session service.
func (a *App) Service() *service.Service {
	return a.service
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the HTTP API and blocks until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)
	return runErr
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Close stops running sessions and releases infrastructure. It is safe to
// call on a partially built App and more than once.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() { a.close(ctx) })
}

func (a *App) close(ctx context.Context) {
	if a.engine != nil {
		if err := a.engine.Shutdown(ctx); err != nil {
			a.logger.Warn("engine shutdown failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.closeStore != nil {
		a.closeStore()
	}
	a.logger.Info("shutdown complete", zap.Int64("progress_events_dropped", a.progressHub.Dropped()))
}

func (a *App) setupProgress(ctx context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if a.cfg.Progress.LogSink {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatch,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger,
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewSessionStore(ctx, pgstore.Config{
			DSN:             a.cfg.Storage.DSN,
			MaxConns:        a.cfg.Storage.MaxConns,
			MinConns:        a.cfg.Storage.MinConns,
			MaxConnLifetime: a.cfg.Storage.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.store = store
		a.closeStore = store.Close
		a.logger.Info("using postgres session store")
	case config.BackendSQLite:
		store, err := sqlitestore.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = store
		a.closeStore = func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("sqlite store close failed", zap.Error(err))
			}
		}
		a.logger.Info("using sqlite session store", zap.String("path", store.Path()))
	default:
		a.store = memorystore.NewSessionStore()
		a.logger.Info("using in-memory session store")
	}
	return nil
}

func (a *App) setupEngine() error {
	hasher, err := newHasher(a.cfg.Fetcher.HashAlgorithm)
	if err != nil {
		return err
	}
	static := collyfetcher.New(a.cfg.Fetcher.Config, hasher, a.logger)
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", a.cfg.Fetcher.UserAgent),
		zap.String("hash", a.cfg.Fetcher.HashAlgorithm),
	)

	deps := engine.Deps{
		Static:  static,
		IDs:     uuid.New(),
		Clock:   system.New(),
		Emitter: a.progressHub,
		Logger:  a.logger,
	}
	if a.cfg.Headless.Enabled {
		headlessCfg := a.cfg.Headless.Config
		if headlessCfg.UserAgent == "" {
			headlessCfg.UserAgent = a.cfg.Fetcher.UserAgent
		}
		a.headless, err = headlessfetcher.NewChromedp(headlessCfg, hasher, a.logger)
		if err != nil {
			return fmt.Errorf("headless fetcher init failed: %w", err)
		}
		deps.Rendering = a.headless
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.headless.MaxConcurrency()))
	}

	a.engine, err = engine.New(a.cfg.Engine, deps)
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}
	return nil
}

func newHasher(algorithm string) (crawler.Hasher, error) {
	switch algorithm {
	case "", config.HashSHA256:
		return sha256.New(), nil
	case config.HashXXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
}
