// Package main is the entrypoint for the jobwatch API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/kiranshivaraju/jobwatch/internal/api"
	"github.com/kiranshivaraju/jobwatch/internal/api/handler"
	mw "github.com/kiranshivaraju/jobwatch/internal/api/middleware"
	"github.com/kiranshivaraju/jobwatch/internal/backend"
	"github.com/kiranshivaraju/jobwatch/internal/cache"
	"github.com/kiranshivaraju/jobwatch/internal/catalog"
	"github.com/kiranshivaraju/jobwatch/internal/config"
	"github.com/kiranshivaraju/jobwatch/internal/lifecycle"
	"github.com/kiranshivaraju/jobwatch/internal/logging"
	"github.com/kiranshivaraju/jobwatch/internal/metrics"
	"github.com/kiranshivaraju/jobwatch/internal/registry"
	"github.com/kiranshivaraju/jobwatch/internal/simulator"
	"github.com/kiranshivaraju/jobwatch/internal/store"
	"github.com/kiranshivaraju/jobwatch/internal/validation"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	logger := logging.NewDefault()
	if err := run(); err != nil {
		logger.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info().Str("env", cfg.Server.Env).Str("backend", cfg.Backend.BaseURL).Msg("config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Wire storage, cache and the job tracking subsystem
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// 3. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info().Msg("server stopped gracefully")
	return nil
}

// app is the wired server. Close releases everything in reverse construction order.
type app struct {
	router     http.Handler
	registry   *registry.Registry
	controller *lifecycle.Controller
	catalog    *catalog.Catalog
	simulator  *simulator.Simulator
	validation *validation.Orchestrator

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}
	checks := map[string]handler.Pinger{}

	// History archive, optional
	var history store.HistoryStore = store.NopStore{}
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		logger.Info().Msg("database connected")

		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			a.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info().Msg("database migrations applied")

		pg := store.NewPostgresStore(pool)
		history = pg
		checks["database"] = pg
	}

	// Result memo and rate-limit counters: Redis when configured, in-memory otherwise
	var c cache.Cache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		if err := rc.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info().Msg("redis connected")
		c = rc
	} else {
		c = cache.NewMemoryCache()
		logger.Info().Msg("using in-memory cache")
	}
	checks["cache"] = c

	client := backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	checks["backend"] = handler.PingFunc(client.Ready)

	a.registry = registry.New()
	a.controller = lifecycle.NewController(client, a.registry, history, lifecycle.Options{
		Interval:     cfg.Polling.Interval,
		MaxAttempts:  cfg.Polling.MaxAttempts,
		MaxDuration:  cfg.Polling.MaxDuration,
		CancelPolicy: lifecycle.CancelPolicy(cfg.Polling.CancelPolicy),
	}, logger)
	a.closers = append(a.closers, a.controller.Close)

	a.catalog = catalog.New(client, logger)
	a.catalog.Register(a.controller)

	a.simulator = simulator.New(client, simulator.Options{
		Debounce:      cfg.Simulator.Debounce,
		RiskThreshold: cfg.Simulator.RiskThreshold,
		MinReduction:  cfg.Simulator.MinReduction,
	}, logger)
	a.closers = append(a.closers, a.simulator.Close)

	a.validation = validation.NewOrchestrator(client, a.controller, c, cfg.Validation.MemoTTL, logger)
	a.closers = append(a.closers, a.validation.Close)
	a.catalog.OnDatasetSelected(a.validation.SelectDataset)

	if err := a.catalog.RefreshAll(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial catalog refresh failed, continuing with empty catalog")
	}

	if cfg.Registry.Retention > 0 {
		pruneCtx, cancel := context.WithCancel(ctx)
		a.closers = append(a.closers, cancel)
		go pruneLoop(pruneCtx, a.registry, cfg.Registry, logger)
	}

	jobs := handler.NewJobsHandler(a.registry, a.controller, history)
	cat := handler.NewCatalogHandler(a.catalog)
	sim := handler.NewSimulatorHandler(a.simulator)
	val := handler.NewValidationHandler(a.validation, a.catalog)

	a.router = api.NewRouter(api.Dependencies{
		Logger:    logging.Component(logger, "http"),
		RateLimit: mw.NewRateLimit(c, cfg.Server.RateLimitPerMinute),

		HealthHandler:  handler.NewHealthHandler(checks),
		MetricsHandler: metrics.Handler(),

		ListJobs:    jobs.List,
		ActiveJobs:  jobs.Active,
		GetJob:      jobs.Get,
		CreateJob:   jobs.Create,
		CancelJob:   jobs.Cancel,
		RemoveJob:   jobs.Remove,
		ListHistory: jobs.History,

		GetCatalog:    cat.Get,
		SelectDataset: cat.SelectDataset,

		GetSimulator:          sim.Get,
		SetSimulatorContext:   sim.SetContext,
		SetSimulatorOverrides: sim.SetOverrides,

		GetValidation:           val.Get,
		SelectValidationDataset: val.SelectDataset,
		LoadValidation:          val.Load,
		RecomputeValidation:     val.Recompute,
	})
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// pruneLoop drops finished jobs older than the retention until ctx ends.
func pruneLoop(ctx context.Context, reg *registry.Registry, cfg config.RegistryConfig, logger zerolog.Logger) {
	interval := cfg.PruneInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := reg.Prune(now.Add(-cfg.Retention)); n > 0 {
				logger.Debug().Int("pruned", n).Msg("pruned finished jobs")
			}
		}
	}
}
