package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/filops/filops/internal/adapter/geomgr"
	fohttp "github.com/filops/filops/internal/adapter/http"
	fonats "github.com/filops/filops/internal/adapter/nats"
	otelx "github.com/filops/filops/internal/adapter/otel"
	"github.com/filops/filops/internal/adapter/postgres"
	"github.com/filops/filops/internal/adapter/ristretto"
	"github.com/filops/filops/internal/adapter/synapse"
	"github.com/filops/filops/internal/config"
	"github.com/filops/filops/internal/domain/policy"
	"github.com/filops/filops/internal/logger"
	"github.com/filops/filops/internal/resilience"
	"github.com/filops/filops/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, yamlPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"config_file", yamlPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP re-reads the YAML/env config. Infrastructure built from the
	// old snapshot keeps running until restart.
	holder := config.NewHolder(cfg, yamlPath)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := holder.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}
			slog.Info("config reloaded", "config_file", yamlPath, "log_level", holder.Get().Logging.Level)
		}
	}()

	// --- Observability ---

	otelShutdown, err := otelx.Setup(ctx, cfg.Otel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := otelx.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	bus, err := fonats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats connected")

	providerCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer providerCache.Close()

	// --- External clients ---

	breakers := map[string]*resilience.Breaker{
		"geomgr":  resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
		"synapse": resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
	}

	selector := geomgr.NewClient(cfg.GeoMgr)
	selector.SetBreaker(breakers["geomgr"])
	selector.SetCache(providerCache)

	dealer := synapse.NewClient(cfg.Synapse)
	dealer.SetBreaker(breakers["synapse"])

	// --- Services ---

	store := postgres.NewStore(pool)
	validator := policy.NewValidator(cfg.Compliance.MinUnitCostUSD)

	policies := service.NewPolicyService(store, bus, validator)
	actions := service.NewActionService(store, bus, dealer, cfg.Synapse, metrics)
	registry := service.NewRegistryService(store, bus, cfg.Registry, metrics)
	compliance := service.NewComplianceService(store, bus, selector, actions, metrics)
	registry.SetLoopRunner(compliance)
	compliance.SetReporter(registry)
	defer registry.Close()

	// --- HTTP ---

	handlers := &fohttp.Handlers{
		Policies: policies,
		Registry: registry,
		Actions:  actions,
		Bus:      bus,
		DB:       pool,
		Breakers: breakers,
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(fohttp.RequestID)
	r.Use(fohttp.Logger)
	r.Use(fohttp.CORS(cfg.Server.CORSOrigin))
	r.Use(otelx.HTTPMiddleware(cfg.Logging.Service))

	fohttp.MountRoutes(r, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := bus.Drain(); err != nil {
		slog.Warn("nats drain", "error", err)
	}
	return nil
}
