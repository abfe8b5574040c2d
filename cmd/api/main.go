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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rle/grps/internal/app"
	"github.com/rle/grps/internal/auth"
	"github.com/rle/grps/internal/guard"
	"github.com/rle/grps/internal/handler"
	"github.com/rle/grps/internal/infra"
	"github.com/rle/grps/internal/policy"
	"github.com/rle/grps/internal/provider"
	"github.com/rle/grps/internal/repository"
	"github.com/rle/grps/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := infra.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// The ladder is required; without it no rank can be resolved.
	rankPolicy, err := policy.LoadFile(cfg.RankPolicyFile())
	if err != nil {
		return fmt.Errorf("load rank policy: %w", err)
	}
	logger.Info("rank policy loaded", "path", cfg.RankPolicyFile(), "ranks", len(rankPolicy.Ranks()))

	if cfg.AutoMigrate {
		if err := infra.RunMigrations(cfg.DSN(), infra.FindMigrationDir(), logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Connect to Postgres
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := infra.MustNewMetrics(registry)

	// External providers
	roblox := provider.NewRobloxClient(provider.RobloxConfig{
		APIKey:        cfg.RobloxAPIKey,
		GroupID:       cfg.RobloxGroupID,
		APIBaseURL:    cfg.RobloxAPIBaseURL,
		GroupsBaseURL: cfg.RobloxGroupsBaseURL,
		Timeout:       cfg.ExternalTimeout,
	}, metrics, logger)
	var breaker *guard.CircuitBreaker
	if cfg.CircuitThreshold > 0 {
		breaker = guard.NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitReset)
	}
	platform := guard.NewGuardedPlatform(roblox, breaker, logger)

	// Repositories
	repos := service.Repos{
		DB:        pool,
		Tx:        repository.NewTxRunner(pool),
		Players:   repository.NewPlayerRepository(),
		Snapshots: repository.NewSnapshotRepository(),
		Outbox:    repository.NewOutboxRepository(),
	}

	svcs := app.BuildServices(cfg, rankPolicy, repos, platform, metrics, logger)

	deps := app.RouterDeps{
		Services:        svcs,
		Repos:           repos,
		DB:              pool,
		Metrics:         metrics,
		Logger:          logger,
		APIKeyHeader:    cfg.APIKeyHeader,
		APIKeys:         cfg.InboundAPIKeys,
		SignatureSecret: cfg.AutomationSignatureSecret,
		CORSOrigins:     cfg.CORSAllowedOrigins,
	}
	if cfg.StaffJWTSecret != "" {
		deps.StaffJWT = auth.NewJWTManager(cfg.StaffJWTSecret, cfg.StaffJWTExpiry)
	} else {
		logger.Warn("STAFF_JWT_SECRET not set; automation routes are unauthenticated")
	}
	if cfg.RateLimitRPS > 0 {
		deps.RateLimiter = handler.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second + cfg.ExternalTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := svcs.Automation.Drain(shutdownCtx); err != nil {
		logger.Warn("datastore mirrors still in flight at shutdown", "error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
