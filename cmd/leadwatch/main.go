// LeadWatch - Fraud signals for CRM lead and click traffic.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/leadwatch/internal/api"
	"github.com/opensource-finance/leadwatch/internal/bus"
	"github.com/opensource-finance/leadwatch/internal/cache"
	"github.com/opensource-finance/leadwatch/internal/config"
	"github.com/opensource-finance/leadwatch/internal/detect"
	"github.com/opensource-finance/leadwatch/internal/domain"
	"github.com/opensource-finance/leadwatch/internal/filter"
	"github.com/opensource-finance/leadwatch/internal/repository"
	"github.com/opensource-finance/leadwatch/internal/telemetry"
	"github.com/opensource-finance/leadwatch/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := os.Getenv("LEADWATCH_CONFIG_FILE")
	if configPath == "" {
		configPath = "leadwatch.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting leadwatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"worker", cfg.Worker.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("leadwatch failed", "error", err)
		os.Exit(1)
	}
	slog.Info("leadwatch shutdown complete")
}

func run(ctx context.Context, cfg *domain.Config) error {
	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	metrics := telemetry.New()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Detection Engine
	engine, err := detect.NewEngine(repo, cfg.Detection, detect.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to initialize detection engine: %w", err)
	}
	slog.Info("detection engine initialized",
		"ip_spam_window", cfg.Detection.IPSpamWindow.String(),
		"rapid_fire_window", cfg.Detection.RapidFireWindow.String(),
		"vpn_window", cfg.Detection.VPNWindow.String(),
		"bot_window", cfg.Detection.BotWindow.String(),
		"duplicate_window", cfg.Detection.DuplicateWindow.String(),
	)

	filters, err := filter.NewCompiler(0)
	if err != nil {
		return fmt.Errorf("failed to initialize filter compiler: %w", err)
	}

	// Initialize scan worker
	var scanWorker *worker.Worker
	if cfg.Worker.Enabled {
		scanWorker, err = worker.NewWorker(busImpl, engine, cfg.Worker, worker.WithMetrics(metrics))
		if err != nil {
			return fmt.Errorf("failed to initialize scan worker: %w", err)
		}
		if err := scanWorker.Start(); err != nil {
			return fmt.Errorf("failed to start scan worker: %w", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:     repo,
		Engine:   engine,
		Filters:  filters,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Metrics:  metrics,
		AlertTTL: cfg.Cache.AlertTTL,
		StatsTTL: cfg.Cache.StatsTTL,
		Version:  Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	slog.Info("leadwatch is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop the worker first so no scan publishes into a closing bus
	if scanWorker != nil {
		if err := scanWorker.Stop(); err != nil {
			slog.Error("failed to stop scan worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  LEADWATCH")
	fmt.Println("  Fraud signals for lead and click traffic.")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /alerts            - Ranked fraud alert feed")
	fmt.Println("    GET  /stats             - Fraud rate summary")
	fmt.Println("    GET  /report            - Alerts and stats in one pass")
	fmt.Println("    POST /scan              - Queue a background scan")
	fmt.Println("    POST /clicks            - Record a click")
	fmt.Println("    POST /leads             - Record a lead")
	fmt.Println("    PUT  /users/{id}        - Upsert a user profile")
	fmt.Println("    GET  /users/{id}        - Get a user profile")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	fmt.Println()
}
