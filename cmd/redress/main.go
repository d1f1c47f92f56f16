// Redress - Deterministic bank-compensation engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/redress/internal/api"
	"github.com/opensource-finance/redress/internal/bus"
	"github.com/opensource-finance/redress/internal/cache"
	"github.com/opensource-finance/redress/internal/compensation"
	"github.com/opensource-finance/redress/internal/config"
	"github.com/opensource-finance/redress/internal/domain"
	"github.com/opensource-finance/redress/internal/legacy"
	"github.com/opensource-finance/redress/internal/metrics"
	"github.com/opensource-finance/redress/internal/repository"
	"github.com/opensource-finance/redress/internal/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("REDRESS_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redress: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)
	if cfg.Tracing.Enabled {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}

	slog.Info("starting redress",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"default_repo_rate", cfg.Compensation.DefaultRepoRate,
		"default_savings_rate", cfg.Compensation.DefaultSavingsRate,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := newLegacyEngine(cfg.Compensation)
	if err != nil {
		slog.Error("failed to initialize legacy engine", "error", err)
		os.Exit(1)
	}
	slog.Info("legacy engine initialized", "rules_count", engine.RulesCount())

	m := metrics.New()

	svc := compensation.NewService(cfg.Compensation,
		[]domain.Strategy{
			compensation.NewLegacyStrategy(engine),
			compensation.NewScenarioStrategy(cfg.Compensation),
		},
		compensation.WithRepository(repo),
		compensation.WithCache(cacheImpl),
		compensation.WithEventBus(busImpl),
		compensation.WithMetrics(m),
	)
	slog.Info("compensation service initialized", "strategies", svc.Strategies())

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc)
		workerCfg := worker.Config{
			TenantIDs:   cfg.Worker.Tenants,
			WorkerCount: cfg.Worker.Count,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Service:    svc,
		Engine:     engine,
		Repository: repo,
		Cache:      cacheImpl,
		EventBus:   busImpl,
		Metrics:    m,
	}, Version)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("redress is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	slog.Info("redress shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	level, _ := config.ParseLevel(cfg.Level)
	if os.Getenv("REDRESS_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// newLegacyEngine uses the configured rule file, or the built-in table.
func newLegacyEngine(cfg domain.CompensationConfig) (*legacy.Engine, error) {
	if cfg.LegacyRulesPath == "" {
		return legacy.NewEngine(nil)
	}

	rules, err := legacy.LoadRulesFile(cfg.LegacyRulesPath)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded legacy rule table", "path", cfg.LegacyRulesPath, "count", len(rules))
	return legacy.NewEngine(rules)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  REDRESS  deterministic bank-compensation engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /compensation/calculate         - Calculate one request")
	fmt.Println("    POST /compensation/batch             - Calculate many requests")
	fmt.Println("    GET  /compensation/calculations      - List recent calculations")
	fmt.Println("    GET  /compensation/calculations/{id} - Get a calculation")
	fmt.Println("    GET  /compensation/rules             - Legacy rule table")
	fmt.Println("    GET  /compensation/scenarios         - Named scenarios")
	fmt.Println("    GET  /health                         - Health check")
	fmt.Println("    GET  /metrics                        - Prometheus metrics")
	fmt.Println()
}
