// Harrier - Marketplace trust and safety that deploys in 60 seconds.
// Copyright (c) 2025 opensource.trust
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-trust/harrier/internal/activity"
	"github.com/opensource-trust/harrier/internal/api"
	"github.com/opensource-trust/harrier/internal/bus"
	"github.com/opensource-trust/harrier/internal/cache"
	"github.com/opensource-trust/harrier/internal/domain"
	"github.com/opensource-trust/harrier/internal/escalation"
	"github.com/opensource-trust/harrier/internal/notify"
	"github.com/opensource-trust/harrier/internal/repository"
	"github.com/opensource-trust/harrier/internal/rules"
	"github.com/opensource-trust/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// defaultTriggers are the built-in auto-escalation triggers available
// to rules and disputes out of the box.
var defaultTriggers = map[string]string{
	"high_risk_open":       `risk_score >= 75 && status == "open"`,
	"stalled_mediation":    `status == "mediation" && age_minutes > 2880`,
	"high_value_unhandled": `amount > 100000 && status == "open" && age_minutes > 60`,
	"repeat_escalation":    `escalation_level >= 2`,
	"evidence_pileup":      `evidence_count >= 5 && status != "escalated"`,
}

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	// Optional YAML config file layered over tier defaults
	if path := os.Getenv("HARRIER_CONFIG"); path != "" {
		loaded, err := domain.LoadConfig(path, cfg)
		if err != nil {
			slog.Error("failed to load config file", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = loaded
		slog.Info("config file loaded", "path", path)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Activity service: records activity and computes rule metrics
	activitySvc := activity.NewService(repo, cacheImpl)

	// Bus-backed notifier and idempotent action executor
	notifier := notify.NewBusNotifier(busImpl)
	executor := notify.NewExecutor(repo, busImpl)

	// Rule store with rules loaded from the repository
	store := rules.NewStore()
	if err := loadRulesFromDatabase(ctx, repo, store); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule store initialized", "rules_count", store.Count())

	// Detection pipeline
	evaluator := rules.NewEvaluator(activitySvc, activitySvc, cfg.Engine)
	triage := rules.NewTriage(cfg.Engine)
	detector := rules.NewService(store, evaluator, triage, activitySvc, repo, executor, notifier)

	// CEL auto-escalation triggers
	triggers, err := escalation.NewCELTriggers()
	if err != nil {
		slog.Error("failed to initialize trigger evaluator", "error", err)
		os.Exit(1)
	}
	for name, expr := range defaultTriggers {
		if err := triggers.Register(name, expr); err != nil {
			slog.Error("failed to register trigger", "trigger", name, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("trigger evaluator initialized", "triggers_count", triggers.Count())

	// Escalation scheduler and case lifecycle
	scheduler := escalation.NewScheduler(repo, triggers, notifier, triage.DisputePriority, cfg.Engine)
	lifecycle := escalation.NewLifecycle(repo, notifier, executor, triage.DisputePriority, cfg.Engine)

	// Worker: bus consumer plus the periodic sweeps
	w := worker.NewWorker(busImpl, repo, cacheImpl, detector, scheduler, activitySvc, cfg.Engine, cfg.Sweep)
	if err := w.Start(); err != nil {
		slog.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// Pro tier evaluates activities asynchronously via the bus
	async := cfg.Tier == domain.TierPro || os.Getenv("HARRIER_ASYNC") == "true"

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, store, detector, activitySvc, scheduler, lifecycle, Version, async)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"async", async,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop worker first so sweeps and consumers drain
	if err := w.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// loadRulesFromDatabase loads rules from the repository into the store.
// All rules are configured via POST /rules - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, store *rules.Store) error {
	dbRules, err := repo.ListRules(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return store.LoadRules(dbRules)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║              🦅 HARRIER                   ║")
	fmt.Println("  ║    Marketplace Trust & Safety Engine      ║")
	fmt.Println("  ║       Low and slow over the field.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /activities             - Record and evaluate an activity")
	fmt.Println("    POST /disputes               - File a dispute")
	fmt.Println("    GET  /cases                  - List cases")
	fmt.Println("    GET  /cases/{id}             - Get case by ID")
	fmt.Println("    POST /cases/{id}/escalate    - Escalate a case")
	fmt.Println("    POST /cases/{id}/investigate - Start investigating")
	fmt.Println("    POST /cases/{id}/mediate     - Move dispute to mediation")
	fmt.Println("    POST /cases/{id}/resolve     - Resolve a case")
	fmt.Println("    POST /cases/{id}/appeal      - Appeal a resolved dispute")
	fmt.Println("    POST /cases/{id}/close       - Close a resolved case")
	fmt.Println("    GET  /actors/{id}/profile    - Get actor risk profile")
	fmt.Println("    GET  /rules                  - List all rules")
	fmt.Println("    POST /rules                  - Create a new rule")
	fmt.Println("    POST /rules/reload           - Hot-reload rules from database")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
