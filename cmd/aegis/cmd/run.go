package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	inhttp "github.com/hmcelik/aegis-moderation/internal/adapter/inbound/http"
	"github.com/hmcelik/aegis-moderation/internal/adapter/outbound/cel"
	"github.com/hmcelik/aegis-moderation/internal/adapter/outbound/httpapi"
	"github.com/hmcelik/aegis-moderation/internal/adapter/outbound/memory"
	"github.com/hmcelik/aegis-moderation/internal/adapter/outbound/sqlite"
	"github.com/hmcelik/aegis-moderation/internal/adapter/outbound/telegram"
	"github.com/hmcelik/aegis-moderation/internal/config"
	"github.com/hmcelik/aegis-moderation/internal/domain/budget"
	"github.com/hmcelik/aegis-moderation/internal/domain/outbox"
	"github.com/hmcelik/aegis-moderation/internal/domain/policy"
	"github.com/hmcelik/aegis-moderation/internal/domain/rollup"
	"github.com/hmcelik/aegis-moderation/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the moderation core",
	Long: `Start the moderation core: sharded queue workers, verdict pipeline,
outbox dispatcher, rollup scheduler, and the observability HTTP endpoint.

Message ingress attaches through the queue's publish API; this process owns
everything downstream of it.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Server.LogLevel)
	if used := config.ConfigFileUsed(); used != "" {
		logger.Info("loaded config", "file", used)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	var (
		db          *sqlite.DB
		outboxStore outbox.Store
		usageStore  rollup.UsageStore
		rollupStore rollup.RollupStore
	)
	switch cfg.Storage.Mode {
	case "sqlite":
		db, err = sqlite.Open(ctx, cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		outboxStore = sqlite.NewOutboxStore(db)
		usageStore = sqlite.NewUsageStore(db)
		rollupStore = sqlite.NewRollupStore(db)
	default:
		outboxStore = memory.NewOutboxStore()
		usageStore = memory.NewUsageStore()
		rollupStore = memory.NewRollupStore()
	}

	budgetStore, err := buildBudgetStore(cfg, db, logger)
	if err != nil {
		return err
	}

	// Policy engines: defaults plus per-tenant rule files.
	evaluator, err := cel.NewEvaluator(logger)
	if err != nil {
		return err
	}
	thresholds := policy.Thresholds{
		Block:  cfg.Policy.BlockThreshold,
		Review: cfg.Policy.ReviewThreshold,
	}
	defaultEngine := policy.NewEngine(thresholds)
	for _, r := range policy.DefaultRules() {
		if err := defaultEngine.AddRule(r); err != nil {
			return err
		}
	}

	// Platform client.
	platform, err := telegram.NewClient(telegram.Config{
		BotToken:                cfg.Platform.BotToken,
		APIURL:                  cfg.Platform.APIURL,
		MaxRetries:              cfg.Platform.MaxRetries,
		BaseDelay:               cfg.Platform.BaseDelay,
		MaxDelay:                cfg.Platform.MaxDelay,
		CircuitBreakerThreshold: cfg.Platform.CircuitBreakerThreshold,
		CircuitBreakerResetTime: cfg.Platform.CircuitBreakerResetTime,
		RateLimit:               cfg.Platform.RateLimit,
	}, logger)
	if err != nil {
		return err
	}

	// Services.
	cache := service.NewVerdictCache(service.VerdictCacheConfig{
		TTL:             cfg.Cache.TTL,
		MaxEntries:      cfg.Cache.MaxEntries,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, logger)
	defer cache.Destroy()

	enforcer := service.NewBudgetEnforcer(budgetStore, cfg.Budget.SnapshotTTL, logger)

	outboxMgr := service.NewOutboxManager(outboxStore, platform, service.OutboxManagerConfig{
		MaxRetries:       cfg.Outbox.MaxRetries,
		DispatchInterval: cfg.Outbox.DispatchInterval,
	}, logger)

	// A crash may have orphaned in-flight entries; put them back first.
	if _, err := outboxMgr.Recover(ctx); err != nil {
		return err
	}

	if cfg.AI.Enabled {
		// The scorer is an external collaborator wired by embedders of this
		// core; the shipped binary runs the rule pipeline alone.
		logger.Warn("ai.enabled is set but no scorer adapter is linked; running rules-only")
	}

	strikes := service.NewStrikeCounter()
	worker := service.NewModerationWorker(
		defaultEngine, cache, enforcer, nil, outboxMgr,
		usageStore, strikes, nil, cfg.Cache.TTL, logger)

	if cfg.Policy.TenantRulesFile != "" {
		rules, err := config.LoadTenantRules(cfg.Policy.TenantRulesFile)
		if err != nil {
			return err
		}
		for _, tr := range rules.Tenants {
			engine, err := evaluator.BuildEngine(thresholds, tr)
			if err != nil {
				return fmt.Errorf("tenant %s: %w", tr.TenantID, err)
			}
			worker.SetTenantEngine(tr.TenantID, engine)
		}
		logger.Info("tenant rules loaded",
			"file", cfg.Policy.TenantRulesFile,
			"tenants", len(rules.Tenants))
	}

	queueMgr, err := service.NewShardManager(service.ShardManagerConfig{
		PartitionCount:         cfg.Queue.PartitionCount,
		Concurrency:            cfg.Queue.Concurrency,
		MaxConcurrencyPerShard: cfg.Queue.MaxConcurrencyPerShard,
		HighWatermark:          cfg.Queue.HighWatermark,
		PublishWait:            cfg.Queue.PublishWait,
		MaxJobRetries:          cfg.Queue.MaxJobRetries,
		RetryBaseDelay:         cfg.Queue.RetryBaseDelay,
		RetryMaxDelay:          cfg.Queue.RetryMaxDelay,
		ShardRate:              cfg.Queue.ShardRate,
		ShutdownGrace:          cfg.Queue.ShutdownGrace,
	}, worker, logger)
	if err != nil {
		return err
	}

	rollupSvc := service.NewRollupService(usageStore, rollupStore, logger)
	if err := rollupSvc.Start(cfg.Rollup.ScheduleCron); err != nil {
		return err
	}
	defer rollupSvc.Stop()

	// Observability endpoint.
	reg := prometheus.NewRegistry()
	srv := inhttp.NewServer(cfg.Server.HTTPAddr, inhttp.Sources{
		Queue:    queueMgr,
		Worker:   worker,
		Cache:    cache,
		Outbox:   outboxMgr,
		Platform: platform,
	}, reg, logger)
	srv.SetStatsExtras(inhttp.StatsExtras{Budget: enforcer, Strikes: strikes})
	if db != nil {
		srv.AddHealthCheck("sqlite", db)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	queueMgr.Start()
	outboxMgr.StartDispatcher()
	logger.Info("moderation core running",
		"partitions", cfg.Queue.PartitionCount,
		"concurrency", cfg.Queue.Concurrency,
		"storage", cfg.Storage.Mode)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("observability endpoint failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownGrace+5*time.Second)
	defer cancel()

	if err := queueMgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("queue drained incompletely", "error", err)
	}
	outboxMgr.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	logger.Info("moderation core stopped")
	return nil
}

// buildBudgetStore selects the budget backend per config.
func buildBudgetStore(cfg *config.Config, db *sqlite.DB, logger *slog.Logger) (budget.Store, error) {
	switch cfg.Budget.Mode {
	case "http":
		return httpapi.NewBudgetStore(httpapi.BudgetStoreConfig{
			BaseURL: cfg.Budget.ServiceURL,
			APIKey:  cfg.Budget.APIKey,
			Timeout: cfg.Budget.Timeout,
		}, logger)
	case "sqlite":
		if db == nil {
			return nil, fmt.Errorf("budget.mode sqlite requires storage.mode sqlite")
		}
		return sqlite.NewBudgetStore(db), nil
	default:
		return memory.NewBudgetStore(), nil
	}
}

// newLogger builds the process logger: text on stderr at the configured
// level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
