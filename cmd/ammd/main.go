// ammd is the AMM core daemon: it owns the ledger store and exposes the
// quote/execution/settlement/poolsetup engines to whatever process embeds
// or calls into it.
//
// Architecture:
//
//	main.go                — entry point: loads config, opens the store, wires engines, waits for SIGINT/SIGTERM
//	internal/ledger         — SQLite-backed storage with one write mutex serializing all mutating transactions
//	internal/lmsr           — pure LMSR cost-function math
//	internal/quote          — read-only price/cost quoting over a pool's q-vector
//	internal/execution      — validates and fills an order intent, updates q/balances/positions
//	internal/poolsetup      — idempotent pool creation and parameter normalization
//	internal/settlement     — resolves a market's winning option and pays out winning positions
//	internal/scheduler      — periodic bucket open/close driver against poolsetup/settlement
//	internal/cache          — best-effort invalidation events fired after a trade commits
//
// ammd has no outbound HTTP or WebSocket surface: it is a library-shaped
// daemon, not a server. A caller embeds these engines directly or drives
// them via its own transport layer.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ammcore/internal/cache"
	"ammcore/internal/config"
	"ammcore/internal/execution"
	"ammcore/internal/ledger"
	"ammcore/internal/poolsetup"
	"ammcore/internal/scheduler"
	"ammcore/internal/settlement"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("AMM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	store, err := ledger.Open(cfg.Store.DSN, logger)
	if err != nil {
		logger.Error("failed to open ledger store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	invalidator := cache.NewChan(256, logger)
	go func() {
		for evt := range invalidator.Events() {
			logger.Debug("cache invalidation", "market_id", evt.MarketID, "option_id", evt.OptionID)
		}
	}()

	execEngine := execution.New(store, invalidator, logger)
	poolEngine := poolsetup.New(store, logger)
	settleEngine := settlement.New(store, logger)
	logger.Info("engines initialized", "execution", execEngine != nil, "poolsetup", poolEngine != nil, "settlement", settleEngine != nil)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.NoopSource{}, poolEngine, settleEngine, cfg.Scheduler.PollInterval, cfg.Scheduler.SettleConcurrency, logger)
		sched.Start()
		logger.Info("scheduler started", "poll_interval", cfg.Scheduler.PollInterval)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — mutating calls are expected to be rejected by callers")
	}

	logger.Info("amm core daemon started",
		"store_dsn", cfg.Store.DSN,
		"pool_model", cfg.Pool.DefaultModel,
		"scheduler_enabled", cfg.Scheduler.Enabled,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if sched != nil {
		sched.Stop()
	}

	logger.Info("shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
