// Futures market maker — an automated market-making and inventory-management
// bot for a single futures symbol.
//
// Architecture:
//
//	main.go                — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go       — lifecycle orchestrator: wires adapter → strategy → store
//	strategy/engine.go     — the control loop: derive quotes, reconcile orders, protect the position
//	strategy/coordinator.go— per-slot operation locking, price guards, precision rounding
//	strategy/plan.go       — minimal cancel+place diff between live and desired orders
//	strategy/protect.go    — stop-loss state machine, loss-limit flush, rate-limit emergency stop
//	market/depth.go        — local order book mirror: top-of-book, depth imbalance
//	exchange/client.go     — signed REST client (place/cancel orders, listen key)
//	exchange/ws.go         — market + user WebSocket feeds with auto-reconnect
//	exchange/backoff.go    — reactive 429 backoff gating every control cycle
//	store/store.go         — JSON file persistence for session state
//
// How it makes money:
//
//	The bot quotes both sides of the book around the touch and earns the
//	spread when both entries fill. Any open position is immediately hedged
//	with a protective stop, closed reduce-only when the book turns against
//	it, and force-flattened when the loss budget is reached.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/config"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MM_CONFIG"); p != "" {
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

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("market maker started",
		"symbol", cfg.Trading.Symbol,
		"mode", cfg.Mode,
		"trade_amount", cfg.Trading.TradeAmount,
		"loss_limit", cfg.Risk.LossLimit,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
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
