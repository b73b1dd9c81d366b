// Package engine is the lifecycle orchestrator of the bot.
//
// It wires together all subsystems:
//
//  1. The exchange adapter (REST client + market/user WebSocket feeds).
//  2. The strategy engine running the Maker / Offset-Maker control loop.
//  3. The session store persisting volume and the last position.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/config"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/exchange"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/store"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/strategy"
)

// Engine owns the lifecycle of all goroutines: feeds, strategy loop, and the
// snapshot drain that keeps the last state for persistence.
type Engine struct {
	cfg      config.Config
	adapter  *exchange.Adapter
	strategy *strategy.Engine
	store    *store.Store
	logger   *slog.Logger

	mu   sync.Mutex
	last strategy.Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	adapter := exchange.NewAdapter(cfg, logger)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:      cfg,
		adapter:  adapter,
		strategy: strategy.NewEngine(cfg, adapter, logger),
		store:    st,
		logger:   logger.With("component", "lifecycle"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches all background goroutines: both WS feeds, the strategy
// control loop, and the snapshot drain.
func (e *Engine) Start() error {
	if prev, err := e.store.LoadSession(e.cfg.Trading.Symbol); err != nil {
		e.logger.Warn("failed to load previous session", "error", err)
	} else if prev != nil {
		e.logger.Info("previous session found",
			"volume", prev.SessionVolume,
			"updated_at", prev.UpdatedAt,
		)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.adapter.RunMarketFeed(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.adapter.RunUserFeed(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("user feed error", "error", err)
		}
	}()

	snapshots, unsubscribe := e.strategy.Subscribe()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-e.ctx.Done():
				return
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				e.mu.Lock()
				e.last = snap
				e.mu.Unlock()
			}
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.strategy.Run(e.ctx)
	}()

	return nil
}

// Snapshot returns the most recent strategy snapshot.
func (e *Engine) Snapshot() strategy.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Stop gracefully shuts down: cancels all goroutines (the strategy engine
// sends its own cancel-all on the way out), persists the session, and closes
// resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	last := e.last
	e.mu.Unlock()

	if err := e.store.SaveSession(store.SessionState{
		Symbol:        e.cfg.Trading.Symbol,
		SessionVolume: last.SessionVolume,
		LastPosition:  last.Position,
	}); err != nil {
		e.logger.Error("failed to save session", "error", err)
	}

	e.store.Close()
	e.logger.Info("shutdown complete")
}
