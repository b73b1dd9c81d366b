// Package strategy implements the order lifecycle and risk core: the control
// loop that reconciles desired quotes against live open orders, keeps any
// open position protected by a stop, debounces reprices, and enforces the
// safety invariants (no naked position, no runaway placement, no action
// during rate-limit backoff).
//
// Per-tick flow:
//
//	feeds → tick → derive desired → suppress reprices → reconcile plan →
//	cancel(diff) → place(diff) → ensure protective stop → risk check → emit snapshot
//
// Concurrency model: all engine state is owned by the single goroutine in
// Run, which selects over the feed channels and the tick timer. Feed
// handlers only mutate state and emit snapshots; the tick is the only code
// path that mutates the exchange.
package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/config"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/exchange"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/market"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

const (
	feedBufferSize            = 64
	insufficientBalanceCooldown = 15 * time.Second
	postCloseCooldown           = 10 * time.Second
	// extremeImbalanceRatio forces a market close when the book leans this
	// hard against an open position.
	extremeImbalanceRatio = 6.0
)

// Engine runs the Maker / Offset-Maker control loop for one symbol.
type Engine struct {
	cfg    config.Config
	port   exchange.Port
	coord  *Coordinator
	ctrl   *exchange.CycleController
	book   *market.Book
	trades *TradeLog
	fanout *snapshotFanout
	logger *slog.Logger

	accountCh chan types.AccountSnapshot
	ordersCh  chan []types.OpenOrder
	depthCh   chan types.DepthSnapshot
	tickerCh  chan types.TickerSnapshot
	unsubs    []exchange.Unsubscribe

	// State below is owned by the Run goroutine.
	account    types.AccountSnapshot
	openOrders []types.OpenOrder
	ticker     types.TickerSnapshot
	feeds      FeedStatus
	feedLogged FeedStatus // each missing feed is logged once

	initialResetDone bool
	processing       bool

	insufficientUntil  time.Time
	insufficientLogged bool
	postCloseUntil     time.Time
	lastAbsPosition    float64

	lastEntryPlaced map[types.Side]time.Time
	pendingCancels  map[int64]bool
	execSeen        map[int64]float64 // executedQty high-water per order
	sessionVolume   float64

	tickPlaced    []types.OpenOrder // orders placed in the current tick, invisible to openOrders until the next feed delivery
	lastDesired   []types.DesiredOrder
	lastImbalance market.Imbalance
	skipBuySide   bool
	skipSellSide  bool

	now func() time.Time
}

// NewEngine wires the control loop for the configured symbol and mode.
func NewEngine(cfg config.Config, port exchange.Port, logger *slog.Logger) *Engine {
	trades := NewTradeLog(cfg.Trading.MaxLogEntries)
	coord := NewCoordinator(port, cfg.Trading.Symbol,
		cfg.Trading.PriceTick, cfg.Trading.QtyStep, cfg.Risk.MaxCloseSlippagePct,
		4*cfg.Trading.RefreshInterval, trades, logger)

	return &Engine{
		cfg:    cfg,
		port:   port,
		coord:  coord,
		ctrl:   exchange.NewCycleController(cfg.Trading.RefreshInterval, logger),
		book:   market.NewBook(cfg.Trading.Symbol),
		trades: trades,
		fanout: newSnapshotFanout(logger.With("component", "snapshot")),
		logger: logger.With("component", "engine", "mode", string(cfg.Mode)),

		accountCh: make(chan types.AccountSnapshot, feedBufferSize),
		ordersCh:  make(chan []types.OpenOrder, feedBufferSize),
		depthCh:   make(chan types.DepthSnapshot, feedBufferSize),
		tickerCh:  make(chan types.TickerSnapshot, feedBufferSize),

		lastEntryPlaced: make(map[types.Side]time.Time),
		pendingCancels:  make(map[int64]bool),
		execSeen:        make(map[int64]float64),

		now: time.Now,
	}
}

// Subscribe returns a channel of engine snapshots plus a cancel func.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	return e.fanout.subscribe()
}

// Run subscribes the feeds and blocks in the control loop until ctx is
// cancelled. On exit it cancels every working order as a safety net.
func (e *Engine) Run(ctx context.Context) {
	symbol := e.cfg.Trading.Symbol

	e.unsubs = append(e.unsubs,
		e.port.WatchAccount(func(s types.AccountSnapshot) { push(e.accountCh, s, e.logger, "account") }),
		e.port.WatchOrders(func(o []types.OpenOrder) { push(e.ordersCh, o, e.logger, "orders") }),
		e.port.WatchDepth(symbol, func(d types.DepthSnapshot) { push(e.depthCh, d, e.logger, "depth") }),
		e.port.WatchTicker(symbol, func(t types.TickerSnapshot) { push(e.tickerCh, t, e.logger, "ticker") }),
	)
	defer func() {
		for _, unsub := range e.unsubs {
			unsub()
		}
	}()

	ticker := time.NewTicker(e.cfg.Trading.RefreshInterval)
	defer ticker.Stop()

	e.logger.Info("engine started",
		"symbol", symbol,
		"refresh", e.cfg.Trading.RefreshInterval,
		"trade_amount", e.cfg.Trading.TradeAmount,
	)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case snap := <-e.accountCh:
			e.onAccount(snap)
			e.emitSnapshot()
		case orders := <-e.ordersCh:
			e.onOrders(orders)
			e.emitSnapshot()
		case depth := <-e.depthCh:
			e.book.Apply(depth)
			e.feeds.Depth = true
			e.emitSnapshot()
		case tick := <-e.tickerCh:
			e.ticker = tick
			e.feeds.Ticker = true
			e.emitSnapshot()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// push delivers a feed event without ever blocking the adapter goroutine.
func push[T any](ch chan T, v T, logger *slog.Logger, feed string) {
	select {
	case ch <- v:
	default:
		logger.Warn("feed channel full, dropping event", "feed", feed)
	}
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.API.Timeout)
	defer cancel()
	if err := e.coord.CancelAllOrders(ctx); err != nil {
		e.logger.Error("shutdown cancel-all failed", "error", err)
	}
	e.logger.Info("engine stopped", "session_volume", e.sessionVolume)
}

// ————————————————————————————————————————————————————————————————————————
// Feed handlers (never touch the exchange)
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) onAccount(snap types.AccountSnapshot) {
	e.account = snap
	e.feeds.Account = true

	absAmt := absFloat(snap.Position(e.cfg.Trading.Symbol).PositionAmt)
	if e.lastAbsPosition > types.PositionEpsilon && absAmt <= types.PositionEpsilon {
		e.postCloseUntil = e.now().Add(postCloseCooldown)
		e.trades.Push(LogInfo, "position closed, pausing entries for %s", postCloseCooldown)
		e.logger.Info("post-close cooldown armed", "until", e.postCloseUntil)
	}
	e.lastAbsPosition = absAmt
}

// onOrders fully rebuilds the open-order mirror from the delivered snapshot:
// there is no drift to accumulate, the feed is the source of truth.
func (e *Engine) onOrders(orders []types.OpenOrder) {
	symbol := e.cfg.Trading.Symbol

	rebuilt := orders[:0:0]
	live := make(map[int64]bool, len(orders))
	for _, o := range orders {
		if o.Symbol != "" && o.Symbol != symbol {
			continue
		}
		rebuilt = append(rebuilt, o)
		if !o.Status.IsTerminal() {
			live[o.OrderID] = true
		}
		e.accumulateVolume(o)
	}
	e.openOrders = rebuilt
	e.feeds.Orders = true

	// orders asked to cancel that are now gone no longer need masking
	for id := range e.pendingCancels {
		if !live[id] {
			delete(e.pendingCancels, id)
		}
	}
	for id := range e.execSeen {
		if !live[id] {
			delete(e.execSeen, id)
		}
	}

	e.coord.ObserveOrders(rebuilt)
}

func (e *Engine) accumulateVolume(o types.OpenOrder) {
	executed := types.ParseFloat(o.ExecutedQty)
	if executed <= e.execSeen[o.OrderID] {
		return
	}
	delta := executed - e.execSeen[o.OrderID]
	e.execSeen[o.OrderID] = executed

	price := o.PriceValue()
	if price <= 0 {
		price = e.ticker.LastPrice
	}
	e.sessionVolume += delta * price
}

// ————————————————————————————————————————————————————————————————————————
// Tick
// ————————————————————————————————————————————————————————————————————————

// tick is the only path that mutates the exchange. It is a no-op while any
// feed is missing, while the rate-limit controller pauses the cycle, or
// while a previous tick is still running.
func (e *Engine) tick(ctx context.Context) {
	if e.processing {
		return
	}
	e.processing = true
	defer func() { e.processing = false }()

	if !e.checkFeeds() {
		e.emitSnapshot()
		return
	}

	switch e.ctrl.BeforeCycle() {
	case exchange.CyclePaused, exchange.CycleSkip:
		e.emitSnapshot()
		return
	}

	hadRateLimit := false
	defer func() { e.ctrl.OnCycleComplete(hadRateLimit) }()

	if !e.initialResetDone {
		e.startupReset(ctx)
		e.emitSnapshot()
		return
	}

	if err := e.runCycle(ctx); err != nil {
		if exchange.IsRateLimit(err) {
			hadRateLimit = true
			e.handleRateLimit(ctx, err)
		} else if exchange.IsInvalidState(err) {
			e.trades.Push(LogError, "cycle aborted: %v", err)
			e.logger.Error("invalid state, cycle aborted", "error", err)
		}
	}

	e.emitSnapshot()
}

func (e *Engine) checkFeeds() bool {
	type probe struct {
		name   string
		got    bool
		logged *bool
	}
	probes := []probe{
		{"account", e.feeds.Account, &e.feedLogged.Account},
		{"orders", e.feeds.Orders, &e.feedLogged.Orders},
		{"depth", e.feeds.Depth, &e.feedLogged.Depth},
		{"ticker", e.feeds.Ticker, &e.feedLogged.Ticker},
	}
	ready := true
	for _, p := range probes {
		if p.got {
			continue
		}
		ready = false
		if !*p.logged {
			e.logger.Info("waiting for feed", "feed", p.name)
			*p.logged = true
		}
	}
	return ready
}

// startupReset flushes any resting orders left over from a previous run.
// Unknown-order means the book was already clean.
func (e *Engine) startupReset(ctx context.Context) {
	resting := 0
	for _, o := range e.openOrders {
		if !o.Status.IsTerminal() {
			resting++
		}
	}
	if resting > 0 {
		if err := e.coord.CancelAllOrders(ctx); err != nil {
			e.logger.Error("startup reset failed", "error", err)
			if exchange.IsRateLimit(err) {
				e.ctrl.RegisterRateLimit("startup-reset")
			}
			return // retry next tick
		}
		e.trades.Push(LogInfo, "startup reset: cancelled %d resting orders", resting)
	}
	e.initialResetDone = true
}

// runCycle executes the quoting pipeline for one tick. A returned error
// aborts the remainder of the cycle; rate limits are handled by the caller.
func (e *Engine) runCycle(ctx context.Context) error {
	bid, ask, ok := e.book.TopOfBook()
	if !ok {
		return nil
	}
	pos := e.account.Position(e.cfg.Trading.Symbol)
	lastPrice := e.ticker.LastPrice
	e.tickPlaced = nil

	// Offset-Maker: a book leaning hard against the position forces a flat.
	if e.cfg.Mode == config.ModeOffsetMaker {
		e.lastImbalance = e.book.Imbalance()
		if done, err := e.forcedImbalanceExit(ctx, pos, bid, ask); done || err != nil {
			return err
		}
	}

	working := e.workingOrders()
	desired := e.deriveDesired(pos, bid, ask)
	desired = e.suppressReprices(desired, working)
	e.lastDesired = desired

	plan := MakeOrderPlan(working, desired, e.cfg.Trading.PriceTick, e.cfg.Trading.QtyStep)

	if err := e.applyCancels(ctx, plan.ToCancel); err != nil {
		return err
	}
	if err := e.applyPlacements(ctx, plan.ToPlace, pos, bid, ask); err != nil {
		return err
	}
	if err := e.ensureProtectiveStop(ctx, pos, lastPrice); err != nil {
		return err
	}

	// Safety net: a position that slipped through with no protection gets a
	// reduce-only close. Idempotent when protection already exists; orders
	// placed earlier this tick count as protection even though the orders
	// feed has not echoed them yet.
	if _, err := ReconcileOrphanedPosition(ctx, e.coord, OrphanParams{
		Position:        pos,
		OpenOrders:      append(e.workingAndStops(), e.tickPlaced...),
		TopBid:          bid,
		TopAsk:          ask,
		LastPrice:       lastPrice,
		StrictLimitOnly: e.cfg.Risk.StrictLimitOnly,
	}); err != nil && exchange.IsRateLimit(err) {
		return err
	}

	return e.riskCheck(ctx, pos, bid, ask)
}

// workingOrders returns the plan-relevant live orders: non-terminal,
// non-stop-like, and not already asked to cancel.
func (e *Engine) workingOrders() []types.OpenOrder {
	var out []types.OpenOrder
	for _, o := range e.openOrders {
		if o.Status.IsTerminal() || o.IsStopLike() || e.pendingCancels[o.OrderID] {
			continue
		}
		out = append(out, o)
	}
	return out
}

// workingAndStops is workingOrders plus the live stop-like orders, the view
// the orphan reconciler needs to recognize existing protection.
func (e *Engine) workingAndStops() []types.OpenOrder {
	var out []types.OpenOrder
	for _, o := range e.openOrders {
		if o.Status.IsTerminal() || e.pendingCancels[o.OrderID] {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (e *Engine) applyCancels(ctx context.Context, toCancel []types.OpenOrder) error {
	for _, o := range toCancel {
		err := e.coord.CancelOrder(ctx, o.OrderID)
		switch {
		case err == nil:
			e.pendingCancels[o.OrderID] = true
		case exchange.IsRateLimit(err):
			return err
		default:
			// transport or rejection: drop the local mirror, the next orders
			// snapshot is authoritative
			e.logger.Error("cancel failed", "order_id", o.OrderID, "error", err)
			e.pendingCancels[o.OrderID] = true
		}
	}
	return nil
}

func (e *Engine) applyPlacements(ctx context.Context, toPlace []types.DesiredOrder,
	pos types.PositionSnapshot, bid, ask float64) error {

	guard := PriceGuard{MarkPrice: pos.MarkPrice, TopBid: bid, TopAsk: ask}
	topQuoting := e.cfg.Trading.BidOffset == 0 && e.cfg.Trading.AskOffset == 0

	for _, d := range toPlace {
		if !d.ReduceOnly && !e.entriesAllowed() {
			continue
		}

		order, err := e.coord.PlaceOrder(ctx, d.Side, d.Price, d.Amount, d.ReduceOnly, guard, "")
		switch {
		case err == nil:
			e.tickPlaced = append(e.tickPlaced, order)
			if !d.ReduceOnly {
				e.lastEntryPlaced[d.Side] = e.now()
				if topQuoting {
					e.placePreemptiveStop(ctx, d, bid, ask)
				}
			}
		case exchange.IsRateLimit(err):
			return err
		case exchange.IsInsufficientBalance(err):
			e.armInsufficientBalance()
			return nil // abort remaining placements, keep the cycle alive
		case exchange.IsPriceGuard(err):
			e.trades.Push(LogWarn, "placement skipped by price guard: %v", err)
		case err == ErrSlotBusy:
			e.logger.Debug("limit slot busy, skipping placement", "side", d.Side)
		default:
			e.logger.Error("placement failed", "side", d.Side, "price", d.Price, "error", err)
			e.trades.Push(LogError, "place %s @ %s failed: %v", d.Side, d.Price, err)
		}
	}
	return nil
}

// placePreemptiveStop guards a top-of-book entry with an immediate
// reduce-only stop-limit at the opposite touch, closing the window during
// which a filled entry would sit without a protective stop.
func (e *Engine) placePreemptiveStop(ctx context.Context, entry types.DesiredOrder, bid, ask float64) {
	closeSide := entry.Side.Opposite()
	trigger := ask
	if closeSide == types.BUY {
		trigger = bid
	}

	order, err := e.coord.PlacePreemptiveStopLimitOrder(ctx, closeSide, trigger, entry.Amount)
	if err != nil {
		if err != ErrSlotBusy {
			e.logger.Warn("pre-emptive stop failed", "side", closeSide, "error", err)
		}
		return
	}
	e.tickPlaced = append(e.tickPlaced, order)
}

func (e *Engine) armInsufficientBalance() {
	e.insufficientUntil = e.now().Add(insufficientBalanceCooldown)
	if !e.insufficientLogged {
		e.trades.Push(LogWarn, "insufficient balance, pausing entries for %s", insufficientBalanceCooldown)
		e.logger.Warn("insufficient balance cooldown armed", "until", e.insufficientUntil)
		e.insufficientLogged = true
	}
}

func (e *Engine) entriesAllowed() bool {
	now := e.now()
	if now.Before(e.insufficientUntil) {
		return false
	}
	e.insufficientLogged = false
	if now.Before(e.postCloseUntil) {
		return false
	}
	if e.ctrl.ShouldBlockEntries() {
		return false
	}
	return true
}

// ————————————————————————————————————————————————————————————————————————
// Snapshot emission
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) emitSnapshot() {
	bid, ask, _ := e.book.TopOfBook()
	pos := e.account.Position(e.cfg.Trading.Symbol)

	openCopy := make([]types.OpenOrder, len(e.openOrders))
	copy(openCopy, e.openOrders)
	desiredCopy := make([]types.DesiredOrder, len(e.lastDesired))
	copy(desiredCopy, e.lastDesired)

	e.fanout.publish(Snapshot{
		Time:              e.now(),
		Ready:             e.feeds.AllReady() && e.initialResetDone,
		TopBid:            bid,
		TopAsk:            ask,
		Spread:            ask - bid,
		LastPrice:         e.ticker.LastPrice,
		Position:          pos,
		PnL:               PositionPnL(pos, bid, ask),
		AccountUnrealized: e.account.TotalUnrealizedProfit,
		SessionVolume:     e.sessionVolume,
		OpenOrders:        openCopy,
		DesiredOrders:     desiredCopy,
		TradeLog:          e.trades.Snapshot(),
		FeedStatus:        e.feeds,
		DepthImbalance:    e.lastImbalance,
		SkipBuySide:       e.skipBuySide,
		SkipSellSide:      e.skipSellSide,
	})
}
