// coordinator.go serializes exchange mutations per logical order slot.
//
// Each order class (LIMIT / STOP / MARKET) owns one slot holding a lock, a
// release deadline, and the id of the operation in flight. A placement
// acquires the slot lock for the duration of the call; a second caller while
// the lock is held gets ErrSlotBusy and moves on. Cancels go straight to the
// port and take no slot lock. Deadlines (4x the engine
// refresh interval) and terminal-order observation release locks that a lost
// response left behind.
//
// The coordinator also owns the two placement guards:
//   - slippage guard: reduce-only orders further than maxCloseSlippagePct
//     from mark price are refused locally;
//   - sanity guard: entry prices must be finite, positive, and on the right
//     side of the top of book.
//
// All state is mutated on the engine goroutine only; no mutex is needed.
package strategy

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/exchange"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// Slot keys one logical order class.
type Slot string

const (
	SlotLimit  Slot = "LIMIT"
	SlotStop   Slot = "STOP"
	SlotMarket Slot = "MARKET"
)

// ErrSlotBusy is returned when an operation is already in flight on a slot.
var ErrSlotBusy = exchange.NewInvalidStateError("slot operation already in flight")

type slotState struct {
	locked   bool
	deadline time.Time
	pending  int64 // order id awaiting observation, 0 if none
}

// PriceGuard carries the market references the placement guards check against.
type PriceGuard struct {
	MarkPrice float64 // 0 = unknown, slippage guard skipped
	TopBid    float64
	TopAsk    float64
}

// Coordinator wraps the exchange port with slot locking, guards, and
// precision rounding.
type Coordinator struct {
	port    exchange.Port
	symbol  string
	tick    float64
	step    float64
	maxSlip float64

	lockTimeout time.Duration
	slots       map[Slot]*slotState

	tradeLog *TradeLog
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator creates a coordinator for one symbol. lockTimeout should be
// about 4x the engine refresh interval.
func NewCoordinator(port exchange.Port, symbol string, priceTick, qtyStep, maxCloseSlippagePct float64,
	lockTimeout time.Duration, tradeLog *TradeLog, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		port:        port,
		symbol:      symbol,
		tick:        priceTick,
		step:        qtyStep,
		maxSlip:     maxCloseSlippagePct,
		lockTimeout: lockTimeout,
		slots:       make(map[Slot]*slotState),
		tradeLog:    tradeLog,
		logger:      logger.With("component", "coordinator"),
		now:         time.Now,
	}
}

func (c *Coordinator) slot(s Slot) *slotState {
	st, ok := c.slots[s]
	if !ok {
		st = &slotState{}
		c.slots[s] = st
	}
	return st
}

// tryLock acquires the slot, honoring the release deadline of a stale lock.
func (c *Coordinator) tryLock(s Slot) bool {
	st := c.slot(s)
	if st.locked && c.now().Before(st.deadline) {
		return false
	}
	st.locked = true
	st.deadline = c.now().Add(c.lockTimeout)
	return true
}

// UnlockOperating releases a slot and clears its pending id.
func (c *Coordinator) UnlockOperating(s Slot) {
	st := c.slot(s)
	st.locked = false
	st.pending = 0
}

// ObserveOrders releases any slot whose pending order is no longer live in
// the delivered snapshot (terminal status, or absent entirely). Called by
// the engine on every orders-feed delivery.
func (c *Coordinator) ObserveOrders(open []types.OpenOrder) {
	byID := make(map[int64]types.OpenOrder, len(open))
	for _, o := range open {
		byID[o.OrderID] = o
	}
	for slot, st := range c.slots {
		if st.pending == 0 {
			continue
		}
		o, live := byID[st.pending]
		if !live || o.Status.IsTerminal() {
			if st.locked {
				c.logger.Debug("slot released on terminal observation", "slot", slot, "order_id", st.pending)
			}
			st.locked = false
			st.pending = 0
		}
	}
}

// guardPrice applies the slippage guard (reduce-only) and the entry sanity
// guard. price is the already-parsed limit price.
func (c *Coordinator) guardPrice(side types.Side, price float64, reduceOnly bool, guard PriceGuard) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return &exchange.PriceGuardError{Side: string(side), Price: price, Reason: "non-finite or non-positive price"}
	}

	if reduceOnly {
		if guard.MarkPrice > 0 {
			slip := math.Abs(price-guard.MarkPrice) / guard.MarkPrice
			if slip > c.maxSlip {
				return &exchange.PriceGuardError{
					Side: string(side), Price: price, MarkPrice: guard.MarkPrice,
					Slippage: slip, Limit: c.maxSlip,
				}
			}
		}
		return nil
	}

	// entries must not sit through the opposite side of the book
	if side == types.BUY && guard.TopAsk > 0 && price > guard.TopAsk {
		return &exchange.PriceGuardError{Side: string(side), Price: price, Reason: "buy entry through the ask"}
	}
	if side == types.SELL && guard.TopBid > 0 && price < guard.TopBid {
		return &exchange.PriceGuardError{Side: string(side), Price: price, Reason: "sell entry through the bid"}
	}
	return nil
}

// PlaceOrder places a limit order after guarding and rounding. A TimeInForce
// of "" defaults to GTC.
func (c *Coordinator) PlaceOrder(ctx context.Context, side types.Side, price string, qty float64,
	reduceOnly bool, guard PriceGuard, tif types.TimeInForce) (types.OpenOrder, error) {

	priceVal := types.ParseFloat(price)
	if err := c.guardPrice(side, priceVal, reduceOnly, guard); err != nil {
		return types.OpenOrder{}, err
	}

	if !c.tryLock(SlotLimit) {
		return types.OpenOrder{}, ErrSlotBusy
	}

	if tif == "" {
		tif = types.TIFGoodTilCancel
	}

	order, err := c.port.CreateOrder(ctx, types.CreateOrderParams{
		Symbol:      c.symbol,
		Side:        side,
		Type:        types.OrderTypeLimit,
		Price:       RoundPriceToTick(priceVal, c.tick, side),
		Quantity:    FormatQty(qty, c.step),
		ReduceOnly:  reduceOnly,
		TimeInForce: tif,
	})
	if err != nil {
		c.UnlockOperating(SlotLimit)
		return types.OpenOrder{}, err
	}

	c.finishOp(SlotLimit, order.OrderID)
	c.tradeLog.Push(LogOrder, "placed %s LIMIT %s @ %s (reduceOnly=%v)", side, order.OrigQty, order.Price, reduceOnly)
	return order, nil
}

// finishOp releases the slot lock while retaining the pending id: the order
// is now remote, and the next orders snapshot reconciles its fate.
func (c *Coordinator) finishOp(s Slot, orderID int64) {
	st := c.slot(s)
	st.locked = false
	st.pending = orderID
}

// StopPrecision controls stop-limit construction.
type StopPrecision struct {
	// ExactLimitAtStop pins the limit price to the trigger instead of letting
	// the venue pick; avoids the stop resting away from its trigger.
	ExactLimitAtStop bool
}

// PlaceStopLossOrder places a reduce-only protective stop for the close side.
// The trigger must be on the working side of lastPrice or the placement is
// refused locally.
func (c *Coordinator) PlaceStopLossOrder(ctx context.Context, closeSide types.Side, stopPrice, qty,
	lastPrice float64, prec StopPrecision) (types.OpenOrder, error) {

	if !IsValidStopPrice(closeSide, stopPrice, lastPrice, c.tick) {
		return types.OpenOrder{}, &exchange.PriceGuardError{
			Side: string(closeSide), Price: stopPrice, Reason: "stop trigger on the wrong side of last price",
		}
	}

	if !c.tryLock(SlotStop) {
		return types.OpenOrder{}, ErrSlotBusy
	}

	stopStr := RoundPriceToTick(stopPrice, c.tick, closeSide)
	params := types.CreateOrderParams{
		Symbol:      c.symbol,
		Side:        closeSide,
		Type:        types.OrderTypeStopMarket,
		StopPrice:   stopStr,
		Quantity:    FormatQty(qty, c.step),
		ReduceOnly:  true,
		TimeInForce: types.TIFGoodTilCancel,
	}
	if prec.ExactLimitAtStop {
		params.Type = types.OrderTypeStop
		params.Price = stopStr
	}

	order, err := c.port.CreateOrder(ctx, params)
	if err != nil {
		c.UnlockOperating(SlotStop)
		return types.OpenOrder{}, err
	}

	c.finishOp(SlotStop, order.OrderID)
	c.tradeLog.Push(LogStop, "placed %s stop @ %s qty %s", closeSide, stopStr, params.Quantity)
	return order, nil
}

// PlacePreemptiveStopLimitOrder places a reduce-only stop-limit at the given
// trigger immediately after a top-of-book entry, closing the window during
// which a filled entry would sit unprotected.
func (c *Coordinator) PlacePreemptiveStopLimitOrder(ctx context.Context, closeSide types.Side,
	triggerPrice, qty float64) (types.OpenOrder, error) {

	if !c.tryLock(SlotStop) {
		return types.OpenOrder{}, ErrSlotBusy
	}

	trigger := RoundPriceToTick(triggerPrice, c.tick, closeSide)
	order, err := c.port.CreateOrder(ctx, types.CreateOrderParams{
		Symbol:      c.symbol,
		Side:        closeSide,
		Type:        types.OrderTypeStop,
		Price:       trigger,
		StopPrice:   trigger,
		Quantity:    FormatQty(qty, c.step),
		ReduceOnly:  true,
		TimeInForce: types.TIFGoodTilCancel,
	})
	if err != nil {
		c.UnlockOperating(SlotStop)
		return types.OpenOrder{}, err
	}

	c.finishOp(SlotStop, order.OrderID)
	c.tradeLog.Push(LogStop, "pre-emptive %s stop-limit @ %s qty %.8f", closeSide, trigger, qty)
	return order, nil
}

// MarketClose closes qty of the position at market, guarded against closing
// too far from mark price (execRef approximates the expected fill price).
func (c *Coordinator) MarketClose(ctx context.Context, side types.Side, qty float64, guard PriceGuard,
	execRef float64) (types.OpenOrder, error) {

	if guard.MarkPrice > 0 && execRef > 0 {
		slip := math.Abs(execRef-guard.MarkPrice) / guard.MarkPrice
		if slip > c.maxSlip {
			return types.OpenOrder{}, &exchange.PriceGuardError{
				Side: string(side), Price: execRef, MarkPrice: guard.MarkPrice,
				Slippage: slip, Limit: c.maxSlip,
			}
		}
	}

	if !c.tryLock(SlotMarket) {
		return types.OpenOrder{}, ErrSlotBusy
	}

	order, err := c.port.CreateOrder(ctx, types.CreateOrderParams{
		Symbol:     c.symbol,
		Side:       side,
		Type:       types.OrderTypeMarket,
		Quantity:   FormatQty(qty, c.step),
		ReduceOnly: true,
	})
	if err != nil {
		c.UnlockOperating(SlotMarket)
		return types.OpenOrder{}, err
	}

	c.finishOp(SlotMarket, order.OrderID)
	c.tradeLog.Push(LogOrder, "market close %s qty %.8f", side, qty)
	return order, nil
}

// CancelOrder cancels one order. Unknown-order is idempotent success: the
// order is already gone, which is what the caller wanted.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID int64) error {
	err := c.port.CancelOrder(ctx, c.symbol, orderID)
	if err != nil && exchange.IsUnknownOrder(err) {
		c.tradeLog.Push(LogInfo, "cancel %d: already gone", orderID)
		return nil
	}
	return err
}

// CancelAllOrders flushes every open order on the symbol. Unknown-order means
// the book was already clean.
func (c *Coordinator) CancelAllOrders(ctx context.Context) error {
	err := c.port.CancelAllOrders(ctx, c.symbol)
	if err != nil && exchange.IsUnknownOrder(err) {
		return nil
	}
	return err
}
