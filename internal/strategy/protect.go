// protect.go keeps open positions protected: the stop-loss state machine,
// the loss-limit risk check, the extreme-imbalance forced exit, and the
// rate-limit emergency stop.
package strategy

import (
	"context"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/config"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/exchange"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// ensureProtectiveStop converges the stop-like order on the closing side to
// the stop derived from the entry price and the loss budget.
//
// State transitions per position:
//
//	no stop          → place, if the desired trigger is valid
//	stale stop       → replace, when the current trigger sits on the wrong
//	                   side of the last price or the desired one is strictly
//	                   tighter (Offset-Maker also refreshes on any >= 1 tick
//	                   drift, pinning the limit to the trigger)
//	replace failure  → restore the previous stop if it is still valid
func (e *Engine) ensureProtectiveStop(ctx context.Context, pos types.PositionSnapshot, lastPrice float64) error {
	if pos.IsFlat() || lastPrice <= 0 {
		return nil
	}

	t := e.cfg.Trading
	closeSide := pos.CloseSide()
	qty := absFloat(pos.PositionAmt)
	desiredStop := CalcStopLossPrice(pos.EntryPrice, qty, closeSide, e.cfg.Risk.LossLimit)
	desiredValid := IsValidStopPrice(closeSide, desiredStop, lastPrice, t.PriceTick)
	exact := StopPrecision{ExactLimitAtStop: e.cfg.Mode == config.ModeOffsetMaker}

	current := e.currentStop(closeSide)
	if current == nil {
		if !desiredValid {
			return nil // nothing placeable yet; the orphan reconciler covers the gap
		}
		order, err := e.coord.PlaceStopLossOrder(ctx, closeSide, desiredStop, qty, lastPrice, exact)
		if err == nil {
			e.tickPlaced = append(e.tickPlaced, order)
		}
		return e.stopPlacementErr(err)
	}

	currentTrigger := current.StopPriceValue()
	invalidPlacement := !IsValidStopPrice(closeSide, currentTrigger, lastPrice, t.PriceTick)
	tighter := desiredValid && TighterStop(closeSide, desiredStop, currentTrigger)
	drifted := e.cfg.Mode == config.ModeOffsetMaker && desiredValid &&
		TicksApart(desiredStop, currentTrigger, t.PriceTick) >= 1

	if !invalidPlacement && !tighter && !drifted {
		return nil
	}

	// Replace: cancel then place. Unknown-order on the cancel means the stop
	// is already gone, fall through to placement.
	if err := e.coord.CancelOrder(ctx, current.OrderID); err != nil {
		if exchange.IsRateLimit(err) {
			return err
		}
		e.logger.Error("stop cancel failed", "order_id", current.OrderID, "error", err)
		return nil
	}
	e.pendingCancels[current.OrderID] = true

	if desiredValid {
		if order, err := e.coord.PlaceStopLossOrder(ctx, closeSide, desiredStop, qty, lastPrice, exact); err == nil {
			e.tickPlaced = append(e.tickPlaced, order)
			return nil
		} else if exchange.IsRateLimit(err) {
			return err
		} else {
			e.trades.Push(LogWarn, "stop replace failed: %v", err)
		}
	}

	// Placement failed (or desired was unplaceable): restore the previous
	// trigger if it still protects.
	if IsValidStopPrice(closeSide, currentTrigger, lastPrice, t.PriceTick) {
		if order, err := e.coord.PlaceStopLossOrder(ctx, closeSide, currentTrigger, qty, lastPrice, exact); err != nil {
			if exchange.IsRateLimit(err) {
				return err
			}
			e.trades.Push(LogError, "stop restore failed, position unprotected this tick: %v", err)
		} else {
			e.tickPlaced = append(e.tickPlaced, order)
		}
	}
	return nil
}

func (e *Engine) stopPlacementErr(err error) error {
	switch {
	case err == nil, err == ErrSlotBusy:
		return nil
	case exchange.IsRateLimit(err):
		return err
	case exchange.IsPriceGuard(err):
		e.trades.Push(LogWarn, "stop placement refused: %v", err)
		return nil
	default:
		e.trades.Push(LogError, "stop placement failed: %v", err)
		return nil
	}
}

// currentStop returns the live stop-like order on the closing side, if any.
func (e *Engine) currentStop(closeSide types.Side) *types.OpenOrder {
	for i := range e.openOrders {
		o := &e.openOrders[i]
		if o.Status.IsTerminal() || e.pendingCancels[o.OrderID] {
			continue
		}
		if o.Side == closeSide && o.IsStopLike() {
			return o
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Risk paths
// ————————————————————————————————————————————————————————————————————————

// forcedImbalanceExit flattens the position when the book leans at least 6x
// against it. Returns done=true when the cycle should stop here.
func (e *Engine) forcedImbalanceExit(ctx context.Context, pos types.PositionSnapshot, bid, ask float64) (bool, error) {
	if pos.IsFlat() {
		return false, nil
	}

	imb := e.lastImbalance
	against := false
	if pos.PositionAmt > 0 && imb.SellSum > 0 && imb.SellSum >= extremeImbalanceRatio*imb.BuySum {
		against = true
	}
	if pos.PositionAmt < 0 && imb.BuySum > 0 && imb.BuySum >= extremeImbalanceRatio*imb.SellSum {
		against = true
	}
	if !against {
		return false, nil
	}

	e.trades.Push(LogWarn, "extreme depth imbalance against position (buy=%.4f sell=%.4f), forcing close",
		imb.BuySum, imb.SellSum)
	if err := e.flushWorkingOrders(ctx); err != nil {
		return true, err
	}
	return true, e.closePosition(ctx, pos, bid, ask)
}

// riskCheck fires the stop-loss flush when the side-aware loss reaches the
// budget: flush every working order, then close reduce-only.
func (e *Engine) riskCheck(ctx context.Context, pos types.PositionSnapshot, bid, ask float64) error {
	if !ShouldStopLoss(pos, bid, ask, e.cfg.Risk.LossLimit) {
		return nil
	}

	e.trades.Push(LogStop, "loss limit reached (pnl %.4f), closing position", PositionPnL(pos, bid, ask))
	if err := e.flushWorkingOrders(ctx); err != nil {
		return err
	}
	return e.closePosition(ctx, pos, bid, ask)
}

// closePosition closes reduce-only: an IOC limit at the touch under
// strictLimitOnly, otherwise a guarded market close falling back to the IOC
// limit when the guard refuses.
func (e *Engine) closePosition(ctx context.Context, pos types.PositionSnapshot, bid, ask float64) error {
	closeSide := pos.CloseSide()
	qty := absFloat(pos.PositionAmt)
	guard := PriceGuard{MarkPrice: pos.MarkPrice, TopBid: bid, TopAsk: ask}

	execRef := bid // SELL close executes against the bid
	if closeSide == types.BUY {
		execRef = ask
	}

	if !e.cfg.Risk.StrictLimitOnly {
		order, err := e.coord.MarketClose(ctx, closeSide, qty, guard, execRef)
		switch {
		case err == nil:
			e.tickPlaced = append(e.tickPlaced, order)
			return nil
		case err == ErrSlotBusy:
			return nil
		case exchange.IsRateLimit(err):
			return err
		case exchange.IsPriceGuard(err):
			e.trades.Push(LogWarn, "market close refused by guard, falling back to limit: %v", err)
		default:
			e.trades.Push(LogError, "market close failed: %v", err)
			return nil
		}
	}

	price := RoundPriceToTick(execRef, e.cfg.Trading.PriceTick, closeSide)
	order, err := e.coord.PlaceOrder(ctx, closeSide, price, qty, true, guard, types.TIFImmediateOrCancel)
	switch {
	case err == nil:
		e.tickPlaced = append(e.tickPlaced, order)
		return nil
	case err == ErrSlotBusy:
		return nil
	case exchange.IsRateLimit(err):
		return err
	default:
		e.trades.Push(LogError, "limit close failed: %v", err)
		return nil
	}
}

// flushWorkingOrders cancels everything resting and masks the ids so the
// current tick does not re-target them.
func (e *Engine) flushWorkingOrders(ctx context.Context) error {
	if err := e.coord.CancelAllOrders(ctx); err != nil {
		if exchange.IsRateLimit(err) {
			return err
		}
		e.logger.Error("flush failed", "error", err)
		return nil
	}
	for _, o := range e.openOrders {
		if !o.Status.IsTerminal() {
			e.pendingCancels[o.OrderID] = true
		}
	}
	return nil
}

// handleRateLimit arms the backoff controller and runs the emergency stop:
// an exposed position is closed before the engine goes quiet.
func (e *Engine) handleRateLimit(ctx context.Context, cause error) {
	e.ctrl.RegisterRateLimit("cycle")
	e.trades.Push(LogWarn, "rate limited, backing off: %v", cause)

	pos := e.account.Position(e.cfg.Trading.Symbol)
	if pos.IsFlat() {
		return
	}

	bid, ask, ok := e.book.TopOfBook()
	if !ok {
		return
	}
	if err := e.closePosition(ctx, pos, bid, ask); err != nil {
		e.logger.Error("rate-limit stop close failed", "error", err)
	}
}
