// stoploss.go holds the protective-stop math shared by the engine and the
// coordinator: stop trigger derivation from the loss budget, trigger-side
// validity, and side-aware PnL.
package strategy

import (
	"math"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// CalcStopLossPrice derives the stop trigger that caps the position's loss at
// lossLimit (quote currency). The per-unit adverse move is lossLimit / qty;
// longs stop below entry, shorts above.
func CalcStopLossPrice(entryPrice, qty float64, side types.Side, lossLimit float64) float64 {
	if qty <= 0 || entryPrice <= 0 {
		return 0
	}
	move := lossLimit / qty
	if side == types.SELL {
		// closing a long: trigger below entry
		return entryPrice - move
	}
	return entryPrice + move
}

// IsValidStopPrice checks the trigger is on the working side of the market:
// a SELL stop must sit at least one tick below the last price, a BUY stop at
// least one tick above. Triggers that would fire immediately are invalid.
func IsValidStopPrice(closeSide types.Side, stopPrice, lastPrice, tick float64) bool {
	if stopPrice <= 0 || lastPrice <= 0 {
		return false
	}
	if closeSide == types.SELL {
		return stopPrice <= lastPrice-tick
	}
	return stopPrice >= lastPrice+tick
}

// PositionPnL computes mark-to-side PnL: longs are valued against the bid,
// shorts against the ask; when bid and ask coincide, the shared price is used.
func PositionPnL(pos types.PositionSnapshot, bid, ask float64) float64 {
	if pos.IsFlat() {
		return 0
	}
	var ref float64
	if bid == ask {
		ref = bid
	} else if pos.PositionAmt > 0 {
		ref = bid
	} else {
		ref = ask
	}
	if ref <= 0 {
		return pos.UnrealizedProfit
	}
	return (ref - pos.EntryPrice) * pos.PositionAmt
}

// ShouldStopLoss reports whether the position's side-aware loss has reached
// the loss budget.
func ShouldStopLoss(pos types.PositionSnapshot, bid, ask, lossLimit float64) bool {
	if pos.IsFlat() || lossLimit <= 0 {
		return false
	}
	return PositionPnL(pos, bid, ask) <= -lossLimit
}

// TighterStop reports whether candidate is strictly tighter (closer to the
// market on the protective side) than current for the given close side.
func TighterStop(closeSide types.Side, candidate, current float64) bool {
	if closeSide == types.SELL {
		// long position: higher trigger loses less
		return candidate > current
	}
	return candidate < current
}

// absFloat is a local convenience for signed position sizes.
func absFloat(v float64) float64 { return math.Abs(v) }
