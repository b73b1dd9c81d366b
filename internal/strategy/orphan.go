// orphan.go closes positions that have no protective order working against
// them. Runs as a safety net: if anything on the closing side already
// reduces or stops the position, it does nothing.
package strategy

import (
	"context"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// OrphanParams is the input to ReconcileOrphanedPosition.
type OrphanParams struct {
	Position   types.PositionSnapshot
	OpenOrders []types.OpenOrder
	TopBid     float64 // 0 = unknown
	TopAsk     float64 // 0 = unknown
	LastPrice  float64 // fallback close price when the book side is empty
	IOC        bool    // force TIF=IOC on the close
	StrictLimitOnly bool
}

// ReconcileOrphanedPosition places one reduce-only limit on the closing side
// of an unprotected position. Returns tookAction=true only when an order was
// actually sent. Idempotent: protection present (a reduce-only, stop-like,
// or positive-stop-price order on the close side) means no action.
func ReconcileOrphanedPosition(ctx context.Context, coord *Coordinator, p OrphanParams) (bool, error) {
	pos := p.Position
	if pos.IsFlat() {
		return false, nil
	}

	closeSide := pos.CloseSide()
	for _, o := range p.OpenOrders {
		if o.Side != closeSide {
			continue
		}
		if o.ReduceOnly || o.IsStopLike() || o.StopPriceValue() > 0 {
			return false, nil // protection already working
		}
	}

	var closePrice float64
	if closeSide == types.SELL {
		closePrice = p.TopAsk
	} else {
		closePrice = p.TopBid
	}
	if closePrice <= 0 {
		closePrice = p.LastPrice
	}
	if closePrice <= 0 {
		return false, nil // nothing sane to price against
	}

	tif := types.TimeInForce("")
	if p.IOC || p.StrictLimitOnly {
		tif = types.TIFImmediateOrCancel
	}

	priceStr := RoundPriceToTick(closePrice, coord.tick, closeSide)
	_, err := coord.PlaceOrder(ctx, closeSide, priceStr, absFloat(pos.PositionAmt), true,
		PriceGuard{MarkPrice: pos.MarkPrice, TopBid: p.TopBid, TopAsk: p.TopAsk}, tif)
	if err != nil {
		coord.tradeLog.Push(LogWarn, "orphan close failed: %v", err)
		return false, err
	}

	coord.tradeLog.Push(LogOrder, "orphan position closed: %s %.8f @ %s", closeSide, absFloat(pos.PositionAmt), priceStr)
	return true, nil
}
