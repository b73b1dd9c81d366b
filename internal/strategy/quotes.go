// quotes.go derives the desired order set for one tick and applies reprice
// suppression so a fast-ticking book doesn't churn cancel/place pairs.
package strategy

import (
	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/config"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/market"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// deriveDesired computes what should rest on the book given the position and
// top of book.
//
// Flat: quote both entry sides at bid-Δb / ask+Δa (Offset-Maker suppresses
// the side a 3x-dominant opposite book argues against). Not flat: quote a
// single reduce-only close at the touch.
func (e *Engine) deriveDesired(pos types.PositionSnapshot, bid, ask float64) []types.DesiredOrder {
	t := e.cfg.Trading
	e.skipBuySide = false
	e.skipSellSide = false

	if !pos.IsFlat() {
		closeSide := pos.CloseSide()
		price := ask
		if closeSide == types.BUY {
			price = bid
		}
		return []types.DesiredOrder{{
			Side:       closeSide,
			Price:      RoundPriceToTick(price, t.PriceTick, closeSide),
			Amount:     RoundQtyToStep(absFloat(pos.PositionAmt), t.QtyStep),
			ReduceOnly: true,
		}}
	}

	if !e.entriesAllowed() {
		return nil
	}

	if e.cfg.Mode == config.ModeOffsetMaker {
		imb := e.lastImbalance
		if imb.SellSum > 0 && imb.SellSum >= market.DominanceRatio*imb.BuySum {
			e.skipBuySide = true
		}
		if imb.BuySum > 0 && imb.BuySum >= market.DominanceRatio*imb.SellSum {
			e.skipSellSide = true
		}
	}

	amount := RoundQtyToStep(t.TradeAmount*t.VolumeBoost, t.QtyStep)
	if amount <= 0 {
		return nil
	}

	var desired []types.DesiredOrder
	if !e.skipBuySide {
		desired = append(desired, types.DesiredOrder{
			Side:   types.BUY,
			Price:  RoundPriceToTick(bid-t.BidOffset, t.PriceTick, types.BUY),
			Amount: amount,
		})
	}
	if !e.skipSellSide {
		desired = append(desired, types.DesiredOrder{
			Side:   types.SELL,
			Price:  RoundPriceToTick(ask+t.AskOffset, t.PriceTick, types.SELL),
			Amount: amount,
		})
	}
	return desired
}

// suppressReprices pins an entry-side desired order to its existing resting
// price when the move is smaller than minRepriceTicks or the side is still
// inside its dwell window. The pinned desired then matches the resting order
// in the plan, producing no cancel/place churn.
func (e *Engine) suppressReprices(desired []types.DesiredOrder, working []types.OpenOrder) []types.DesiredOrder {
	t := e.cfg.Trading

	for i, d := range desired {
		if d.ReduceOnly {
			continue
		}

		var existing *types.OpenOrder
		for j := range working {
			o := &working[j]
			if o.Side == d.Side && !o.ReduceOnly {
				existing = o
				break
			}
		}
		if existing == nil {
			continue
		}

		moved := TicksApart(d.PriceValue(), existing.PriceValue(), t.PriceTick)
		inDwell := e.now().Sub(e.lastEntryPlaced[d.Side]) < t.RepriceDwell

		if moved < int64(t.MinRepriceTicks) || inDwell {
			desired[i].Price = existing.Price
			desired[i].Amount = existing.OrigQtyValue()
		}
	}
	return desired
}
