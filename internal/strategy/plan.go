// plan.go computes the minimal cancel+place diff between the live order set
// and the strategy's desired quotes. The engine pre-filters the live set to
// exclude terminal and stop-like orders before calling in here.
package strategy

import (
	"sort"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// planKey identifies a logical quote: side + integer tick index + reduceOnly.
type planKey struct {
	side       types.Side
	priceTicks int64
	reduceOnly bool
}

// MakeOrderPlan matches desired orders against currently open ones on
// (side, tick-rounded price, reduceOnly); a match additionally requires the
// open quantity to be within one qtyStep of the desired amount. Each desired
// order consumes at most one open order. Unmatched opens are cancelled
// (oldest update first), unmatched desireds are placed in caller order.
func MakeOrderPlan(open []types.OpenOrder, desired []types.DesiredOrder, priceTick, qtyStep float64) types.OrderPlan {
	matched := make([]bool, len(open))

	var toPlace []types.DesiredOrder
	for _, d := range desired {
		key := planKey{
			side:       d.Side,
			priceTicks: TickKey(d.PriceValue(), priceTick),
			reduceOnly: d.ReduceOnly,
		}

		found := false
		for i, o := range open {
			if matched[i] {
				continue
			}
			if (planKey{o.Side, TickKey(o.PriceValue(), priceTick), o.ReduceOnly}) != key {
				continue
			}
			if diff := o.OrigQtyValue() - d.Amount; diff > qtyStep || diff < -qtyStep {
				continue
			}
			matched[i] = true
			found = true
			break
		}
		if !found {
			toPlace = append(toPlace, d)
		}
	}

	var toCancel []types.OpenOrder
	for i, o := range open {
		if !matched[i] {
			toCancel = append(toCancel, o)
		}
	}
	sort.SliceStable(toCancel, func(i, j int) bool {
		return toCancel[i].UpdateTime < toCancel[j].UpdateTime
	})

	return types.OrderPlan{ToCancel: toCancel, ToPlace: toPlace}
}
