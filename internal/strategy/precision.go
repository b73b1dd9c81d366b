// precision.go rounds prices and quantities to the instrument's tick/step
// and serializes them for the API boundary. All rounding happens in decimal
// space so prices survive the float64 → string trip without repr drift;
// comparisons elsewhere operate on integer tick counts.
package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// RoundPriceToTick rounds price to a multiple of tick on the book-favourable
// side for the order's direction: BUY rounds down, SELL rounds up. The result
// is the string form sent to the exchange.
func RoundPriceToTick(price, tick float64, side types.Side) string {
	if tick <= 0 {
		return decimal.NewFromFloat(price).String()
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)

	steps := p.Div(t)
	if side == types.BUY {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	return steps.Mul(t).String()
}

// RoundQtyToStep rounds a quantity down to a multiple of step.
func RoundQtyToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	v, _ := q.Div(s).Floor().Mul(s).Float64()
	return v
}

// FormatQty serializes a quantity after rounding down to step.
func FormatQty(qty, step float64) string {
	if step <= 0 {
		return decimal.NewFromFloat(qty).String()
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	return q.Div(s).Floor().Mul(s).String()
}

// TickKey collapses a price onto its integer tick index, the canonical form
// used for order-plan matching and reprice distance checks.
func TickKey(price, tick float64) int64 {
	if tick <= 0 {
		return int64(math.Round(price))
	}
	return int64(math.Round(price / tick))
}

// TicksApart returns the absolute distance between two prices in ticks.
func TicksApart(a, b, tick float64) int64 {
	d := TickKey(a, tick) - TickKey(b, tick)
	if d < 0 {
		return -d
	}
	return d
}

// TickDecimals returns the number of decimal places implied by the tick,
// e.g. 0.1 → 1, 0.01 → 2.
func TickDecimals(tick float64) int {
	if tick <= 0 {
		return 0
	}
	d := int(math.Round(-math.Log10(tick)))
	if d < 0 {
		return 0
	}
	return d
}
