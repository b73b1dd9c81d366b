package strategy

import (
	"testing"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

func openOrder(id int64, side types.Side, price string, qty string, reduceOnly bool, updateTime int64) types.OpenOrder {
	return types.OpenOrder{
		OrderID:    id,
		Symbol:     "BTCUSDT",
		Side:       side,
		Type:       types.OrderTypeLimit,
		Status:     types.StatusNew,
		Price:      price,
		OrigQty:    qty,
		ReduceOnly: reduceOnly,
		UpdateTime: updateTime,
	}
}

func TestMakeOrderPlanEmptyBook(t *testing.T) {
	t.Parallel()

	desired := []types.DesiredOrder{
		{Side: types.BUY, Price: "99.9", Amount: 0.5},
		{Side: types.SELL, Price: "100.1", Amount: 0.5},
	}
	plan := MakeOrderPlan(nil, desired, 0.1, 0.001)

	if len(plan.ToCancel) != 0 {
		t.Errorf("ToCancel = %d orders, want 0", len(plan.ToCancel))
	}
	if len(plan.ToPlace) != 2 {
		t.Fatalf("ToPlace = %d orders, want 2", len(plan.ToPlace))
	}
	if plan.ToPlace[0].Side != types.BUY || plan.ToPlace[1].Side != types.SELL {
		t.Error("ToPlace order not preserved (BUY before SELL)")
	}
}

func TestMakeOrderPlanExactMatch(t *testing.T) {
	t.Parallel()

	open := []types.OpenOrder{
		openOrder(1, types.BUY, "99.9", "0.5", false, 100),
		openOrder(2, types.SELL, "100.1", "0.5", false, 101),
	}
	desired := []types.DesiredOrder{
		{Side: types.BUY, Price: "99.9", Amount: 0.5},
		{Side: types.SELL, Price: "100.1", Amount: 0.5},
	}

	plan := MakeOrderPlan(open, desired, 0.1, 0.001)
	if !plan.Empty() {
		t.Errorf("plan not empty on stable book: cancel=%d place=%d", len(plan.ToCancel), len(plan.ToPlace))
	}
}

func TestMakeOrderPlanQtyTolerance(t *testing.T) {
	t.Parallel()

	open := []types.OpenOrder{openOrder(1, types.BUY, "99.9", "0.5005", false, 100)}
	desired := []types.DesiredOrder{{Side: types.BUY, Price: "99.9", Amount: 0.5}}

	// within one qtyStep → match
	plan := MakeOrderPlan(open, desired, 0.1, 0.001)
	if !plan.Empty() {
		t.Error("qty within step tolerance should match")
	}

	// beyond one qtyStep → replace
	open[0].OrigQty = "0.6"
	plan = MakeOrderPlan(open, desired, 0.1, 0.001)
	if len(plan.ToCancel) != 1 || len(plan.ToPlace) != 1 {
		t.Errorf("plan = cancel %d place %d, want 1/1", len(plan.ToCancel), len(plan.ToPlace))
	}
}

func TestMakeOrderPlanReduceOnlyMismatch(t *testing.T) {
	t.Parallel()

	open := []types.OpenOrder{openOrder(1, types.SELL, "100.1", "0.5", false, 100)}
	desired := []types.DesiredOrder{{Side: types.SELL, Price: "100.1", Amount: 0.5, ReduceOnly: true}}

	plan := MakeOrderPlan(open, desired, 0.1, 0.001)
	if plan.Empty() {
		t.Error("reduceOnly flag must participate in the matching key")
	}
}

func TestMakeOrderPlanGreedyConsumesOne(t *testing.T) {
	t.Parallel()

	// two identical resting orders, one desired: exactly one survives
	open := []types.OpenOrder{
		openOrder(1, types.BUY, "99.9", "0.5", false, 100),
		openOrder(2, types.BUY, "99.9", "0.5", false, 101),
	}
	desired := []types.DesiredOrder{{Side: types.BUY, Price: "99.9", Amount: 0.5}}

	plan := MakeOrderPlan(open, desired, 0.1, 0.001)
	if len(plan.ToCancel) != 1 {
		t.Fatalf("ToCancel = %d, want 1 (duplicate consumed once)", len(plan.ToCancel))
	}
	if len(plan.ToPlace) != 0 {
		t.Errorf("ToPlace = %d, want 0", len(plan.ToPlace))
	}
}

func TestMakeOrderPlanCancelOrderingOldestFirst(t *testing.T) {
	t.Parallel()

	open := []types.OpenOrder{
		openOrder(3, types.BUY, "99.5", "0.5", false, 300),
		openOrder(1, types.BUY, "99.7", "0.5", false, 100),
		openOrder(2, types.BUY, "99.6", "0.5", false, 200),
	}

	plan := MakeOrderPlan(open, nil, 0.1, 0.001)
	if len(plan.ToCancel) != 3 {
		t.Fatalf("ToCancel = %d, want 3", len(plan.ToCancel))
	}
	for i, want := range []int64{1, 2, 3} {
		if plan.ToCancel[i].OrderID != want {
			t.Errorf("ToCancel[%d].OrderID = %d, want %d (updateTime ascending)", i, plan.ToCancel[i].OrderID, want)
		}
	}
}

// Applying a plan's diff and re-running against the resulting book yields an
// empty plan: the reconciler converges in one step.
func TestMakeOrderPlanRoundTrip(t *testing.T) {
	t.Parallel()

	open := []types.OpenOrder{
		openOrder(1, types.BUY, "99.7", "0.5", false, 100),
		openOrder(2, types.SELL, "100.3", "0.4", false, 101),
	}
	desired := []types.DesiredOrder{
		{Side: types.BUY, Price: "99.9", Amount: 0.5},
		{Side: types.SELL, Price: "100.1", Amount: 0.5},
	}

	plan := MakeOrderPlan(open, desired, 0.1, 0.001)

	// apply the diff
	next := make([]types.OpenOrder, 0)
	cancelled := make(map[int64]bool)
	for _, o := range plan.ToCancel {
		cancelled[o.OrderID] = true
	}
	for _, o := range open {
		if !cancelled[o.OrderID] {
			next = append(next, o)
		}
	}
	var id int64 = 100
	for _, d := range plan.ToPlace {
		id++
		next = append(next, openOrder(id, d.Side, d.Price, FormatQty(d.Amount, 0.001), d.ReduceOnly, id))
	}

	rerun := MakeOrderPlan(next, desired, 0.1, 0.001)
	if !rerun.Empty() {
		t.Errorf("second pass not empty: cancel=%d place=%d", len(rerun.ToCancel), len(rerun.ToPlace))
	}
}
