package strategy

import (
	"context"
	"testing"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

func TestOrphanCloseUnprotectedLong(t *testing.T) {
	t.Parallel()
	port := &fakePort{}
	c := newTestCoordinator(port)

	took, err := ReconcileOrphanedPosition(context.Background(), c, OrphanParams{
		Position: types.PositionSnapshot{Symbol: "BTCUSDT", PositionAmt: 0.5, EntryPrice: 100, MarkPrice: 100},
		TopBid:   99.9,
		TopAsk:   100.1,
		IOC:      true,
	})
	if err != nil {
		t.Fatalf("ReconcileOrphanedPosition: %v", err)
	}
	if !took {
		t.Fatal("tookAction = false for an unprotected position")
	}

	p, ok := port.lastCreated()
	if !ok {
		t.Fatal("no close order sent")
	}
	if p.Side != types.SELL {
		t.Errorf("side = %v, want SELL", p.Side)
	}
	if p.Price != "100.1" {
		t.Errorf("price = %q, want %q (top ask)", p.Price, "100.1")
	}
	if p.Quantity != "0.5" {
		t.Errorf("qty = %q, want %q", p.Quantity, "0.5")
	}
	if !p.ReduceOnly {
		t.Error("close order must be reduce-only")
	}
	if p.TimeInForce != types.TIFImmediateOrCancel {
		t.Errorf("tif = %q, want IOC", p.TimeInForce)
	}
}

func TestOrphanCloseFlatPosition(t *testing.T) {
	t.Parallel()
	port := &fakePort{}
	c := newTestCoordinator(port)

	took, err := ReconcileOrphanedPosition(context.Background(), c, OrphanParams{
		Position: types.PositionSnapshot{Symbol: "BTCUSDT", PositionAmt: 0},
		TopBid:   99.9,
		TopAsk:   100.1,
	})
	if err != nil {
		t.Fatalf("ReconcileOrphanedPosition: %v", err)
	}
	if took {
		t.Error("tookAction = true for a flat position")
	}
	if len(port.createdOrders()) != 0 {
		t.Error("order sent for a flat position")
	}
}

func TestOrphanCloseProtectionExists(t *testing.T) {
	t.Parallel()
	port := &fakePort{}
	c := newTestCoordinator(port)

	took, err := ReconcileOrphanedPosition(context.Background(), c, OrphanParams{
		Position: types.PositionSnapshot{Symbol: "BTCUSDT", PositionAmt: -0.2, EntryPrice: 100},
		OpenOrders: []types.OpenOrder{{
			OrderID: 7, Side: types.BUY, Type: types.OrderTypeLimit,
			Status: types.StatusNew, Price: "99.9", OrigQty: "0.2", ReduceOnly: true,
		}},
		TopBid: 99.9,
		TopAsk: 100.1,
	})
	if err != nil {
		t.Fatalf("ReconcileOrphanedPosition: %v", err)
	}
	if took {
		t.Error("tookAction = true despite existing reduce-only protection")
	}
}

func TestOrphanCloseStopCountsAsProtection(t *testing.T) {
	t.Parallel()
	port := &fakePort{}
	c := newTestCoordinator(port)

	took, _ := ReconcileOrphanedPosition(context.Background(), c, OrphanParams{
		Position: types.PositionSnapshot{Symbol: "BTCUSDT", PositionAmt: 0.5, EntryPrice: 100},
		OpenOrders: []types.OpenOrder{{
			OrderID: 9, Side: types.SELL, Type: types.OrderTypeStopMarket,
			Status: types.StatusNew, StopPrice: "95", OrigQty: "0.5",
		}},
		TopBid: 99.9,
		TopAsk: 100.1,
	})
	if took {
		t.Error("a stop-like order on the close side is protection")
	}
}

func TestOrphanCloseFallsBackToLastPrice(t *testing.T) {
	t.Parallel()
	port := &fakePort{}
	c := newTestCoordinator(port)

	took, err := ReconcileOrphanedPosition(context.Background(), c, OrphanParams{
		Position:  types.PositionSnapshot{Symbol: "BTCUSDT", PositionAmt: 0.5, EntryPrice: 100},
		LastPrice: 100.5,
	})
	if err != nil {
		t.Fatalf("ReconcileOrphanedPosition: %v", err)
	}
	if !took {
		t.Fatal("tookAction = false despite usable last price")
	}
	p, _ := port.lastCreated()
	if p.Price != "100.5" {
		t.Errorf("price = %q, want last-price fallback %q", p.Price, "100.5")
	}
}

func TestOrphanCloseNoUsablePrice(t *testing.T) {
	t.Parallel()
	port := &fakePort{}
	c := newTestCoordinator(port)

	took, err := ReconcileOrphanedPosition(context.Background(), c, OrphanParams{
		Position: types.PositionSnapshot{Symbol: "BTCUSDT", PositionAmt: 0.5, EntryPrice: 100},
	})
	if err != nil {
		t.Fatalf("ReconcileOrphanedPosition: %v", err)
	}
	if took {
		t.Error("tookAction = true with no price to quote against")
	}
}

// Two successive calls: the first closes, the second sees the close order
// resting and does nothing.
func TestOrphanCloseIdempotent(t *testing.T) {
	t.Parallel()
	port := &fakePort{}
	c := newTestCoordinator(port)

	params := OrphanParams{
		Position: types.PositionSnapshot{Symbol: "BTCUSDT", PositionAmt: 0.5, EntryPrice: 100, MarkPrice: 100},
		TopBid:   99.9,
		TopAsk:   100.1,
	}

	took, err := ReconcileOrphanedPosition(context.Background(), c, params)
	if err != nil || !took {
		t.Fatalf("first call: took=%v err=%v", took, err)
	}

	// feed the placed order back as an open order
	p, _ := port.lastCreated()
	params.OpenOrders = []types.OpenOrder{{
		OrderID: 1, Side: p.Side, Type: p.Type, Status: types.StatusNew,
		Price: p.Price, OrigQty: p.Quantity, ReduceOnly: p.ReduceOnly,
	}}

	took, err = ReconcileOrphanedPosition(context.Background(), c, params)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if took {
		t.Error("second call took action again")
	}
	if len(port.createdOrders()) != 1 {
		t.Errorf("orders sent = %d, want exactly 1", len(port.createdOrders()))
	}
}
