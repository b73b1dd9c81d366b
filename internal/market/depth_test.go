package market

import (
	"fmt"
	"testing"
	"time"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

func level(price, qty float64) types.PriceLevel {
	return types.PriceLevel{Price: fmt.Sprintf("%g", price), Qty: fmt.Sprintf("%g", qty)}
}

func TestTopOfBook(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")

	if _, _, ok := b.TopOfBook(); ok {
		t.Fatal("empty book reported a top of book")
	}

	b.Apply(types.DepthSnapshot{
		Bids: []types.PriceLevel{level(99.9, 1), level(99.8, 2)},
		Asks: []types.PriceLevel{level(100.1, 1), level(100.2, 2)},
	})

	bid, ask, ok := b.TopOfBook()
	if !ok {
		t.Fatal("TopOfBook() not ok after apply")
	}
	if bid != 99.9 || ask != 100.1 {
		t.Errorf("top = (%v, %v), want (99.9, 100.1)", bid, ask)
	}
}

func TestImbalanceBalanced(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")
	b.Apply(types.DepthSnapshot{
		Bids: []types.PriceLevel{level(99.9, 5)},
		Asks: []types.PriceLevel{level(100.1, 6)},
	})

	imb := b.Imbalance()
	if imb.Label != Balanced {
		t.Errorf("label = %v, want balanced", imb.Label)
	}
	if imb.BuySum != 5 || imb.SellSum != 6 {
		t.Errorf("sums = (%v, %v), want (5, 6)", imb.BuySum, imb.SellSum)
	}
}

func TestImbalanceDominance(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")
	b.Apply(types.DepthSnapshot{
		Bids: []types.PriceLevel{level(99.9, 9)},
		Asks: []types.PriceLevel{level(100.1, 3)},
	})

	if got := b.Imbalance().Label; got != BuyDominant {
		t.Errorf("label = %v, want buy_dominant", got)
	}

	b.Apply(types.DepthSnapshot{
		Bids: []types.PriceLevel{level(99.9, 0.1)},
		Asks: []types.PriceLevel{level(100.1, 0.7)},
	})
	if got := b.Imbalance().Label; got != SellDominant {
		t.Errorf("label = %v, want sell_dominant", got)
	}
}

// Imbalance sums only look at the top 10 levels per side.
func TestImbalanceTopLevelsOnly(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")

	bids := make([]types.PriceLevel, 15)
	for i := range bids {
		bids[i] = level(100-float64(i)*0.1, 1)
	}
	b.Apply(types.DepthSnapshot{
		Bids: bids,
		Asks: []types.PriceLevel{level(100.1, 2)},
	})

	imb := b.Imbalance()
	if imb.BuySum != 10 {
		t.Errorf("BuySum = %v, want 10 (top 10 of 15 levels)", imb.BuySum)
	}
}

// Books shallower than 10 levels use whatever is present.
func TestImbalanceShallowBook(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")
	b.Apply(types.DepthSnapshot{
		Bids: []types.PriceLevel{level(99.9, 1), level(99.8, 1)},
		Asks: []types.PriceLevel{level(100.1, 3)},
	})

	imb := b.Imbalance()
	if imb.BuySum != 2 || imb.SellSum != 3 {
		t.Errorf("sums = (%v, %v), want (2, 3)", imb.BuySum, imb.SellSum)
	}
}

// An empty opposite side is maximal dominance, not a missing signal; an
// empty book on both sides yields no signal at all.
func TestImbalanceEmptySide(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")

	b.Apply(types.DepthSnapshot{
		Bids: []types.PriceLevel{level(99.9, 0)},
		Asks: []types.PriceLevel{level(100.1, 0.7)},
	})
	imb := b.Imbalance()
	if imb.Label != SellDominant {
		t.Errorf("label = %v with buySum=0, want sell_dominant", imb.Label)
	}

	b.Apply(types.DepthSnapshot{
		Bids: []types.PriceLevel{level(99.9, 0.7)},
		Asks: []types.PriceLevel{level(100.1, 0)},
	})
	if got := b.Imbalance().Label; got != BuyDominant {
		t.Errorf("label = %v with sellSum=0, want buy_dominant", got)
	}

	b.Apply(types.DepthSnapshot{
		Bids: []types.PriceLevel{level(99.9, 0)},
		Asks: []types.PriceLevel{level(100.1, 0)},
	})
	if got := b.Imbalance().Label; got != Balanced {
		t.Errorf("label = %v with both sums zero, want balanced", got)
	}
}

func TestIsStale(t *testing.T) {
	t.Parallel()
	b := NewBook("BTCUSDT")

	if !b.IsStale(time.Second) {
		t.Error("fresh book with no data should be stale")
	}

	b.Apply(types.DepthSnapshot{
		Bids: []types.PriceLevel{level(99.9, 1)},
		Asks: []types.PriceLevel{level(100.1, 1)},
	})
	if b.IsStale(time.Minute) {
		t.Error("just-updated book reported stale")
	}
}
