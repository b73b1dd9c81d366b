// Package market provides the local order book mirror for one symbol.
//
// Book keeps the latest depth snapshot pushed by the market feed and derives
// the values the strategy layer needs: top-of-book, spread, and the top-10
// depth imbalance that drives side suppression and forced exits. It is
// concurrency-safe (RWMutex protected); the feed goroutine writes, the
// engine goroutine reads.
package market

import (
	"sync"
	"time"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// ImbalanceLevels is how many levels per side enter the imbalance sums.
const ImbalanceLevels = 10

// ImbalanceLabel classifies the top-of-book depth ratio.
type ImbalanceLabel string

const (
	Balanced     ImbalanceLabel = "balanced"
	BuyDominant  ImbalanceLabel = "buy_dominant"
	SellDominant ImbalanceLabel = "sell_dominant"
)

// Imbalance summarizes the size-weighted pressure on each side of the book.
type Imbalance struct {
	BuySum  float64 // total bid size over the top levels
	SellSum float64 // total ask size over the top levels
	Label   ImbalanceLabel
}

// DominanceRatio is the one-sided ratio at which the book stops being balanced.
const DominanceRatio = 3.0

// Level is a parsed price level.
type Level struct {
	Price float64
	Qty   float64
}

// Book maintains a local mirror of the order book for one symbol.
type Book struct {
	mu      sync.RWMutex
	symbol  string
	bids    []Level // descending by price
	asks    []Level // ascending by price
	updated time.Time
}

// NewBook creates an empty book for symbol.
func NewBook(symbol string) *Book {
	return &Book{symbol: symbol}
}

// Apply replaces the book with a fresh depth snapshot.
func (b *Book) Apply(snap types.DepthSnapshot) {
	bids := parseLevels(snap.Bids)
	asks := parseLevels(snap.Asks)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = bids
	b.asks = asks
	b.updated = time.Now()
}

func parseLevels(raw []types.PriceLevel) []Level {
	levels := make([]Level, 0, len(raw))
	for _, l := range raw {
		levels = append(levels, Level{
			Price: types.ParseFloat(l.Price),
			Qty:   types.ParseFloat(l.Qty),
		})
	}
	return levels
}

// TopOfBook returns the best bid and ask. ok is false while the book is empty
// on either side.
func (b *Book) TopOfBook() (bid, ask float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) == 0 || len(b.asks) == 0 {
		return 0, 0, false
	}
	return b.bids[0].Price, b.asks[0].Price, true
}

// Imbalance sums the sizes over the top ImbalanceLevels per side and labels
// the result. Books with fewer levels use whatever is present.
func (b *Book) Imbalance() Imbalance {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var imb Imbalance
	for i := 0; i < len(b.bids) && i < ImbalanceLevels; i++ {
		imb.BuySum += b.bids[i].Qty
	}
	for i := 0; i < len(b.asks) && i < ImbalanceLevels; i++ {
		imb.SellSum += b.asks[i].Qty
	}

	// The ratio test keys on the dominant side being nonzero: an empty
	// opposite side is maximal dominance, an empty book is no signal at all.
	switch {
	case imb.BuySum > 0 && imb.BuySum >= DominanceRatio*imb.SellSum:
		imb.Label = BuyDominant
	case imb.SellSum > 0 && imb.SellSum >= DominanceRatio*imb.BuySum:
		imb.Label = SellDominant
	default:
		imb.Label = Balanced
	}
	return imb
}

// IsStale returns true if the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last book update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}
