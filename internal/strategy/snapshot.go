// snapshot.go defines the immutable engine snapshot delivered to subscribers
// at the end of every tick and on every feed delivery.
package strategy

import (
	"log/slog"
	"sync"
	"time"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/market"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// FeedStatus records which feeds have delivered at least once.
type FeedStatus struct {
	Account bool `json:"account"`
	Orders  bool `json:"orders"`
	Depth   bool `json:"depth"`
	Ticker  bool `json:"ticker"`
}

// AllReady reports whether every feed has delivered.
func (f FeedStatus) AllReady() bool {
	return f.Account && f.Orders && f.Depth && f.Ticker
}

// Snapshot is a point-in-time view of the engine for observers. All slices
// are copies; the snapshot never aliases engine state.
type Snapshot struct {
	Time              time.Time
	Ready             bool
	TopBid            float64
	TopAsk            float64
	Spread            float64
	LastPrice         float64
	Position          types.PositionSnapshot
	PnL               float64
	AccountUnrealized float64
	SessionVolume     float64
	OpenOrders        []types.OpenOrder
	DesiredOrders     []types.DesiredOrder
	TradeLog          []LogEntry
	FeedStatus        FeedStatus

	// Offset-Maker extras; zero-valued in plain maker mode.
	DepthImbalance market.Imbalance
	SkipBuySide    bool
	SkipSellSide   bool
}

// snapshotFanout delivers snapshots to subscriber channels without blocking
// the engine: a slow subscriber loses snapshots, never stalls the tick.
type snapshotFanout struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Snapshot
	logger *slog.Logger
}

func newSnapshotFanout(logger *slog.Logger) *snapshotFanout {
	return &snapshotFanout{subs: make(map[int]chan Snapshot), logger: logger}
}

// subscribe returns a buffered snapshot channel and a cancel func.
func (f *snapshotFanout) subscribe() (<-chan Snapshot, func()) {
	f.mu.Lock()
	id := f.next
	f.next++
	ch := make(chan Snapshot, 16)
	f.subs[id] = ch
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		if existing, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(existing)
		}
		f.mu.Unlock()
	}
}

// publish sends snap to every subscriber, dropping per-subscriber when full.
func (f *snapshotFanout) publish(snap Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, ch := range f.subs {
		select {
		case ch <- snap:
		default:
			f.logger.Warn("snapshot subscriber lagging, dropping", "subscriber", id)
		}
	}
}
