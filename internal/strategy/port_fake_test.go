package strategy

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/exchange"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakePort is a scripted exchange.Port for strategy tests. Errors are
// consumed FIFO from the error queues; an empty queue means success.
type fakePort struct {
	mu sync.Mutex

	nextID    int64
	created   []types.CreateOrderParams
	createErr []error

	cancelled    []int64
	cancelErr    []error
	cancelledAll int
	cancelAllErr []error
}

var _ exchange.Port = (*fakePort)(nil)

func (f *fakePort) WatchAccount(func(types.AccountSnapshot)) exchange.Unsubscribe {
	return func() {}
}
func (f *fakePort) WatchOrders(func([]types.OpenOrder)) exchange.Unsubscribe {
	return func() {}
}
func (f *fakePort) WatchDepth(string, func(types.DepthSnapshot)) exchange.Unsubscribe {
	return func() {}
}
func (f *fakePort) WatchTicker(string, func(types.TickerSnapshot)) exchange.Unsubscribe {
	return func() {}
}

func (f *fakePort) CreateOrder(_ context.Context, p types.CreateOrderParams) (types.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.createErr) > 0 {
		err := f.createErr[0]
		f.createErr = f.createErr[1:]
		if err != nil {
			return types.OpenOrder{}, err
		}
	}

	f.nextID++
	f.created = append(f.created, p)
	return types.OpenOrder{
		OrderID:    f.nextID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Type:       p.Type,
		Status:     types.StatusNew,
		Price:      p.Price,
		OrigQty:    p.Quantity,
		StopPrice:  p.StopPrice,
		ReduceOnly: p.ReduceOnly,
		UpdateTime: time.Now().UnixMilli(),
	}, nil
}

func (f *fakePort) CancelOrder(_ context.Context, _ string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.cancelErr) > 0 {
		err := f.cancelErr[0]
		f.cancelErr = f.cancelErr[1:]
		if err != nil {
			return err
		}
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakePort) CancelAllOrders(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.cancelAllErr) > 0 {
		err := f.cancelAllErr[0]
		f.cancelAllErr = f.cancelAllErr[1:]
		if err != nil {
			return err
		}
	}
	f.cancelledAll++
	return nil
}

func (f *fakePort) SupportsTrailingStops() bool { return true }

func (f *fakePort) createdOrders() []types.CreateOrderParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.CreateOrderParams, len(f.created))
	copy(out, f.created)
	return out
}

func (f *fakePort) lastCreated() (types.CreateOrderParams, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return types.CreateOrderParams{}, false
	}
	return f.created[len(f.created)-1], true
}

func newTestCoordinator(port exchange.Port) *Coordinator {
	return NewCoordinator(port, "BTCUSDT", 0.1, 0.001, 0.05,
		4*time.Second, NewTradeLog(64), testLogger())
}
