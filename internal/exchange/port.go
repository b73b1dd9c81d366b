// port.go defines the exchange port: the capability surface the strategy
// engine needs from a futures venue. The REST client + WebSocket feeds in
// this package implement it for USDT-margined futures; tests implement it
// with scripted fakes.
package exchange

import (
	"context"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// Unsubscribe detaches a feed callback registered with one of the Watch
// methods. Safe to call more than once.
type Unsubscribe func()

// Port is the exchange capability interface.
//
// Watch callbacks are invoked from the adapter's read goroutines in arrival
// order per feed; the orders feed always delivers the full open-order list,
// never deltas. Mutating operations respect ctx for the transport timeout.
type Port interface {
	WatchAccount(cb func(types.AccountSnapshot)) Unsubscribe
	WatchOrders(cb func([]types.OpenOrder)) Unsubscribe
	WatchDepth(symbol string, cb func(types.DepthSnapshot)) Unsubscribe
	WatchTicker(symbol string, cb func(types.TickerSnapshot)) Unsubscribe

	CreateOrder(ctx context.Context, params types.CreateOrderParams) (types.OpenOrder, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOrders(ctx context.Context, symbol string) error

	SupportsTrailingStops() bool
}
