// adapter.go glues the REST client and the two WebSocket feeds together
// behind the Port interface consumed by the strategy engine.
package exchange

import (
	"context"
	"log/slog"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/config"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// Adapter is the concrete futures venue implementation of Port.
type Adapter struct {
	cfg    config.APIConfig
	client *Client
	market *MarketFeed
	user   *UserFeed
	logger *slog.Logger
}

var _ Port = (*Adapter)(nil)

// NewAdapter wires the REST client and feeds for one symbol.
func NewAdapter(cfg config.Config, logger *slog.Logger) *Adapter {
	client := NewClient(cfg.API, cfg.DryRun, logger)
	return &Adapter{
		cfg:    cfg.API,
		client: client,
		market: NewMarketFeed(cfg.API.WSBaseURL, cfg.Trading.Symbol, logger),
		user:   NewUserFeed(client, cfg.Trading.Symbol, logger),
		logger: logger.With("component", "adapter"),
	}
}

// RunMarketFeed blocks maintaining the public stream until ctx is cancelled.
func (a *Adapter) RunMarketFeed(ctx context.Context) error {
	return a.market.Run(ctx)
}

// RunUserFeed blocks maintaining the user-data stream until ctx is cancelled.
func (a *Adapter) RunUserFeed(ctx context.Context) error {
	return a.user.Run(ctx, a.cfg.WSBaseURL)
}

func (a *Adapter) WatchAccount(cb func(types.AccountSnapshot)) Unsubscribe {
	return a.user.SubscribeAccount(cb)
}

func (a *Adapter) WatchOrders(cb func([]types.OpenOrder)) Unsubscribe {
	return a.user.SubscribeOrders(cb)
}

func (a *Adapter) WatchDepth(symbol string, cb func(types.DepthSnapshot)) Unsubscribe {
	return a.market.SubscribeDepth(cb)
}

func (a *Adapter) WatchTicker(symbol string, cb func(types.TickerSnapshot)) Unsubscribe {
	return a.market.SubscribeTicker(cb)
}

func (a *Adapter) CreateOrder(ctx context.Context, params types.CreateOrderParams) (types.OpenOrder, error) {
	return a.client.CreateOrder(ctx, params)
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return a.client.CancelOrder(ctx, symbol, orderID)
}

func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) error {
	return a.client.CancelAllOrders(ctx, symbol)
}

func (a *Adapter) SupportsTrailingStops() bool {
	return a.client.SupportsTrailingStops()
}
