// Package exchange implements the futures venue adapter: REST order
// management and WebSocket data feeds, glued together behind the Port
// interface in port.go.
//
// The REST client (Client) talks to the USDT-margined futures API:
//   - CreateOrder:     POST   /fapi/v1/order          — place limit/market/stop orders
//   - CancelOrder:     DELETE /fapi/v1/order          — cancel one order by id
//   - CancelAllOrders: DELETE /fapi/v1/allOpenOrders  — flush every order on a symbol
//   - StartUserStream: POST   /fapi/v1/listenKey      — open the user-data stream
//   - KeepAliveUserStream: PUT /fapi/v1/listenKey     — extend the stream lease
//
// Every request is paced via per-category GCRA pacers, automatically
// retried on 5xx/network errors, and carries the API key header; trading and
// account requests are also signed with an HMAC-SHA256 query parameter (see
// auth.go). Every failure is classified into the typed taxonomy in errors.go
// before it is returned.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/internal/config"
	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

// Client is the futures REST API client. It wraps a resty HTTP client with
// rate limiting, retry, auth, and typed error classification.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger

	dryRunID atomic.Int64 // synthetic order ids in dry-run mode
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.APIConfig, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			// 429/418 must surface to the cycle controller, never retry them here
			return r.StatusCode() >= 500
		}).
		SetHeader("X-MBX-APIKEY", cfg.APIKey)

	return &Client{
		http:   httpClient,
		auth:   NewAuth(cfg.APIKey, cfg.APISecret),
		rl:     NewRateLimiter(),
		dryRun: dryRun,
		logger: logger.With("component", "rest"),
	}
}

// apiErrorBody is the venue's JSON error envelope.
type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// classify turns a resty response/error pair into a typed error, or nil on success.
func classify(resp *resty.Response, err error) error {
	if err != nil {
		return NewTransportError(err)
	}
	if resp.StatusCode() == http.StatusOK {
		return nil
	}
	var body apiErrorBody
	if jsonErr := json.Unmarshal(resp.Body(), &body); jsonErr != nil || body.Code == 0 {
		return ClassifyAPIError(resp.StatusCode(), 0, resp.String())
	}
	return ClassifyAPIError(resp.StatusCode(), body.Code, body.Msg)
}

// CreateOrder places an order and returns the exchange's view of it.
func (c *Client) CreateOrder(ctx context.Context, p types.CreateOrderParams) (types.OpenOrder, error) {
	if c.dryRun {
		id := c.dryRunID.Add(1)
		c.logger.Info("DRY-RUN: would create order",
			"side", p.Side, "type", p.Type, "price", p.Price, "qty", p.Quantity)
		return types.OpenOrder{
			OrderID: id,
			Symbol:  p.Symbol,
			Side:    p.Side,
			Type:    p.Type,
			Status:  types.StatusNew,
			Price:   p.Price,
			OrigQty: p.Quantity,
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.OpenOrder{}, NewTransportError(err)
	}

	params := url.Values{}
	params.Set("symbol", p.Symbol)
	params.Set("side", string(p.Side))
	params.Set("type", string(p.Type))
	if p.Quantity != "" {
		params.Set("quantity", p.Quantity)
	}
	if p.Price != "" {
		params.Set("price", p.Price)
	}
	if p.StopPrice != "" {
		params.Set("stopPrice", p.StopPrice)
	}
	if p.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if p.ClosePosition {
		params.Set("closePosition", "true")
	}
	if p.TimeInForce != "" {
		params.Set("timeInForce", string(p.TimeInForce))
	}

	var result types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Post("/fapi/v1/order?" + c.auth.Sign(params))
	if cErr := classify(resp, err); cErr != nil {
		return types.OpenOrder{}, fmt.Errorf("create order: %w", cErr)
	}

	c.logger.Debug("order created",
		"order_id", result.OrderID, "side", p.Side, "type", p.Type, "price", p.Price)
	return result, nil
}

// CancelOrder cancels one order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return NewTransportError(err)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/fapi/v1/order?" + c.auth.Sign(params))
	if cErr := classify(resp, err); cErr != nil {
		return fmt.Errorf("cancel order %d: %w", orderID, cErr)
	}
	return nil
}

// CancelAllOrders flushes every open order on the symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders", "symbol", symbol)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return NewTransportError(err)
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/fapi/v1/allOpenOrders?" + c.auth.Sign(params))
	if cErr := classify(resp, err); cErr != nil {
		return fmt.Errorf("cancel all orders: %w", cErr)
	}

	c.logger.Warn("all orders cancelled", "symbol", symbol)
	return nil
}

// SupportsTrailingStops reports the venue capability; USDT-margined futures
// accept TRAILING_STOP_MARKET orders.
func (c *Client) SupportsTrailingStops() bool { return true }

// QueryOpenOrders fetches the full open-order list for a symbol. Used to
// seed the orders mirror when the user stream (re)connects.
func (c *Client) QueryOpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	if c.dryRun {
		return nil, nil
	}
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, NewTransportError(err)
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	var result []types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/fapi/v1/openOrders?" + c.auth.Sign(params))
	if cErr := classify(resp, err); cErr != nil {
		return nil, fmt.Errorf("query open orders: %w", cErr)
	}
	return result, nil
}

// accountResponse is the wire shape of GET /fapi/v2/account (fields we use).
type accountResponse struct {
	TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	Positions             []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnrealizedProfit string `json:"unrealizedProfit"`
	} `json:"positions"`
}

// QueryAccount fetches the current account snapshot. Used to seed the account
// mirror when the user stream (re)connects.
func (c *Client) QueryAccount(ctx context.Context) (types.AccountSnapshot, error) {
	if c.dryRun {
		return types.AccountSnapshot{}, nil
	}
	if err := c.rl.Query.Wait(ctx); err != nil {
		return types.AccountSnapshot{}, NewTransportError(err)
	}

	var result accountResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/fapi/v2/account?" + c.auth.Sign(url.Values{}))
	if cErr := classify(resp, err); cErr != nil {
		return types.AccountSnapshot{}, fmt.Errorf("query account: %w", cErr)
	}

	snap := types.AccountSnapshot{
		TotalUnrealizedProfit: types.ParseFloat(result.TotalUnrealizedProfit),
	}
	for _, p := range result.Positions {
		snap.Positions = append(snap.Positions, types.PositionSnapshot{
			Symbol:           p.Symbol,
			PositionAmt:      types.ParseFloat(p.PositionAmt),
			EntryPrice:       types.ParseFloat(p.EntryPrice),
			MarkPrice:        types.ParseFloat(p.MarkPrice),
			UnrealizedProfit: types.ParseFloat(p.UnrealizedProfit),
		})
	}
	return snap, nil
}

// StartUserStream opens a user-data stream and returns its listen key.
func (c *Client) StartUserStream(ctx context.Context) (string, error) {
	if c.dryRun {
		return "dry-run-listen-key", nil
	}
	if err := c.rl.Query.Wait(ctx); err != nil {
		return "", NewTransportError(err)
	}

	var result struct {
		ListenKey string `json:"listenKey"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Post("/fapi/v1/listenKey")
	if cErr := classify(resp, err); cErr != nil {
		return "", fmt.Errorf("start user stream: %w", cErr)
	}
	return result.ListenKey, nil
}

// KeepAliveUserStream extends the listen-key lease. Call every ~30 minutes.
func (c *Client) KeepAliveUserStream(ctx context.Context) error {
	if c.dryRun {
		return nil
	}
	if err := c.rl.Query.Wait(ctx); err != nil {
		return NewTransportError(err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Put("/fapi/v1/listenKey")
	if cErr := classify(resp, err); cErr != nil {
		return fmt.Errorf("keepalive user stream: %w", cErr)
	}
	return nil
}
