// ws.go implements the WebSocket feeds for real-time futures data.
//
// Two independent feeds run concurrently:
//
//   - Market feed (public): a combined stream carrying <symbol>@depth20@100ms
//     partial-book snapshots and <symbol>@ticker last-price updates.
//
//   - User feed (authenticated): the listen-key user-data stream carrying
//     ACCOUNT_UPDATE and ORDER_TRADE_UPDATE events. Because the venue sends
//     order deltas, the feed maintains a local order mirror and always
//     delivers the full open-order list to subscribers — never deltas.
//
// Both feeds auto-reconnect with exponential backoff (1s → 30s max), keep a
// read deadline so silent server failures are detected, and invoke
// subscriber callbacks in arrival order.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crazyfarmer887-ops/ritmex-bot-new/pkg/types"
)

const (
	wsReadTimeout      = 90 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	listenKeyKeepAlive = 30 * time.Minute
)

// subscribers is a small registry of callbacks keyed by registration id.
type subscribers[T any] struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(T)
}

func newSubscribers[T any]() *subscribers[T] {
	return &subscribers[T]{subs: make(map[int]func(T))}
}

func (s *subscribers[T]) add(cb func(T)) Unsubscribe {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *subscribers[T]) publish(v T) {
	s.mu.RLock()
	cbs := make([]func(T), 0, len(s.subs))
	for _, cb := range s.subs {
		cbs = append(cbs, cb)
	}
	s.mu.RUnlock()
	for _, cb := range cbs {
		cb(v)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market feed
// ————————————————————————————————————————————————————————————————————————

// MarketFeed maintains the public combined stream for one symbol and fans
// depth and ticker snapshots out to subscribers.
type MarketFeed struct {
	wsBase string
	symbol string

	depthSubs  *subscribers[types.DepthSnapshot]
	tickerSubs *subscribers[types.TickerSnapshot]

	logger *slog.Logger
}

// NewMarketFeed creates the public market-data feed for symbol.
func NewMarketFeed(wsBase, symbol string, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		wsBase:     wsBase,
		symbol:     strings.ToLower(symbol),
		depthSubs:  newSubscribers[types.DepthSnapshot](),
		tickerSubs: newSubscribers[types.TickerSnapshot](),
		logger:     logger.With("component", "ws_market"),
	}
}

// SubscribeDepth registers a depth-snapshot callback.
func (f *MarketFeed) SubscribeDepth(cb func(types.DepthSnapshot)) Unsubscribe {
	return f.depthSubs.add(cb)
}

// SubscribeTicker registers a last-price callback.
func (f *MarketFeed) SubscribeTicker(cb func(types.TickerSnapshot)) Unsubscribe {
	return f.tickerSubs.add(cb)
}

// Run connects and maintains the stream with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *MarketFeed) Run(ctx context.Context) error {
	url := fmt.Sprintf("%s/stream?streams=%s@depth20@100ms/%s@ticker", f.wsBase, f.symbol, f.symbol)
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx, url)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("market stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

func (f *MarketFeed) connectAndRead(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	conn.SetPingHandler(func(appData string) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	f.logger.Info("market stream connected", "symbol", f.symbol)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

// combinedEnvelope is the {"stream": "...", "data": {...}} wrapper used by
// the combined-stream endpoint.
type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wsDepthPayload struct {
	Bids [][2]string `json:"b"`
	Asks [][2]string `json:"a"`
}

type wsTickerPayload struct {
	LastPrice string `json:"c"`
}

func (f *MarketFeed) dispatchMessage(data []byte) {
	var env combinedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Debug("ignoring non-json ws message")
		return
	}

	switch {
	case strings.Contains(env.Stream, "@depth"):
		var payload wsDepthPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			f.logger.Error("unmarshal depth event", "error", err)
			return
		}
		snap := types.DepthSnapshot{
			Bids: toLevels(payload.Bids),
			Asks: toLevels(payload.Asks),
		}
		if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
			return // top-of-book must be valid before delivery
		}
		f.depthSubs.publish(snap)

	case strings.Contains(env.Stream, "@ticker"):
		var payload wsTickerPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			f.logger.Error("unmarshal ticker event", "error", err)
			return
		}
		last := types.ParseFloat(payload.LastPrice)
		if last <= 0 {
			return
		}
		f.tickerSubs.publish(types.TickerSnapshot{LastPrice: last})

	default:
		f.logger.Debug("unknown market stream", "stream", env.Stream)
	}
}

func toLevels(raw [][2]string) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(raw))
	for _, l := range raw {
		levels = append(levels, types.PriceLevel{Price: l[0], Qty: l[1]})
	}
	return levels
}

// ————————————————————————————————————————————————————————————————————————
// User feed
// ————————————————————————————————————————————————————————————————————————

// UserFeed maintains the authenticated user-data stream. It mirrors the
// account state and the open-order set locally: on every ORDER_TRADE_UPDATE
// the mirror is updated and the FULL order list is delivered to subscribers,
// including the just-turned-terminal order exactly once so pending-id
// observers can release their locks.
type UserFeed struct {
	client *Client
	symbol string

	accountSubs *subscribers[types.AccountSnapshot]
	orderSubs   *subscribers[[]types.OpenOrder]

	mu      sync.Mutex
	account types.AccountSnapshot
	orders  map[int64]types.OpenOrder

	logger *slog.Logger
}

// NewUserFeed creates the authenticated user-data feed.
func NewUserFeed(client *Client, symbol string, logger *slog.Logger) *UserFeed {
	return &UserFeed{
		client:      client,
		symbol:      symbol,
		accountSubs: newSubscribers[types.AccountSnapshot](),
		orderSubs:   newSubscribers[[]types.OpenOrder](),
		orders:      make(map[int64]types.OpenOrder),
		logger:      logger.With("component", "ws_user"),
	}
}

// SubscribeAccount registers an account-snapshot callback.
func (f *UserFeed) SubscribeAccount(cb func(types.AccountSnapshot)) Unsubscribe {
	return f.accountSubs.add(cb)
}

// SubscribeOrders registers a full-order-list callback.
func (f *UserFeed) SubscribeOrders(cb func([]types.OpenOrder)) Unsubscribe {
	return f.orderSubs.add(cb)
}

// Run connects and maintains the user stream with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *UserFeed) Run(ctx context.Context, wsBase string) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx, wsBase)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("user stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

func (f *UserFeed) connectAndRead(ctx context.Context, wsBase string) error {
	listenKey, err := f.client.StartUserStream(ctx)
	if err != nil {
		return fmt.Errorf("listen key: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsBase+"/ws/"+listenKey, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	conn.SetPingHandler(func(appData string) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	f.logger.Info("user stream connected")

	// Seed the mirrors via REST so the first delivery is a true snapshot
	if err := f.seed(ctx); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	keepCtx, keepCancel := context.WithCancel(ctx)
	defer keepCancel()
	go f.keepAliveLoop(keepCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if f.dispatchMessage(msg) {
			return fmt.Errorf("listen key expired")
		}
	}
}

func (f *UserFeed) seed(ctx context.Context) error {
	account, err := f.client.QueryAccount(ctx)
	if err != nil {
		return err
	}
	open, err := f.client.QueryOpenOrders(ctx, f.symbol)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.account = account
	f.orders = make(map[int64]types.OpenOrder, len(open))
	for _, o := range open {
		f.orders[o.OrderID] = o
	}
	f.mu.Unlock()

	f.accountSubs.publish(account)
	f.publishOrders()
	return nil
}

func (f *UserFeed) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.client.KeepAliveUserStream(ctx); err != nil {
				f.logger.Warn("listen key keepalive failed", "error", err)
			}
		}
	}
}

// wsAccountUpdate is the ACCOUNT_UPDATE payload (fields we use).
type wsAccountUpdate struct {
	Data struct {
		Positions []struct {
			Symbol           string `json:"s"`
			PositionAmt      string `json:"pa"`
			EntryPrice       string `json:"ep"`
			UnrealizedProfit string `json:"up"`
		} `json:"P"`
	} `json:"a"`
}

// wsOrderUpdate is the ORDER_TRADE_UPDATE payload (fields we use).
type wsOrderUpdate struct {
	Order struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		Type          string `json:"o"`
		TimeInForce   string `json:"f"`
		OrigQty       string `json:"q"`
		Price         string `json:"p"`
		StopPrice     string `json:"sp"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		ExecutedQty   string `json:"z"`
		ReduceOnly    bool   `json:"R"`
		ClosePosition bool   `json:"cp"`
		TradeTime     int64  `json:"T"`
	} `json:"o"`
}

// dispatchMessage applies one user-stream event. It reports true when the
// stream must be re-established because the listen key expired.
func (f *UserFeed) dispatchMessage(data []byte) bool {
	var envelope struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message")
		return false
	}

	switch envelope.EventType {
	case "ACCOUNT_UPDATE":
		var evt wsAccountUpdate
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal account update", "error", err)
			return false
		}
		f.applyAccountUpdate(evt)

	case "ORDER_TRADE_UPDATE":
		var evt wsOrderUpdate
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal order update", "error", err)
			return false
		}
		f.applyOrderUpdate(evt)

	case "listenKeyExpired":
		f.logger.Warn("listen key expired, forcing reconnect")
		return true

	default:
		f.logger.Debug("ignoring user stream event", "type", envelope.EventType)
	}
	return false
}

func (f *UserFeed) applyAccountUpdate(evt wsAccountUpdate) {
	f.mu.Lock()
	for _, p := range evt.Data.Positions {
		updated := false
		for i := range f.account.Positions {
			if f.account.Positions[i].Symbol == p.Symbol {
				f.account.Positions[i].PositionAmt = types.ParseFloat(p.PositionAmt)
				f.account.Positions[i].EntryPrice = types.ParseFloat(p.EntryPrice)
				f.account.Positions[i].UnrealizedProfit = types.ParseFloat(p.UnrealizedProfit)
				updated = true
				break
			}
		}
		if !updated {
			f.account.Positions = append(f.account.Positions, types.PositionSnapshot{
				Symbol:           p.Symbol,
				PositionAmt:      types.ParseFloat(p.PositionAmt),
				EntryPrice:       types.ParseFloat(p.EntryPrice),
				UnrealizedProfit: types.ParseFloat(p.UnrealizedProfit),
			})
		}
	}
	total := 0.0
	for _, p := range f.account.Positions {
		total += p.UnrealizedProfit
	}
	f.account.TotalUnrealizedProfit = total
	snap := f.account
	f.mu.Unlock()

	f.accountSubs.publish(snap)
}

func (f *UserFeed) applyOrderUpdate(evt wsOrderUpdate) {
	o := evt.Order
	if o.Symbol != f.symbol {
		return
	}

	order := types.OpenOrder{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          types.Side(o.Side),
		Type:          types.OrderType(o.Type),
		Status:        types.OrderStatus(o.Status),
		Price:         o.Price,
		OrigQty:       o.OrigQty,
		ExecutedQty:   o.ExecutedQty,
		StopPrice:     o.StopPrice,
		ReduceOnly:    o.ReduceOnly,
		ClosePosition: o.ClosePosition,
		UpdateTime:    o.TradeTime,
		Time:          o.TradeTime,
	}

	f.mu.Lock()
	f.orders[order.OrderID] = order
	f.mu.Unlock()

	// The terminal order rides along in this delivery, then is pruned so the
	// next snapshot only holds live orders.
	f.publishOrders()

	if order.Status.IsTerminal() {
		f.mu.Lock()
		delete(f.orders, order.OrderID)
		f.mu.Unlock()
	}
}

func (f *UserFeed) publishOrders() {
	f.mu.Lock()
	list := make([]types.OpenOrder, 0, len(f.orders))
	for _, o := range f.orders {
		list = append(list, o)
	}
	f.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].OrderID < list[j].OrderID })
	f.orderSubs.publish(list)
}
