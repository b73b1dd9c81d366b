// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order sides, types and
// statuses, account/position snapshots, depth levels, and the desired-order /
// order-plan structures exchanged between the strategy engine and the
// coordinator. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"strconv"
	"strings"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// OrderType enumerates the order types the engine places or observes.
type OrderType string

const (
	OrderTypeLimit         OrderType = "LIMIT"
	OrderTypeMarket        OrderType = "MARKET"
	OrderTypeStop          OrderType = "STOP" // stop-limit
	OrderTypeStopMarket    OrderType = "STOP_MARKET"
	OrderTypeTrailingStop  OrderType = "TRAILING_STOP_MARKET"
	OrderTypeTakeProfit    OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitMkt OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus enumerates the exchange order lifecycle states.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether the order can no longer rest on the book.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

// TimeInForce controls how long a limit order stays working.
type TimeInForce string

const (
	TIFGoodTilCancel     TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFPostOnly          TimeInForce = "GTX" // maker-only, rejects if it would cross
)

// ————————————————————————————————————————————————————————————————————————
// Account & position
// ————————————————————————————————————————————————————————————————————————

// PositionEpsilon is the flat threshold: |PositionAmt| below this is treated
// as no position.
const PositionEpsilon = 1e-5

// PositionSnapshot is the per-symbol position state from the account feed.
// PositionAmt is signed: long > 0, short < 0. A MarkPrice of 0 means the
// exchange did not report one.
type PositionSnapshot struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt"`
	EntryPrice       float64 `json:"entryPrice"`
	MarkPrice        float64 `json:"markPrice"`
	UnrealizedProfit float64 `json:"unrealizedProfit"`
}

// IsFlat reports whether the position is effectively zero.
func (p PositionSnapshot) IsFlat() bool {
	return abs(p.PositionAmt) < PositionEpsilon
}

// CloseSide returns the side that would reduce this position.
func (p PositionSnapshot) CloseSide() Side {
	if p.PositionAmt > 0 {
		return SELL
	}
	return BUY
}

// AccountSnapshot is the full account state delivered by the account feed.
type AccountSnapshot struct {
	TotalUnrealizedProfit float64            `json:"totalUnrealizedProfit"`
	Positions             []PositionSnapshot `json:"positions"`
}

// Position returns the snapshot for symbol, or a flat zero-value snapshot.
func (a AccountSnapshot) Position(symbol string) PositionSnapshot {
	for _, p := range a.Positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return PositionSnapshot{Symbol: symbol}
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OpenOrder represents a live (or recently terminal) order as reported by the
// exchange. Price and quantity fields are strings because the API returns
// them as strings to preserve decimal precision.
type OpenOrder struct {
	OrderID       int64       `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Status        OrderStatus `json:"status"`
	Price         string      `json:"price"`
	OrigQty       string      `json:"origQty"`
	ExecutedQty   string      `json:"executedQty"`
	StopPrice     string      `json:"stopPrice"`
	ReduceOnly    bool        `json:"reduceOnly"`
	ClosePosition bool        `json:"closePosition"`
	UpdateTime    int64       `json:"updateTime"`
	Time          int64       `json:"time"`
}

// IsStopLike reports whether the order carries a stop trigger: either a
// positive stopPrice or a STOP-family type.
func (o OpenOrder) IsStopLike() bool {
	if ParseFloat(o.StopPrice) > 0 {
		return true
	}
	return strings.Contains(string(o.Type), "STOP")
}

// PriceValue returns the parsed limit price (0 if unset or unparsable).
func (o OpenOrder) PriceValue() float64 { return ParseFloat(o.Price) }

// OrigQtyValue returns the parsed original quantity.
func (o OpenOrder) OrigQtyValue() float64 { return ParseFloat(o.OrigQty) }

// StopPriceValue returns the parsed stop trigger price.
func (o OpenOrder) StopPriceValue() float64 { return ParseFloat(o.StopPrice) }

// DesiredOrder is what the strategy wants resting on the book. Price is a
// string already rounded to the instrument tick so it can go straight to the
// API boundary without float-repr drift.
type DesiredOrder struct {
	Side       Side
	Price      string
	Amount     float64
	ReduceOnly bool
}

// PriceValue returns the parsed desired price.
func (d DesiredOrder) PriceValue() float64 { return ParseFloat(d.Price) }

// OrderPlan is the minimal cancel+place diff that converges the live order
// set to the desired set.
type OrderPlan struct {
	ToCancel []OpenOrder
	ToPlace  []DesiredOrder
}

// Empty reports whether the plan requires no action.
func (p OrderPlan) Empty() bool { return len(p.ToCancel) == 0 && len(p.ToPlace) == 0 }

// CreateOrderParams is the request shape for exchange.Port.CreateOrder.
// Price, Quantity and StopPrice are pre-rounded strings; empty means unset.
type CreateOrderParams struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Price         string
	Quantity      string
	StopPrice     string
	ReduceOnly    bool
	ClosePosition bool
	TimeInForce   TimeInForce
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Strings preserve API precision.
type PriceLevel struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

// DepthSnapshot is a point-in-time view of the order book.
// Bids are sorted descending by price, asks ascending; top-of-book is
// guaranteed valid by the feed.
type DepthSnapshot struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// TickerSnapshot is the latest trade information for the symbol.
type TickerSnapshot struct {
	LastPrice float64 `json:"lastPrice"`
}

// ParseFloat parses an API decimal string, returning 0 on failure.
func ParseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
