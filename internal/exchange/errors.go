// errors.go defines the closed error taxonomy for exchange operations.
//
// Every REST or WebSocket failure is translated into exactly one of these
// kinds before it reaches the strategy layer, so callers can match on kind
// instead of probing venue-specific codes or HTTP statuses:
//
//   - UnknownOrder:        the order id is not known to the exchange
//   - InsufficientBalance: margin/balance too low for the placement
//   - RateLimit:           429/418 or the venue's too-many-requests code
//   - Rejected:            the venue refused the order for any other reason
//   - Transport:           network failure, timeout, or a 5xx
//   - InvalidState:        an internal invariant was violated (never venue-originated)
package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an exchange failure.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindUnknownOrder
	KindInsufficientBalance
	KindRateLimit
	KindRejected
	KindInvalidState
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnknownOrder:
		return "unknown_order"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindRateLimit:
		return "rate_limit"
	case KindRejected:
		return "rejected"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "transport"
	}
}

// APIError is a classified failure from the exchange. Code and HTTPStatus
// carry the raw venue diagnostics for logging; Kind is what callers match on.
type APIError struct {
	Kind       ErrorKind
	Code       int    // venue error code, 0 if none
	HTTPStatus int    // 0 for non-HTTP failures
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange %s (code %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange %s: %s", e.Kind, e.Message)
}

// Venue error codes for USDT-margined futures.
const (
	codeTooManyRequests     = -1003
	codeInsufficientBalance = -2010
	codeUnknownOrderSent    = -2011
	codeOrderDoesNotExist   = -2013
	codeMarginInsufficient  = -2019
)

// ClassifyAPIError maps a venue error code + HTTP status to an APIError.
func ClassifyAPIError(httpStatus, code int, message string) *APIError {
	kind := KindRejected
	switch {
	case code == codeUnknownOrderSent || code == codeOrderDoesNotExist:
		kind = KindUnknownOrder
	case code == codeInsufficientBalance || code == codeMarginInsufficient:
		kind = KindInsufficientBalance
	case code == codeTooManyRequests || httpStatus == 429 || httpStatus == 418:
		kind = KindRateLimit
	case httpStatus >= 500:
		kind = KindTransport
	}
	return &APIError{Kind: kind, Code: code, HTTPStatus: httpStatus, Message: message}
}

// NewTransportError wraps a network-level failure.
func NewTransportError(err error) *APIError {
	return &APIError{Kind: KindTransport, Message: err.Error()}
}

// NewInvalidStateError reports a broken internal invariant.
func NewInvalidStateError(message string) *APIError {
	return &APIError{Kind: KindInvalidState, Message: message}
}

// kindOf extracts the ErrorKind from err, defaulting to KindTransport for
// unclassified errors.
func kindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return KindTransport, false
}

// IsUnknownOrder reports whether err is an unknown-order failure.
func IsUnknownOrder(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindUnknownOrder
}

// IsInsufficientBalance reports whether err is a balance/margin failure.
func IsInsufficientBalance(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindInsufficientBalance
}

// IsRateLimit reports whether err is a rate-limit failure.
func IsRateLimit(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindRateLimit
}

// IsInvalidState reports whether err is an internal invariant violation.
func IsInvalidState(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindInvalidState
}

// PriceGuardError is returned when a placement fails the slippage or
// price-sanity guard. It is a local refusal: no request reaches the exchange.
type PriceGuardError struct {
	Side     string
	Price    float64
	MarkPrice float64
	Slippage float64 // |price - mark| / mark
	Limit    float64
	Reason   string
}

func (e *PriceGuardError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("price guard: %s (side=%s price=%.8f)", e.Reason, e.Side, e.Price)
	}
	return fmt.Sprintf("price guard: slippage %.4f exceeds %.4f (side=%s price=%.8f mark=%.8f)",
		e.Slippage, e.Limit, e.Side, e.Price, e.MarkPrice)
}

// IsPriceGuard reports whether err is a price-guard refusal.
func IsPriceGuard(err error) bool {
	var pg *PriceGuardError
	return errors.As(err, &pg)
}
