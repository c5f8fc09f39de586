// Package broker declares the BrokerAdapter capability: the external
// execution venue the order engine submits orders to and reconciles
// fills against. Grounded on
// original_source/qb/engines/order_engine/base.py's BaseBrokerClient
// ABC (place_order/cancel_order/get_order_status/get_positions/
// get_account_balance), translated into a Go interface with
// context-bound calls and decimal-native balances.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bikeshrana/qbtrader/pkg/types"
)

// ErrorCategory classifies a broker failure so the order engine can
// decide whether a retry with backoff is worthwhile.
type ErrorCategory string

const (
	ErrorCategoryAuth             ErrorCategory = "AUTH"
	ErrorCategoryRateLimit        ErrorCategory = "RATE_LIMIT"
	ErrorCategoryInvalidRequest   ErrorCategory = "INVALID_REQUEST"
	ErrorCategoryInsufficientFunds ErrorCategory = "INSUFFICIENT_BALANCE"
	ErrorCategoryMarketClosed     ErrorCategory = "MARKET_CLOSED"
	ErrorCategoryTransport        ErrorCategory = "TRANSPORT"
	ErrorCategoryUnknown          ErrorCategory = "UNKNOWN"
)

// Retryable reports whether the order engine should retry a call that
// failed with this category: auth, transport and rate-limit failures
// are retried; every other category is not.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case ErrorCategoryAuth, ErrorCategoryTransport, ErrorCategoryRateLimit:
		return true
	default:
		return false
	}
}

// Error wraps a broker failure with its category, so callers can
// errors.As to it without parsing message strings.
type Error struct {
	Category ErrorCategory
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Category.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Category.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (c ErrorCategory) String() string { return string(c) }

// NewError constructs a categorized broker Error.
func NewError(category ErrorCategory, message string, cause error) *Error {
	return &Error{Category: category, Message: message, Err: cause}
}

// CategoryOf extracts the ErrorCategory from err if it is (or wraps) a
// *Error, defaulting to ErrorCategoryUnknown otherwise.
func CategoryOf(err error) ErrorCategory {
	var be *Error
	if errors.As(err, &be) {
		return be.Category
	}
	return ErrorCategoryUnknown
}

// OrderResult is the broker's synchronous response to an order
// submission or cancellation.
type OrderResult struct {
	OrderID       string
	Success       bool
	BrokerOrderID string
	Message       string
	Timestamp     time.Time
	ErrorCode     string
}

// AccountBalance reports the broker-side cash position consumed by
// the order engine's pre-trade validation step.
type AccountBalance struct {
	Cash           decimal.Decimal
	BuyingPower    decimal.Decimal
	EquityValue    decimal.Decimal
	Currency       string
}

// Adapter is the capability the order engine depends on to reach a
// trading venue. Every method is context-bound: the order engine
// enforces its own submission timeout rather than trusting an adapter
// to time out on its own.
type Adapter interface {
	PlaceOrder(ctx context.Context, order types.Order) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (types.Order, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
	GetAccountBalance(ctx context.Context) (AccountBalance, error)
}
