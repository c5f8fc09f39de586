package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType selects how an order is priced.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// TimeInForce controls how long an order remains eligible for execution.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusSubmitted      OrderStatus = "SUBMITTED"
	OrderStatusPartialFilled  OrderStatus = "PARTIAL_FILLED"
	OrderStatusFilled         OrderStatus = "FILLED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRejected       OrderStatus = "REJECTED"
	OrderStatusFailed         OrderStatus = "FAILED"
	OrderStatusPendingCancel  OrderStatus = "PENDING_CANCEL"
	OrderStatusExpired        OrderStatus = "EXPIRED"
)

// Order is a trading instruction synthesized from a strategy signal.
//
// Invariants (enforced by the order engine, not repeated at every call
// site):
//   - Quantity must be positive.
//   - LIMIT and STOP_LIMIT orders require Price.
//   - STOP and STOP_LIMIT orders require StopPrice.
//   - FilledQuantity never exceeds Quantity.
//   - Status transitions only move forward (PENDING -> ... -> terminal).
type Order struct {
	OrderID         string          `json:"order_id"`
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	OrderType       OrderType       `json:"order_type"`
	Quantity        int64           `json:"quantity"`
	Price           decimal.Decimal `json:"price,omitempty"`
	StopPrice       decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce     TimeInForce     `json:"time_in_force"`
	StrategyName    string          `json:"strategy_name,omitempty"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	FilledQuantity  int64           `json:"filled_quantity"`
	AverageFillPrice decimal.Decimal `json:"average_fill_price,omitempty"`
	Commission      decimal.Decimal `json:"commission,omitempty"`
	BrokerOrderID   string          `json:"broker_order_id,omitempty"`
	Priority        int             `json:"priority"`
	SubmittedAt     time.Time       `json:"submitted_at,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// RemainingQuantity returns the unfilled portion of the order.
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// IsActive reports whether the order can still receive fills.
func (o *Order) IsActive() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusSubmitted, OrderStatusPartialFilled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the order has reached a final state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Fill is a single execution report against an order.
type Fill struct {
	FillID       string          `json:"fill_id"`
	OrderID      string          `json:"order_id"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Commission   decimal.Decimal `json:"commission"`
	Timestamp    time.Time       `json:"timestamp"`
	BrokerFillID string          `json:"broker_fill_id,omitempty"`
}

// Position is the accumulated holding of a symbol.
type Position struct {
	Symbol         string          `json:"symbol"`
	Quantity       int64           `json:"quantity"`
	AveragePrice   decimal.Decimal `json:"average_price"`
	MarketPrice    decimal.Decimal `json:"market_price"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// MarketValue is the position's value at the last known market price.
func (p *Position) MarketValue() decimal.Decimal {
	return decimal.NewFromInt(p.Quantity).Mul(p.MarketPrice)
}

// CostBasis is the absolute cost of the position at its average price.
func (p *Position) CostBasis() decimal.Decimal {
	return decimal.NewFromInt(p.Quantity).Abs().Mul(p.AveragePrice)
}

func (p *Position) IsLong() bool { return p.Quantity > 0 }
func (p *Position) IsShort() bool { return p.Quantity < 0 }
func (p *Position) IsFlat() bool  { return p.Quantity == 0 }

// TradingSignal is a strategy's recommendation to act on a symbol.
type TradingSignal struct {
	SignalID     string          `json:"signal_id"`
	StrategyName string          `json:"strategy_name"`
	Symbol       string          `json:"symbol"`
	Side         OrderSide       `json:"side"`
	Confidence   float64         `json:"confidence"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	Quantity     int64           `json:"quantity,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}
