package events

import (
	"time"

	"github.com/bikeshrana/qbtrader/pkg/types"
)

// MarketDataPayload backs EventTypeMarketDataReceived.
type MarketDataPayload struct {
	MarketData   types.MarketData
	IntervalType string
	Indicators   map[string]float64
}

// IndicatorsUpdatedPayload backs EventTypeIndicatorsUpdated.
type IndicatorsUpdatedPayload struct {
	Symbol     string
	Indicators map[string]float64
}

// TradingSignalPayload backs EventTypeTradingSignal / EventTypeStrategySignal.
type TradingSignalPayload struct {
	Signal types.TradingSignal
}

// OrderPlacedPayload backs EventTypeOrderPlaced.
type OrderPlacedPayload struct {
	Order         types.Order
	BrokerOrderID string
}

// OrderExecutedPayload backs EventTypeOrderExecuted / PartiallyExecuted / FullyExecuted.
// Mirrors the broker notification schema in the external-interfaces contract:
// at minimum order_id|broker_order_id, symbol, side, quantity, price, timestamp.
type OrderExecutedPayload struct {
	OrderID      string
	BrokerOrderID string
	Symbol       string
	Side         types.OrderSide
	Quantity     int64
	Price        string // decimal transported as string across the adapter boundary
	Commission   string
	Timestamp    time.Time
	BrokerFillID string
}

// OrderCancelledPayload backs EventTypeOrderCancelled.
type OrderCancelledPayload struct {
	OrderID string
	Reason  string
}

// OrderFailedPayload backs EventTypeOrderFailed.
type OrderFailedPayload struct {
	OrderID   string
	ErrorKind string
	Reason    string
}

// PositionUpdatedPayload backs EventTypePositionUpdated.
type PositionUpdatedPayload struct {
	Position types.Position
}

// RiskAlertPayload backs EventTypeRiskAlert.
type RiskAlertPayload struct {
	Symbol    string
	Reason    string
	RiskScore float64
}

// SystemStatusPayload backs EventTypeSystemStatus / EngineStarted / EngineStopped.
type SystemStatusPayload struct {
	Component string
	Status    string
	Message   string
}

// SystemErrorPayload backs EventTypeSystemError.
type SystemErrorPayload struct {
	Component string
	Err       string
}

// StalePartialFillAlertPayload backs EventTypeStalePartialFillAlert.
type StalePartialFillAlertPayload struct {
	OrderID       string
	Symbol        string
	FilledQuantity int64
	TotalQuantity int64
	SinceLastFill time.Duration
}
