package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType is a closed tag set partitioning event payload shapes.
type EventType string

const (
	EventTypeMarketDataReceived   EventType = "market_data_received"
	EventTypeCandleUpdated        EventType = "candle_updated"
	EventTypeIndicatorsUpdated    EventType = "indicators_updated"
	EventTypeTradingSignal        EventType = "trading_signal"
	EventTypeStrategySignal       EventType = "strategy_signal"
	EventTypeOrderPlaced          EventType = "order_placed"
	EventTypeOrderExecuted        EventType = "order_executed"
	EventTypeOrderPartiallyExecuted EventType = "order_partially_executed"
	EventTypeOrderFullyExecuted   EventType = "order_fully_executed"
	EventTypeOrderCancelled       EventType = "order_cancelled"
	EventTypeOrderFailed          EventType = "order_failed"
	EventTypePositionUpdated      EventType = "position_updated"
	EventTypeRiskAlert            EventType = "risk_alert"
	EventTypeEmergencyStop        EventType = "emergency_stop"
	EventTypeEngineStarted        EventType = "engine_started"
	EventTypeEngineStopped        EventType = "engine_stopped"
	EventTypeSystemStatus         EventType = "system_status"
	EventTypeSystemError          EventType = "system_error"
	EventTypeHeartbeat            EventType = "heartbeat"
	EventTypeStalePartialFillAlert EventType = "stale_partial_fill_alert"
)

// Priority governs dispatch weighting and backpressure shedding, not
// Order Queue ordering (that has its own numeric priority, see orderqueue).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Event is an immutable envelope around a typed payload. Construct
// through NewEvent; nothing mutates an Event after it is published.
type Event struct {
	EventID       string
	EventType     EventType
	Source        string
	Timestamp     time.Time
	CorrelationID string
	Priority      Priority
	TTL           time.Duration // zero means no expiry
	Data          any
}

// NewEvent constructs an Event with a fresh id and the current time.
func NewEvent(eventType EventType, source string, data any, opts ...EventOption) Event {
	e := Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Priority:  PriorityNormal,
		Data:      data,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// EventOption customizes an Event at construction.
type EventOption func(*Event)

func WithCorrelationID(id string) EventOption {
	return func(e *Event) { e.CorrelationID = id }
}

func WithPriority(p Priority) EventOption {
	return func(e *Event) { e.Priority = p }
}

func WithTTL(ttl time.Duration) EventOption {
	return func(e *Event) { e.TTL = ttl }
}

// Expired reports whether the event has outlived its TTL as of now.
func (e Event) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.Timestamp) > e.TTL
}
