package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/qbtrader/internal/circuitbreaker"
	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/internal/core/position"
)

// Wire attaches event-bus subscribers and periodic pollers that drive
// the domain counters/gauges in TradingMetrics. It follows the same
// subscribe-and-drain pattern the entrypoint already uses for
// performance tracking: one long-lived goroutine per event type,
// exiting when ctx is cancelled or the bus closes the channel.
func (m *TradingMetrics) Wire(ctx context.Context, bus *events.EventBus, breakers *circuitbreaker.Manager, posMgr *position.Manager, logger zerolog.Logger) {
	go m.countSignals(ctx, bus)
	go m.countOrdersPlaced(ctx, bus)
	go m.countOrdersFailed(ctx, bus)
	go m.countFills(ctx, bus)
	go m.pollEventBus(ctx, bus)
	go m.pollCircuitBreakers(ctx, breakers)
	go m.pollActivePositions(ctx, posMgr)
}

func (m *TradingMetrics) countSignals(ctx context.Context, bus *events.EventBus) {
	id, ch := bus.Subscribe(events.EventTypeTradingSignal, nil, "metrics")
	defer bus.Unsubscribe(events.EventTypeTradingSignal, id)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, ok := event.Data.(events.TradingSignalPayload)
			if !ok {
				continue
			}
			m.SignalsGenerated.WithLabelValues(payload.Signal.StrategyName, string(payload.Signal.Side)).Inc()
		}
	}
}

func (m *TradingMetrics) countOrdersPlaced(ctx context.Context, bus *events.EventBus) {
	id, ch := bus.Subscribe(events.EventTypeOrderPlaced, nil, "metrics")
	defer bus.Unsubscribe(events.EventTypeOrderPlaced, id)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, ok := event.Data.(events.OrderPlacedPayload)
			if !ok {
				continue
			}
			m.OrdersPlaced.WithLabelValues(payload.Order.Symbol, string(payload.Order.Side)).Inc()
		}
	}
}

func (m *TradingMetrics) countOrdersFailed(ctx context.Context, bus *events.EventBus) {
	id, ch := bus.Subscribe(events.EventTypeOrderFailed, nil, "metrics")
	defer bus.Unsubscribe(events.EventTypeOrderFailed, id)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, ok := event.Data.(events.OrderFailedPayload)
			if !ok {
				continue
			}
			m.OrdersFailed.WithLabelValues(payload.ErrorKind).Inc()
		}
	}
}

// countFills subscribes to the raw broker fill event rather than the
// tracker's partial/fully-executed re-publications, so each fill is
// counted exactly once regardless of how many fills an order takes to
// fill completely.
func (m *TradingMetrics) countFills(ctx context.Context, bus *events.EventBus) {
	id, ch := bus.Subscribe(events.EventTypeOrderExecuted, nil, "metrics")
	defer bus.Unsubscribe(events.EventTypeOrderExecuted, id)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, ok := event.Data.(events.OrderExecutedPayload)
			if !ok {
				continue
			}
			m.FillsProcessed.WithLabelValues(payload.Symbol, string(payload.Side)).Inc()
			if commission, err := decimal.NewFromString(payload.Commission); err == nil {
				m.CommissionCollected.Add(commission.InexactFloat64())
			}
		}
	}
}

// pollEventBus and pollCircuitBreakers sync Prometheus counters from
// the bus's and breakers' own cumulative counters rather than hooking
// into their internals directly: both already expose a GetMetrics
// snapshot, and a counter only ever moves forward, so adding the
// per-tick delta keeps the Prometheus series monotonic without
// reaching into bus.go/breaker.go dispatch paths that other callers
// and tests depend on.
func (m *TradingMetrics) pollEventBus(ctx context.Context, bus *events.EventBus) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	lastPublished := make(map[events.EventType]int64)
	lastFailed := make(map[events.EventType]int64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for eventType, snap := range bus.GetMetrics() {
				if delta := snap.Published - lastPublished[eventType]; delta > 0 {
					m.EventBusPublished.WithLabelValues(string(eventType)).Add(float64(delta))
				}
				lastPublished[eventType] = snap.Published
				if delta := snap.Failed - lastFailed[eventType]; delta > 0 {
					m.EventBusFailed.WithLabelValues(string(eventType)).Add(float64(delta))
				}
				lastFailed[eventType] = snap.Failed
			}
		}
	}
}

func (m *TradingMetrics) pollCircuitBreakers(ctx context.Context, breakers *circuitbreaker.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	lastTrips := make(map[string]int64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, snap := range breakers.GetAllMetrics() {
				bm, ok := snap.(circuitbreaker.Metrics)
				if !ok {
					continue
				}
				if delta := bm.TotalTrips - lastTrips[name]; delta > 0 {
					m.CircuitBreakerTrips.WithLabelValues(name).Add(float64(delta))
				}
				lastTrips[name] = bm.TotalTrips
			}
		}
	}
}

func (m *TradingMetrics) pollActivePositions(ctx context.Context, posMgr *position.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ActivePositions.Set(float64(posMgr.NonFlatCount()))
		}
	}
}
