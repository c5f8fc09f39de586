// Package metrics exposes the process's Prometheus registry, grounded
// on the teacher pack's newthinker-atlas/internal/metrics Registry
// pattern: Go runtime/process collectors plus a fixed set of
// domain counters and histograms, registered once at startup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// TradingMetrics holds every Prometheus metric the trading system
// exports: HTTP request shape plus the domain counters that track the
// event-driven core (signals, orders, fills, commission, event-bus
// publishes and failures, circuit breaker trips, active positions).
type TradingMetrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SignalsGenerated   *prometheus.CounterVec
	OrdersPlaced       *prometheus.CounterVec
	OrdersFailed       *prometheus.CounterVec
	FillsProcessed     *prometheus.CounterVec
	CommissionCollected prometheus.Counter
	EventBusPublished  *prometheus.CounterVec
	EventBusFailed     *prometheus.CounterVec
	CircuitBreakerTrips *prometheus.CounterVec
	ActivePositions    prometheus.Gauge
}

// NewTradingMetrics builds a fresh registry with Go runtime/process
// collectors plus every domain metric registered.
func NewTradingMetrics() *TradingMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &TradingMetrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbtrader_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qbtrader_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		SignalsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbtrader_signals_generated_total",
				Help: "Total trading signals emitted by strategies",
			},
			[]string{"strategy", "side"},
		),
		OrdersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbtrader_orders_placed_total",
				Help: "Total orders successfully placed with the broker",
			},
			[]string{"symbol", "side"},
		),
		OrdersFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbtrader_orders_failed_total",
				Help: "Total orders rejected or failed, by error kind",
			},
			[]string{"error_kind"},
		),
		FillsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbtrader_fills_processed_total",
				Help: "Total fills applied to orders",
			},
			[]string{"symbol", "side"},
		),
		CommissionCollected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qbtrader_commission_collected_total",
				Help: "Cumulative commission charged across all fills",
			},
		),
		EventBusPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbtrader_event_bus_published_total",
				Help: "Total events published to the event bus",
			},
			[]string{"event_type"},
		),
		EventBusFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbtrader_event_bus_failed_total",
				Help: "Total event handler invocations that failed",
			},
			[]string{"event_type"},
		),
		CircuitBreakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qbtrader_circuit_breaker_trips_total",
				Help: "Total times a named circuit breaker opened",
			},
			[]string{"breaker"},
		),
		ActivePositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "qbtrader_active_positions",
				Help: "Number of symbols currently carrying a non-flat position",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.SignalsGenerated, m.OrdersPlaced, m.OrdersFailed, m.FillsProcessed,
		m.CommissionCollected, m.EventBusPublished, m.EventBusFailed,
		m.CircuitBreakerTrips, m.ActivePositions,
	)
	return m
}
