package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/circuitbreaker"
	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/internal/core/risk"
)

// SystemHandler reports the engine's operational state: event bus
// health and per-event-type metrics, circuit breaker states, and
// current risk metrics — the control-plane diagnostics surface.
type SystemHandler struct {
	bus      *events.EventBus
	breakers *circuitbreaker.Manager
	risk     *risk.Manager
	started  time.Time
	logger   zerolog.Logger
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(bus *events.EventBus, breakers *circuitbreaker.Manager, riskMgr *risk.Manager, logger zerolog.Logger) *SystemHandler {
	return &SystemHandler{bus: bus, breakers: breakers, risk: riskMgr, started: time.Now(), logger: logger}
}

// GetSystemStatus returns a high-level operational summary.
// GET /api/v1/system/status
func (h *SystemHandler) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "running",
		"event_bus":  h.bus.HealthCheck(),
		"uptime_sec": time.Since(h.started).Seconds(),
	})
}

// GetEventBusMetrics returns per-event-type publish/process/fail/expire
// counters and current subscription counts.
// GET /api/v1/system/events
func (h *SystemHandler) GetEventBusMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics":       h.bus.GetMetrics(),
		"subscriptions": h.bus.SubscriptionStats(),
		"dead_letters":  h.bus.DeadLetters(),
	})
}

// GetCircuitBreakers returns the metrics for every named circuit breaker.
// GET /api/v1/system/circuit-breakers
func (h *SystemHandler) GetCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.breakers.GetAllMetrics())
}

// GetRiskMetrics returns the risk manager's current daily metrics.
// GET /api/v1/system/risk
func (h *SystemHandler) GetRiskMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.risk.GetMetrics())
}
