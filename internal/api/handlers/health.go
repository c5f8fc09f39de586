package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/internal/data/timescale"
)

// HealthHandler answers liveness/readiness probes by checking the
// market data database connection and the event bus's internal
// health, in place of the teacher's unconditional 200.
type HealthHandler struct {
	db      *timescale.Client
	bus     *events.EventBus
	started time.Time
	logger  zerolog.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *timescale.Client, bus *events.EventBus, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{db: db, bus: bus, started: time.Now(), logger: logger}
}

// Liveness reports whether the process is up at all. It never checks
// downstream dependencies, so an outage in Postgres doesn't trip k8s
// into restarting a process that is otherwise fine.
// GET /healthz
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "alive",
		"uptime_sec": time.Since(h.started).Seconds(),
	})
}

// Readiness reports whether the service can currently serve traffic:
// the database must be reachable and the event bus must be healthy.
// GET /readyz
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if err := h.db.Health(r.Context()); err != nil {
		checks["database"] = "unreachable: " + err.Error()
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if h.bus.HealthCheck() {
		checks["event_bus"] = "ok"
	} else {
		checks["event_bus"] = "degraded"
		ready = false
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"ready": ready, "checks": checks})
}
