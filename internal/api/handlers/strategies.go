package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/core/strategy"
	"github.com/bikeshrana/qbtrader/internal/core/strategy/performance"
	"github.com/bikeshrana/qbtrader/internal/data"
)

// StrategiesHandler handles strategy-related requests, wired against
// the compiled strategy registry (strategy.Loader), the live
// strategy.Engine that runs activated instances, a Postgres-backed
// data.StrategiesRepository for configuration persisted across restarts,
// and the performance Tracker for derived metrics.
type StrategiesHandler struct {
	repo   *data.StrategiesRepository
	engine *strategy.Engine
	loader *strategy.Loader
	perf   *performance.Tracker
	logger zerolog.Logger
}

// NewStrategiesHandler creates a new strategies handler.
func NewStrategiesHandler(repo *data.StrategiesRepository, engine *strategy.Engine, loader *strategy.Loader, perf *performance.Tracker, logger zerolog.Logger) *StrategiesHandler {
	return &StrategiesHandler{repo: repo, engine: engine, loader: loader, perf: perf, logger: logger}
}

// StrategyInfo describes one strategy type registered with the loader.
type StrategyInfo struct {
	ID          string                        `json:"id"`
	Description string                        `json:"description"`
	Parameters  map[string]strategy.ParamSpec `json:"parameters"`
}

// StrategyRequest is the CRUD request/response body for a configured
// strategy instance.
type StrategyRequest struct {
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Symbols    []string               `json:"symbols"`
	Parameters map[string]interface{} `json:"parameters"`
}

// StrategyResponse is the CRUD response body for a configured strategy instance.
type StrategyResponse struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Status     string                 `json:"status"`
	Symbols    []string               `json:"symbols"`
	Parameters map[string]interface{} `json:"parameters"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
}

// StrategyPerformance represents performance metrics for one strategy instance.
type StrategyPerformance struct {
	StrategyID  string        `json:"strategy_id"`
	TotalSignals int          `json:"total_signals"`
	WinRate     float64       `json:"win_rate"`
	RealizedPnL string        `json:"realized_pnl"`
	SharpeRatio float64       `json:"sharpe_ratio"`
	MaxDrawdown float64       `json:"max_drawdown"`
	AvgHoldTime time.Duration `json:"avg_hold_time_ns"`
}

func toResponse(s *data.Strategy) StrategyResponse {
	return StrategyResponse{
		ID: s.ID, Name: s.Name, Type: s.Type, Status: s.Status,
		Symbols: s.Symbols, Parameters: s.Parameters,
		CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt, StartedAt: s.StartedAt,
	}
}

// GetAvailableStrategies lists every strategy type the loader knows
// how to construct, by asking each one for its own schema and
// description via a throwaway instance built from schema defaults.
func (h *StrategiesHandler) GetAvailableStrategies(w http.ResponseWriter, r *http.Request) {
	names := h.loader.Names()
	out := make([]StrategyInfo, 0, len(names))
	for _, name := range names {
		inst, err := h.loader.Construct(name, nil)
		if err != nil {
			h.logger.Warn().Err(err).Str("strategy", name).Msg("strategies: failed to introspect registered strategy")
			continue
		}
		out = append(out, StrategyInfo{ID: name, Description: inst.Description(), Parameters: inst.ParameterSchema()})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetActiveStrategies returns every configured strategy instance whose
// status is "running".
func (h *StrategiesHandler) GetActiveStrategies(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.GetActiveStrategies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list active strategies")
		return
	}
	out := make([]StrategyResponse, 0, len(records))
	for i := range records {
		out = append(out, toResponse(&records[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetStrategy returns one configured strategy instance by ID.
func (h *StrategiesHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyId")
	record, err := h.repo.GetStrategy(r.Context(), strategyID)
	if err != nil {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(record))
}

// CreateStrategy registers a new configured strategy instance in
// "created" status. It does not activate it; ControlStrategy does.
func (h *StrategiesHandler) CreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	known := false
	for _, name := range h.loader.Names() {
		if name == req.Type {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusBadRequest, "unknown strategy type: "+req.Type)
		return
	}

	now := time.Now()
	record := &data.Strategy{
		ID: "strategy-" + now.Format("20060102150405.000000"), Name: req.Name, Type: req.Type,
		Status: "created", Symbols: req.Symbols, Parameters: req.Parameters,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := h.repo.CreateStrategy(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create strategy")
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(record))
}

// UpdateStrategy updates a configured instance's symbol set and
// parameters, pushing the new parameters into the live engine when
// the instance is currently running.
func (h *StrategiesHandler) UpdateStrategy(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyId")
	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.repo.GetStrategy(r.Context(), strategyID)
	if err != nil {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}
	record.Name = req.Name
	record.Symbols = req.Symbols
	record.Parameters = req.Parameters
	record.UpdatedAt = time.Now()

	if err := h.repo.UpdateStrategy(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update strategy")
		return
	}
	if record.Status == "running" {
		if err := h.engine.UpdateStrategyParameters(record.Type, req.Parameters); err != nil {
			h.logger.Warn().Err(err).Str("strategy_id", strategyID).Msg("strategies: live parameter update failed")
		}
	}
	writeJSON(w, http.StatusOK, toResponse(record))
}

// DeleteStrategy deactivates (if running) and deletes a configured instance.
func (h *StrategiesHandler) DeleteStrategy(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyId")
	record, err := h.repo.GetStrategy(r.Context(), strategyID)
	if err != nil {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}
	h.engine.DeactivateStrategy(record.Type)
	if err := h.repo.DeleteStrategy(r.Context(), strategyID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete strategy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "strategy deleted successfully"})
}

// ControlStrategy starts, pauses, or stops a configured instance
// against the live strategy.Engine.
func (h *StrategiesHandler) ControlStrategy(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyId")
	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		writeError(w, http.StatusBadRequest, "action required")
		return
	}

	record, err := h.repo.GetStrategy(r.Context(), strategyID)
	if err != nil {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}

	var newStatus string
	switch req.Action {
	case "start":
		if err := h.engine.ActivateStrategy(record.Type, record.Parameters, record.Symbols); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		newStatus = "running"
	case "pause", "stop":
		h.engine.DeactivateStrategy(record.Type)
		newStatus = "stopped"
		if req.Action == "pause" {
			newStatus = "paused"
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown action: "+req.Action)
		return
	}

	if err := h.repo.UpdateStrategyStatus(r.Context(), strategyID, newStatus); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update strategy status")
		return
	}
	h.logger.Info().Str("strategy_id", strategyID).Str("action", req.Action).Msg("strategies: control action applied")
	writeJSON(w, http.StatusOK, map[string]string{"message": "strategy " + req.Action + " applied", "status": newStatus})
}

// GetStrategyPerformance derives performance metrics from the
// in-memory signal log kept for the instance's registered type.
func (h *StrategiesHandler) GetStrategyPerformance(w http.ResponseWriter, r *http.Request) {
	strategyID := chi.URLParam(r, "strategyId")
	record, err := h.repo.GetStrategy(r.Context(), strategyID)
	if err != nil {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}

	m := h.perf.Metrics(record.Type)
	writeJSON(w, http.StatusOK, StrategyPerformance{
		StrategyID: strategyID, TotalSignals: m.TotalSignals, WinRate: m.WinRate,
		RealizedPnL: m.RealizedPnL.String(), SharpeRatio: m.SharpeRatio,
		MaxDrawdown: m.MaxDrawdown, AvgHoldTime: m.AvgHoldTime,
	})
}
