package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/qbtrader/internal/broker"
	"github.com/bikeshrana/qbtrader/internal/core/position"
	"github.com/bikeshrana/qbtrader/internal/data"
)

// PortfolioHandler handles portfolio-related requests against the
// live position.Manager, the broker adapter's account balance, and
// the Postgres-backed snapshot history used for performance reporting.
type PortfolioHandler struct {
	positions *position.Manager
	account   broker.Adapter
	repo      *data.PortfolioRepository
	logger    zerolog.Logger
}

// NewPortfolioHandler creates a new portfolio handler.
func NewPortfolioHandler(positions *position.Manager, account broker.Adapter, repo *data.PortfolioRepository, logger zerolog.Logger) *PortfolioHandler {
	return &PortfolioHandler{positions: positions, account: account, repo: repo, logger: logger}
}

// PortfolioSummary represents portfolio overview
type PortfolioSummary struct {
	TotalValue      float64   `json:"total_value"`
	Cash            float64   `json:"cash"`
	PositionsValue  float64   `json:"positions_value"`
	TotalPnL        float64   `json:"total_pnl"`
	TotalPnLPercent float64   `json:"total_pnl_percent"`
	ActivePositions int       `json:"active_positions"`
	BuyingPower     float64   `json:"buying_power"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Position represents a portfolio position
type Position struct {
	Symbol           string    `json:"symbol"`
	Quantity         int64     `json:"quantity"`
	AveragePrice     float64   `json:"average_price"`
	CurrentPrice     float64   `json:"current_price"`
	MarketValue      float64   `json:"market_value"`
	CostBasis        float64   `json:"cost_basis"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	RealizedPnL      float64   `json:"realized_pnl"`
	Side             string    `json:"side"`
	LastUpdated      time.Time `json:"last_updated"`
}

// PortfolioPerformance represents performance metrics derived from
// the snapshot history, in place of the teacher's hardcoded figures.
type PortfolioPerformance struct {
	TotalReturn    float64   `json:"total_return"`
	TotalReturnPct float64   `json:"total_return_pct"`
	TotalTrades    int       `json:"total_trades"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
}

func sideOf(qty int64) string {
	if qty < 0 {
		return "short"
	}
	return "long"
}

// GetPortfolioSummary returns the live portfolio overview, combining
// the position manager's book with the broker's account balance.
func (h *PortfolioHandler) GetPortfolioSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all := h.positions.All()

	positionsValue := decimal.Zero
	totalPnL := decimal.Zero
	active := 0
	for _, p := range all {
		if !p.IsFlat() {
			active++
		}
		positionsValue = positionsValue.Add(p.MarketValue())
		totalPnL = totalPnL.Add(p.RealizedPnL).Add(p.UnrealizedPnL)
	}

	balance, err := h.account.GetAccountBalance(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("portfolio: failed to read account balance")
		balance = broker.AccountBalance{}
	}

	totalValue := balance.Cash.Add(positionsValue)
	pnlPct := 0.0
	if balance.Cash.GreaterThan(decimal.Zero) {
		pnlPct, _ = totalPnL.Div(balance.Cash).Mul(decimal.NewFromInt(100)).Float64()
	}

	summary := PortfolioSummary{
		TotalValue:      mustFloat(totalValue),
		Cash:            mustFloat(balance.Cash),
		PositionsValue:  mustFloat(positionsValue),
		TotalPnL:        mustFloat(totalPnL),
		TotalPnLPercent: pnlPct,
		ActivePositions: active,
		BuyingPower:     mustFloat(balance.BuyingPower),
		LastUpdated:     time.Now(),
	}

	if h.repo != nil {
		_ = h.repo.SaveSnapshot(ctx, &data.PortfolioSummary{
			TotalValue: summary.TotalValue, Cash: summary.Cash, PositionsValue: summary.PositionsValue,
			TotalPnL: summary.TotalPnL, TotalPnLPercent: summary.TotalPnLPercent,
		})
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetPositions returns every non-flat position currently tracked.
func (h *PortfolioHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	all := h.positions.All()
	out := make([]Position, 0, len(all))
	for _, p := range all {
		if p.IsFlat() {
			continue
		}
		out = append(out, Position{
			Symbol: p.Symbol, Quantity: p.Quantity,
			AveragePrice: mustFloat(p.AveragePrice), CurrentPrice: mustFloat(p.MarketPrice),
			MarketValue: mustFloat(p.MarketValue()), CostBasis: mustFloat(p.CostBasis()),
			UnrealizedPnL: mustFloat(p.UnrealizedPnL), RealizedPnL: mustFloat(p.RealizedPnL),
			Side: sideOf(p.Quantity), LastUpdated: p.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPosition returns a specific position by symbol, 404 if flat.
func (h *PortfolioHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}

	p := h.positions.Get(symbol)
	if p.IsFlat() {
		writeError(w, http.StatusNotFound, "no open position for "+symbol)
		return
	}

	writeJSON(w, http.StatusOK, Position{
		Symbol: p.Symbol, Quantity: p.Quantity,
		AveragePrice: mustFloat(p.AveragePrice), CurrentPrice: mustFloat(p.MarketPrice),
		MarketValue: mustFloat(p.MarketValue()), CostBasis: mustFloat(p.CostBasis()),
		UnrealizedPnL: mustFloat(p.UnrealizedPnL), RealizedPnL: mustFloat(p.RealizedPnL),
		Side: sideOf(p.Quantity), LastUpdated: p.UpdatedAt,
	})
}

// GetPortfolioPerformance derives return metrics by comparing the
// earliest and latest snapshots recorded in the last six months;
// TotalTrades reports the number of snapshots in that window.
func (h *PortfolioHandler) GetPortfolioPerformance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	end := time.Now()
	start := end.AddDate(0, -6, 0)

	history, err := h.repo.GetHistoricalSnapshots(ctx, start, end)
	if err != nil || len(history) == 0 {
		writeJSON(w, http.StatusOK, PortfolioPerformance{StartDate: start, EndDate: end})
		return
	}

	first, last := history[0], history[len(history)-1]
	totalReturn := last.TotalValue - first.TotalValue
	totalReturnPct := 0.0
	if first.TotalValue != 0 {
		totalReturnPct = totalReturn / first.TotalValue * 100
	}

	writeJSON(w, http.StatusOK, PortfolioPerformance{
		TotalReturn: totalReturn, TotalReturnPct: totalReturnPct,
		TotalTrades: len(history), StartDate: start, EndDate: end,
	})
}

// GetPortfolioHistory returns the recorded portfolio value time series.
func (h *PortfolioHandler) GetPortfolioHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	end := time.Now()
	start := end.AddDate(0, -1, 0)

	history, err := h.repo.GetHistoricalSnapshots(ctx, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load portfolio history")
		return
	}

	out := make([]map[string]interface{}, 0, len(history))
	for _, snap := range history {
		out = append(out, map[string]interface{}{
			"timestamp": snap.LastUpdated,
			"value":     snap.TotalValue,
			"pnl":       snap.TotalPnL,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPortfolioAllocation returns the current allocation by symbol and cash.
func (h *PortfolioHandler) GetPortfolioAllocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all := h.positions.All()
	balance, err := h.account.GetAccountBalance(ctx)
	if err != nil {
		balance = broker.AccountBalance{}
	}

	positionsValue := decimal.Zero
	bySymbol := make([]map[string]interface{}, 0, len(all))
	for _, p := range all {
		if p.IsFlat() {
			continue
		}
		v := p.MarketValue()
		positionsValue = positionsValue.Add(v)
		bySymbol = append(bySymbol, map[string]interface{}{"symbol": p.Symbol, "value": mustFloat(v)})
	}

	total := balance.Cash.Add(positionsValue)
	for _, entry := range bySymbol {
		v := entry["value"].(float64)
		pct := 0.0
		if t := mustFloat(total); t != 0 {
			pct = v / t * 100
		}
		entry["percentage"] = pct
	}

	cashPct := 0.0
	if t := mustFloat(total); t != 0 {
		cashPct = mustFloat(balance.Cash) / t * 100
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"by_symbol":       bySymbol,
		"cash":            mustFloat(balance.Cash),
		"cash_percentage": cashPct,
	})
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
