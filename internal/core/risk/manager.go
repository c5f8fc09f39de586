// Package risk implements the ancillary risk engine named in spec
// section 1: a declared-interface limit checker the Order Engine
// consults during pre-trade validation, adapted from the teacher's
// RiskManager. Where the teacher queried its own Postgres portfolio
// repository, this version queries the shared position.Manager and
// BrokerAdapter directly, since those are now the system of record.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/qbtrader/internal/broker"
	"github.com/bikeshrana/qbtrader/internal/core/position"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// Limits defines the risk management limits applied on top of the
// Order Engine's four-point pre-trade validation. Zero/unset decimal
// fields disable that particular check.
type Limits struct {
	MaxPositionSize  int64
	MaxPositionValue decimal.Decimal
	MaxConcentration float64 // fraction of portfolio in one symbol, 0.0-1.0

	MaxTotalExposure decimal.Decimal
	MaxDailyLoss     decimal.Decimal
	MaxDrawdown      float64

	MaxOrdersPerDay int
	MaxOrderSize    int64
	MaxOrderValue   decimal.Decimal

	MinCashBalance    decimal.Decimal
	MarginRequirement float64 // e.g. 0.5 = 50% of order value must be covered by cash

	AllowAfterHours  bool
	TradingStartHour int
	TradingEndHour   int
}

// Result is the outcome of one ValidateOrder call.
type Result struct {
	Approved   bool
	RiskScore  float64 // 0.0-1.0, higher is riskier
	Warnings   []string
	Rejections []string
}

// Manager is the ancillary risk engine.
type Manager struct {
	logger    zerolog.Logger
	limits    Limits
	positions *position.Manager
	brokerage broker.Adapter

	mu            sync.Mutex
	ordersToday   int
	dailyPnL      decimal.Decimal
	peakPortfolio decimal.Decimal
	lastResetDate time.Time
}

// New constructs a risk Manager over the shared Position Manager and
// BrokerAdapter.
func New(limits Limits, positions *position.Manager, brokerage broker.Adapter, logger zerolog.Logger) *Manager {
	return &Manager{
		logger: logger, limits: limits, positions: positions, brokerage: brokerage,
		dailyPnL: decimal.Zero, peakPortfolio: decimal.Zero, lastResetDate: time.Now(),
	}
}

// ValidateOrder runs every configured risk check against a prospective
// order at effectivePrice, returning rejections (which block
// submission) and warnings (which do not).
func (m *Manager) ValidateOrder(ctx context.Context, order types.Order, effectivePrice decimal.Decimal) (*Result, error) {
	result := &Result{Approved: true}

	m.resetDailyMetricsIfNeeded()

	m.checkTradingHours(result)
	m.checkOrderSize(order, effectivePrice, result)
	m.checkPositionLimits(order, effectivePrice, result)
	if err := m.checkPortfolioLimits(ctx, order, effectivePrice, result); err != nil {
		m.logger.Warn().Err(err).Msg("risk: portfolio limit check skipped")
	}
	m.checkDailyLimits(result)
	if err := m.checkMarginRequirements(ctx, order, effectivePrice, result); err != nil {
		m.logger.Warn().Err(err).Msg("risk: margin check skipped")
	}

	result.RiskScore = m.calculateRiskScore(order, result)
	result.Approved = len(result.Rejections) == 0

	if !result.Approved {
		m.logger.Warn().Str("symbol", order.Symbol).Str("side", string(order.Side)).
			Int64("quantity", order.Quantity).Strs("rejections", result.Rejections).
			Msg("risk: order rejected")
	} else if len(result.Warnings) > 0 {
		m.logger.Info().Str("symbol", order.Symbol).Strs("warnings", result.Warnings).
			Float64("risk_score", result.RiskScore).Msg("risk: order approved with warnings")
	}
	return result, nil
}

func (m *Manager) checkTradingHours(result *Result) {
	if m.limits.AllowAfterHours {
		return
	}
	hour := time.Now().Hour()
	if hour < m.limits.TradingStartHour || hour >= m.limits.TradingEndHour {
		result.Rejections = append(result.Rejections,
			fmt.Sprintf("trading not allowed outside hours %d:00-%d:00", m.limits.TradingStartHour, m.limits.TradingEndHour))
	}
}

func (m *Manager) checkOrderSize(order types.Order, price decimal.Decimal, result *Result) {
	if m.limits.MaxOrderSize > 0 && order.Quantity > m.limits.MaxOrderSize {
		result.Rejections = append(result.Rejections,
			fmt.Sprintf("order size %d exceeds maximum %d", order.Quantity, m.limits.MaxOrderSize))
	}
	orderValue := decimal.NewFromInt(order.Quantity).Mul(price)
	if m.limits.MaxOrderValue.IsPositive() && orderValue.GreaterThan(m.limits.MaxOrderValue) {
		result.Rejections = append(result.Rejections,
			fmt.Sprintf("order value %s exceeds maximum %s", orderValue, m.limits.MaxOrderValue))
	}
}

func (m *Manager) checkPositionLimits(order types.Order, price decimal.Decimal, result *Result) {
	current := m.positions.Get(order.Symbol)
	delta := decimal.NewFromInt(order.Quantity)
	if order.Side == types.OrderSideSell {
		delta = delta.Neg()
	}
	newQuantity := current.Quantity + delta.IntPart()

	if m.limits.MaxPositionSize > 0 && abs64(newQuantity) > m.limits.MaxPositionSize {
		result.Rejections = append(result.Rejections,
			fmt.Sprintf("new position size %d exceeds maximum %d", newQuantity, m.limits.MaxPositionSize))
	}

	newValue := decimal.NewFromInt(abs64(newQuantity)).Mul(price)
	if m.limits.MaxPositionValue.IsPositive() && newValue.GreaterThan(m.limits.MaxPositionValue) {
		result.Rejections = append(result.Rejections,
			fmt.Sprintf("new position value %s exceeds maximum %s", newValue, m.limits.MaxPositionValue))
	}

	if m.limits.MaxConcentration > 0 && order.Side == types.OrderSideBuy {
		total := m.portfolioValue()
		if total.IsPositive() {
			concentration, _ := newValue.Div(total).Float64()
			if concentration > m.limits.MaxConcentration {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("position concentration %.1f%% exceeds recommended %.1f%%",
						concentration*100, m.limits.MaxConcentration*100))
			}
		}
	}
}

func (m *Manager) checkPortfolioLimits(ctx context.Context, order types.Order, price decimal.Decimal, result *Result) error {
	total := m.portfolioValue()

	m.mu.Lock()
	dailyPnL := m.dailyPnL
	if total.GreaterThan(m.peakPortfolio) {
		m.peakPortfolio = total
	}
	peak := m.peakPortfolio
	m.mu.Unlock()

	if m.limits.MaxDailyLoss.IsPositive() && dailyPnL.LessThan(m.limits.MaxDailyLoss.Neg()) {
		result.Rejections = append(result.Rejections, fmt.Sprintf("daily loss limit exceeded: %s", dailyPnL))
	}

	if m.limits.MaxDrawdown > 0 && peak.IsPositive() {
		drawdown, _ := peak.Sub(total).Div(peak).Float64()
		if drawdown > m.limits.MaxDrawdown {
			result.Rejections = append(result.Rejections,
				fmt.Sprintf("drawdown %.1f%% exceeds maximum %.1f%%", drawdown*100, m.limits.MaxDrawdown*100))
		}
	}

	if m.limits.MaxTotalExposure.IsPositive() {
		orderValue := decimal.NewFromInt(order.Quantity).Mul(price)
		newExposure := total
		if order.Side == types.OrderSideBuy {
			newExposure = total.Add(orderValue)
		}
		if newExposure.GreaterThan(m.limits.MaxTotalExposure) {
			result.Rejections = append(result.Rejections,
				fmt.Sprintf("total exposure %s exceeds maximum %s", newExposure, m.limits.MaxTotalExposure))
		}
	}
	_ = ctx
	return nil
}

func (m *Manager) checkDailyLimits(result *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limits.MaxOrdersPerDay > 0 && m.ordersToday >= m.limits.MaxOrdersPerDay {
		result.Rejections = append(result.Rejections, fmt.Sprintf("daily order limit reached: %d orders", m.ordersToday))
	}
}

func (m *Manager) checkMarginRequirements(ctx context.Context, order types.Order, price decimal.Decimal, result *Result) error {
	if order.Side != types.OrderSideBuy {
		return nil
	}
	balance, err := m.brokerage.GetAccountBalance(ctx)
	if err != nil {
		return err
	}

	orderValue := decimal.NewFromInt(order.Quantity).Mul(price)
	requiredCash := orderValue
	if m.limits.MarginRequirement > 0 {
		requiredCash = orderValue.Mul(decimal.NewFromFloat(m.limits.MarginRequirement))
	}

	if balance.Cash.LessThan(requiredCash) {
		result.Rejections = append(result.Rejections,
			fmt.Sprintf("insufficient cash: %s required, %s available", requiredCash, balance.Cash))
	}
	if m.limits.MinCashBalance.IsPositive() && balance.Cash.Sub(requiredCash).LessThan(m.limits.MinCashBalance) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("order would leave cash balance below minimum %s", m.limits.MinCashBalance))
	}
	return nil
}

func (m *Manager) calculateRiskScore(order types.Order, result *Result) float64 {
	score := float64(len(result.Rejections)) * 0.5
	score += float64(len(result.Warnings)) * 0.1
	if m.limits.MaxOrderSize > 0 {
		score += float64(order.Quantity) / float64(m.limits.MaxOrderSize) * 0.3
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// RecordOrder increments the day's order count, used by checkDailyLimits.
func (m *Manager) RecordOrder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ordersToday++
}

// UpdateDailyPnL accumulates realized P&L toward the daily-loss check.
func (m *Manager) UpdateDailyPnL(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = m.dailyPnL.Add(pnl)
}

func (m *Manager) resetDailyMetricsIfNeeded() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Day() != m.lastResetDate.Day() {
		m.ordersToday = 0
		m.dailyPnL = decimal.Zero
		m.lastResetDate = now
		m.logger.Info().Msg("risk: daily metrics reset")
	}
}

// GetMetrics returns current risk metrics for diagnostics.
func (m *Manager) GetMetrics() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"orders_today":   m.ordersToday,
		"daily_pnl":      m.dailyPnL.String(),
		"peak_portfolio": m.peakPortfolio.String(),
	}
}

func (m *Manager) portfolioValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.positions.All() {
		total = total.Add(p.MarketValue())
	}
	return total
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// GetDefaultLimits returns sensible default risk limits.
func GetDefaultLimits() Limits {
	return Limits{
		MaxPositionSize:  1000,
		MaxPositionValue: decimal.NewFromInt(50_000),
		MaxConcentration: 0.20,

		MaxTotalExposure: decimal.NewFromInt(500_000),
		MaxDailyLoss:     decimal.NewFromInt(5_000),
		MaxDrawdown:      0.15,

		MaxOrdersPerDay: 100,
		MaxOrderSize:    500,
		MaxOrderValue:   decimal.NewFromInt(25_000),

		MinCashBalance:    decimal.NewFromInt(10_000),
		MarginRequirement: 0.5,

		AllowAfterHours:  false,
		TradingStartHour: 9,
		TradingEndHour:   16,
	}
}
