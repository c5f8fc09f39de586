// Package performance implements the Performance Tracker: a
// per-strategy bounded signal log with derived win rate, Sharpe ratio,
// and max drawdown.
package performance

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bikeshrana/qbtrader/pkg/types"
)

const (
	riskFreeRate       = 0.02
	tradingDaysPerYear = 252.0
	maxRecordsPerStrategy = 10_000
)

// SignalRecord is one tracked trading signal plus its eventual
// execution/close outcome, keyed "{strategy}_{symbol}_{timestamp}".
type SignalRecord struct {
	SignalID     string
	StrategyName string
	Symbol       string
	Side         types.OrderSide
	Confidence   float64
	Price        decimal.Decimal
	Quantity     int64
	Timestamp    time.Time

	Executed       bool
	ExecutionPrice decimal.Decimal
	ExecutionTime  time.Time

	Closed    bool
	ClosePrice decimal.Decimal
	CloseTime time.Time
	PnL       decimal.Decimal
}

// Metrics is the derived performance snapshot for one strategy.
type Metrics struct {
	StrategyName string
	TotalSignals int
	BuySignals   int
	SellSignals  int

	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal

	WinningTrades int
	LosingTrades  int
	WinRate       float64

	AvgHoldTime time.Duration
	Volatility  float64
	SharpeRatio float64
	MaxDrawdown float64

	LastUpdated time.Time
}

// Tracker holds one bounded signal log per strategy.
type Tracker struct {
	mu      sync.Mutex
	records map[string][]*SignalRecord // strategy name -> records, oldest first
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{records: make(map[string][]*SignalRecord)}
}

func recordKey(strategyName, symbol string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s", strategyName, symbol, ts.Format("20060102_150405"))
}

// RecordSignal appends a TradingSignal to the strategy's log,
// trimming the oldest entries past maxRecordsPerStrategy.
func (t *Tracker) RecordSignal(signal types.TradingSignal) *SignalRecord {
	rec := &SignalRecord{
		SignalID: recordKey(signal.StrategyName, signal.Symbol, signal.Timestamp),
		StrategyName: signal.StrategyName, Symbol: signal.Symbol, Side: signal.Side,
		Confidence: signal.Confidence, Price: signal.TargetPrice, Quantity: signal.Quantity,
		Timestamp: signal.Timestamp,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	log := append(t.records[signal.StrategyName], rec)
	if len(log) > maxRecordsPerStrategy {
		log = log[len(log)-maxRecordsPerStrategy:]
	}
	t.records[signal.StrategyName] = log
	return rec
}

// RecordExecution marks a previously recorded signal as filled.
func (t *Tracker) RecordExecution(record *SignalRecord, executionPrice decimal.Decimal, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record.Executed = true
	record.ExecutionPrice = executionPrice
	record.ExecutionTime = at
}

// UpdatePnL refreshes the unrealized P&L on an open record against
// the latest market price.
func (t *Tracker) UpdatePnL(record *SignalRecord, currentPrice decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if record.Closed || !record.Executed {
		return
	}
	sign := decimal.NewFromInt(1)
	if record.Side == types.OrderSideSell {
		sign = decimal.NewFromInt(-1)
	}
	record.PnL = currentPrice.Sub(record.ExecutionPrice).
		Mul(decimal.NewFromInt(record.Quantity)).Mul(sign)
}

// ClosePosition marks a record closed with a realized P&L, the input
// for win rate / Sharpe / drawdown derivation.
func (t *Tracker) ClosePosition(record *SignalRecord, closePrice decimal.Decimal, at time.Time, realizedPnL decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record.Closed = true
	record.ClosePrice = closePrice
	record.CloseTime = at
	record.PnL = realizedPnL
}

// Metrics derives the full performance snapshot for a strategy from
// its signal log, following the Python original's
// _recalculate_strategy_metrics exactly: win rate over closed trades,
// annualized volatility (std * sqrt(252)), Sharpe ratio against a 2%
// risk-free rate, and max drawdown over the cumulative-return series.
func (t *Tracker) Metrics(strategyName string) Metrics {
	t.mu.Lock()
	records := append([]*SignalRecord(nil), t.records[strategyName]...)
	t.mu.Unlock()

	m := Metrics{StrategyName: strategyName, LastUpdated: time.Now()}
	m.RealizedPnL = decimal.Zero
	m.UnrealizedPnL = decimal.Zero

	var returns []float64
	var holdTimes []time.Duration

	for _, rec := range records {
		m.TotalSignals++
		switch rec.Side {
		case types.OrderSideBuy:
			m.BuySignals++
		case types.OrderSideSell:
			m.SellSignals++
		}

		if !rec.Executed {
			continue
		}

		if rec.Closed {
			m.RealizedPnL = m.RealizedPnL.Add(rec.PnL)
			if rec.PnL.IsPositive() {
				m.WinningTrades++
			} else if rec.PnL.IsNegative() {
				m.LosingTrades++
			}

			if rec.ExecutionPrice.IsPositive() && rec.Quantity > 0 {
				denom := rec.ExecutionPrice.Mul(decimal.NewFromInt(rec.Quantity))
				ret, _ := rec.PnL.Div(denom).Float64()
				returns = append(returns, ret)
			}
			if !rec.ExecutionTime.IsZero() && !rec.CloseTime.IsZero() {
				holdTimes = append(holdTimes, rec.CloseTime.Sub(rec.ExecutionTime))
			}
		} else {
			m.UnrealizedPnL = m.UnrealizedPnL.Add(rec.PnL)
		}
	}

	total := m.WinningTrades + m.LosingTrades
	if total > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(total)
	}
	if len(holdTimes) > 0 {
		var sum time.Duration
		for _, h := range holdTimes {
			sum += h
		}
		m.AvgHoldTime = sum / time.Duration(len(holdTimes))
	}

	if len(returns) > 1 {
		mean, std := meanStd(returns)
		m.Volatility = std * math.Sqrt(tradingDaysPerYear)
		if m.Volatility > 0 {
			excess := mean - riskFreeRate/tradingDaysPerYear
			m.SharpeRatio = excess / (m.Volatility / math.Sqrt(tradingDaysPerYear))
		}
		m.MaxDrawdown = maxDrawdown(returns)
	}

	return m
}

func meanStd(values []float64) (mean, std float64) {
	n := float64(len(values))
	for _, v := range values {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n
	return mean, math.Sqrt(variance)
}

// maxDrawdown mirrors the Python original's cumulative-return
// drawdown series: cumulative = cumprod(1+r)-1, drawdown =
// (cumulative - running_max) / (1 + running_max).
func maxDrawdown(returns []float64) float64 {
	cumulative := 1.0
	runningMax := 0.0
	worst := 0.0
	for _, r := range returns {
		cumulative *= 1 + r
		cumReturn := cumulative - 1
		if cumReturn > runningMax {
			runningMax = cumReturn
		}
		drawdown := (cumReturn - runningMax) / (1 + runningMax)
		if drawdown < worst {
			worst = drawdown
		}
	}
	return worst
}
