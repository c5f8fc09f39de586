package performance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/bikeshrana/qbtrader/pkg/types"
)

func TestMetrics_CountsSignalsByAction(t *testing.T) {
	tracker := New()
	tracker.RecordSignal(types.TradingSignal{StrategyName: "momentum", Symbol: "005930", Side: types.OrderSideBuy, Timestamp: time.Now()})
	tracker.RecordSignal(types.TradingSignal{StrategyName: "momentum", Symbol: "005930", Side: types.OrderSideSell, Timestamp: time.Now()})
	tracker.RecordSignal(types.TradingSignal{StrategyName: "momentum", Symbol: "000660", Side: types.OrderSideBuy, Timestamp: time.Now()})

	m := tracker.Metrics("momentum")
	assert.Equal(t, 3, m.TotalSignals)
	assert.Equal(t, 2, m.BuySignals)
	assert.Equal(t, 1, m.SellSignals)
}

func TestMetrics_WinRateOverClosedTrades(t *testing.T) {
	tracker := New()

	win := tracker.RecordSignal(types.TradingSignal{StrategyName: "momentum", Symbol: "005930", Side: types.OrderSideBuy, Quantity: 10, Timestamp: time.Now()})
	tracker.RecordExecution(win, decimal.NewFromInt(100), time.Now())
	tracker.ClosePosition(win, decimal.NewFromInt(110), time.Now(), decimal.NewFromInt(100))

	loss := tracker.RecordSignal(types.TradingSignal{StrategyName: "momentum", Symbol: "005930", Side: types.OrderSideBuy, Quantity: 10, Timestamp: time.Now()})
	tracker.RecordExecution(loss, decimal.NewFromInt(100), time.Now())
	tracker.ClosePosition(loss, decimal.NewFromInt(90), time.Now(), decimal.NewFromInt(-100))

	m := tracker.Metrics("momentum")
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.True(t, m.RealizedPnL.IsZero(), "gain and loss of equal magnitude must net to zero")
}

func TestMetrics_UnexecutedSignalsDoNotCountAsTrades(t *testing.T) {
	tracker := New()
	tracker.RecordSignal(types.TradingSignal{StrategyName: "momentum", Symbol: "005930", Side: types.OrderSideBuy, Timestamp: time.Now()})

	m := tracker.Metrics("momentum")
	assert.Equal(t, 1, m.TotalSignals)
	assert.Equal(t, 0, m.WinningTrades+m.LosingTrades)
}

func TestMetrics_UnknownStrategyIsEmpty(t *testing.T) {
	tracker := New()
	m := tracker.Metrics("ghost")
	assert.Equal(t, 0, m.TotalSignals)
}
