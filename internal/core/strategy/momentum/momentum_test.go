package momentum

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/qbtrader/internal/state/memstore"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

func newStrategy(t *testing.T, params map[string]any) *Strategy {
	t.Helper()
	strat, err := NewConstructor(memstore.New(), zerolog.Nop())(params)
	require.NoError(t, err)
	return strat.(*Strategy)
}

// TestAnalyze_Buy mirrors spec scenario S1: close above sma_5 with no
// existing position produces a BUY signal with the clamped confidence
// formula.
func TestAnalyze_Buy(t *testing.T) {
	s := newStrategy(t, map[string]any{"ma_period": 5, "enable_volume_filter": false})

	md := types.MarketData{
		Symbol: "005930", Close: 75_200, Volume: 40_000_000_000,
		Timestamp: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		Indicators: map[string]float64{"sma_5": 75_000},
	}

	signal, err := s.Analyze(context.Background(), md)
	require.NoError(t, err)
	require.NotNil(t, signal)
	assert.Equal(t, types.OrderSideBuy, signal.Side)
	expectedConfidence := clamp((75_200.0/75_000.0-1.0)*10+0.7, 0.5, 0.95)
	assert.InDelta(t, expectedConfidence, signal.Confidence, 1e-9)
}

// TestAnalyze_ForcedSellAtClose mirrors spec scenario S2: a position
// held past market close time, with forced sell enabled, produces a
// MARKET sell at confidence 1.0 regardless of price.
func TestAnalyze_ForcedSellAtClose(t *testing.T) {
	s := newStrategy(t, map[string]any{"ma_period": 5, "enable_volume_filter": false})
	ctx := context.Background()

	_, err := s.Analyze(ctx, types.MarketData{
		Symbol: "005930", Close: 75_200, Timestamp: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		Indicators: map[string]float64{"sma_5": 75_000},
	})
	require.NoError(t, err)
	require.True(t, s.hasPosition("005930"))

	signal, err := s.Analyze(ctx, types.MarketData{
		Symbol: "005930", Close: 74_500, Timestamp: time.Date(2026, 3, 10, 15, 20, 0, 0, time.UTC),
		Indicators: map[string]float64{"sma_5": 75_000},
	})
	require.NoError(t, err)
	require.NotNil(t, signal)
	assert.Equal(t, types.OrderSideSell, signal.Side)
	assert.Equal(t, 1.0, signal.Confidence)
	assert.Equal(t, "forced_market_close_sell", signal.Metadata["signal_type"])
}

func TestAnalyze_VolumeFilterSuppressesSignal(t *testing.T) {
	s := newStrategy(t, map[string]any{"ma_period": 5, "enable_volume_filter": true, "min_volume_threshold": 100})

	signal, err := s.Analyze(context.Background(), types.MarketData{
		Symbol: "005930", Close: 75_200, Timestamp: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		Indicators: map[string]float64{"sma_5": 75_000, "avg_volume_5d": 1},
	})
	require.NoError(t, err)
	assert.Nil(t, signal, "signal must be suppressed when avg_volume is below threshold")
}

func TestAnalyze_MissingIndicatorIsHold(t *testing.T) {
	s := newStrategy(t, map[string]any{"ma_period": 5})

	signal, err := s.Analyze(context.Background(), types.MarketData{
		Symbol: "005930", Close: 75_200, Timestamp: time.Now(),
		Indicators: map[string]float64{},
	})
	require.NoError(t, err)
	assert.Nil(t, signal)
}

func TestRequiredIndicators_ReflectsMAPeriod(t *testing.T) {
	s := newStrategy(t, map[string]any{"ma_period": 10})
	assert.Contains(t, s.RequiredIndicators(), "sma_10")
}
