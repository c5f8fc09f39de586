package strategy

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/internal/state/memstore"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// recordingStrategy counts Analyze invocations and always signals BUY,
// used to assert the engine's per-symbol dispatch filtering.
type recordingStrategy struct {
	calls int32
}

func (s *recordingStrategy) Analyze(ctx context.Context, md types.MarketData) (*types.TradingSignal, error) {
	atomic.AddInt32(&s.calls, 1)
	return &types.TradingSignal{Symbol: md.Symbol, Side: types.OrderSideBuy, Confidence: 0.8, Timestamp: md.Timestamp}, nil
}
func (s *recordingStrategy) RequiredIndicators() []string             { return nil }
func (s *recordingStrategy) ParameterSchema() map[string]ParamSpec    { return nil }
func (s *recordingStrategy) Description() string                      { return "test" }
func (s *recordingStrategy) GetState() State                          { return State{Enabled: true} }
func (s *recordingStrategy) Enable()                                  {}
func (s *recordingStrategy) Disable()                                 {}
func (s *recordingStrategy) SetParameters(params map[string]any) error { return nil }

// TestOnMarketData_DispatchIsSymbolFiltered is spec invariant 7: a
// strategy whose subscribed-symbol set does not contain the event's
// symbol is never invoked for that event.
func TestOnMarketData_DispatchIsSymbolFiltered(t *testing.T) {
	bus := events.NewEventBus(events.DefaultConfig(), zerolog.Nop())
	loader := NewLoader()
	rs := &recordingStrategy{}
	loader.Register("recorder", map[string]ParamSpec{}, func(params map[string]any) (Strategy, error) {
		return rs, nil
	})

	engine := NewEngine(bus, memstore.New(), loader, zerolog.Nop())
	require.NoError(t, engine.ActivateStrategy("recorder", nil, []string{"005930"}))

	err := engine.onMarketData(context.Background(), events.NewEvent(events.EventTypeMarketDataReceived, "feed",
		events.MarketDataPayload{MarketData: types.MarketData{Symbol: "000660", Timestamp: time.Now(), Close: 100}}))
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&rs.calls), "strategy subscribed to 005930 must not be invoked for 000660")

	err = engine.onMarketData(context.Background(), events.NewEvent(events.EventTypeMarketDataReceived, "feed",
		events.MarketDataPayload{MarketData: types.MarketData{Symbol: "005930", Timestamp: time.Now(), Close: 100}}))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rs.calls))
}

func TestOnMarketData_EmptySymbolSetMatchesAll(t *testing.T) {
	bus := events.NewEventBus(events.DefaultConfig(), zerolog.Nop())
	loader := NewLoader()
	rs := &recordingStrategy{}
	loader.Register("recorder", map[string]ParamSpec{}, func(params map[string]any) (Strategy, error) {
		return rs, nil
	})

	engine := NewEngine(bus, memstore.New(), loader, zerolog.Nop())
	require.NoError(t, engine.ActivateStrategy("recorder", nil, nil))

	err := engine.onMarketData(context.Background(), events.NewEvent(events.EventTypeMarketDataReceived, "feed",
		events.MarketDataPayload{MarketData: types.MarketData{Symbol: "ANY", Timestamp: time.Now(), Close: 100}}))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rs.calls))
}

func TestOnMarketData_MissingSymbolOrTimestampDropped(t *testing.T) {
	bus := events.NewEventBus(events.DefaultConfig(), zerolog.Nop())
	loader := NewLoader()
	rs := &recordingStrategy{}
	loader.Register("recorder", map[string]ParamSpec{}, func(params map[string]any) (Strategy, error) {
		return rs, nil
	})
	engine := NewEngine(bus, memstore.New(), loader, zerolog.Nop())
	require.NoError(t, engine.ActivateStrategy("recorder", nil, nil))

	err := engine.onMarketData(context.Background(), events.NewEvent(events.EventTypeMarketDataReceived, "feed",
		events.MarketDataPayload{MarketData: types.MarketData{Symbol: "", Timestamp: time.Now()}}))
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&rs.calls))
}

func TestDeactivateStrategy_RemovesFromDispatch(t *testing.T) {
	bus := events.NewEventBus(events.DefaultConfig(), zerolog.Nop())
	loader := NewLoader()
	rs := &recordingStrategy{}
	loader.Register("recorder", map[string]ParamSpec{}, func(params map[string]any) (Strategy, error) {
		return rs, nil
	})
	engine := NewEngine(bus, memstore.New(), loader, zerolog.Nop())
	require.NoError(t, engine.ActivateStrategy("recorder", nil, nil))
	assert.True(t, engine.DeactivateStrategy("recorder"))
	assert.False(t, engine.DeactivateStrategy("recorder"), "deactivating twice must report false")

	err := engine.onMarketData(context.Background(), events.NewEvent(events.EventTypeMarketDataReceived, "feed",
		events.MarketDataPayload{MarketData: types.MarketData{Symbol: "ANY", Timestamp: time.Now()}}))
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&rs.calls))
}
