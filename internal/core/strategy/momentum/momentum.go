// Package momentum implements the reference Moving-Average-Momentum
// strategy: compare the 1-minute close against a same-period simple
// moving average, holding a single position per symbol until a sell
// condition or forced market-close sell fires.
package momentum

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/qbtrader/internal/core/strategy"
	"github.com/bikeshrana/qbtrader/internal/state"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// Name is the registration key this strategy is loaded under.
const Name = "moving_average_momentum"

// Schema describes the strategy's activation parameters.
func Schema() map[string]strategy.ParamSpec {
	minPeriod, maxPeriod := 2.0, 20.0
	return map[string]strategy.ParamSpec{
		"ma_period":             {Type: strategy.ParamTypeInt, Default: 5, Min: &minPeriod, Max: &maxPeriod},
		"market_close_time":     {Type: strategy.ParamTypeString, Default: "15:20"},
		"enable_forced_sell":    {Type: strategy.ParamTypeBool, Default: true},
		"min_volume_threshold":  {Type: strategy.ParamTypeInt, Default: int(30_000_000_000)},
		"enable_volume_filter":  {Type: strategy.ParamTypeBool, Default: true},
	}
}

type position struct {
	entryPrice decimal.Decimal
	entryTime  time.Time
}

// Strategy is the moving-average momentum reference strategy.
type Strategy struct {
	store  state.Store
	logger zerolog.Logger

	mu         sync.RWMutex
	enabled    bool
	params     map[string]any
	maPeriod   int
	closeHour  int
	closeMin   int
	forcedSell bool
	volFilter  bool
	minVolume  int64

	posMu     sync.Mutex
	positions map[string]position
}

// NewConstructor binds a state.Store (for the best-bid lookup on
// sell) and logger into a strategy.Constructor suitable for
// registration with a Loader.
func NewConstructor(store state.Store, logger zerolog.Logger) strategy.Constructor {
	return func(params map[string]any) (strategy.Strategy, error) {
		s := &Strategy{
			store: store, logger: logger, enabled: true,
			positions: make(map[string]position),
		}
		if err := s.SetParameters(params); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// SetParameters implements strategy.Strategy.
func (s *Strategy) SetParameters(params map[string]any) error {
	maPeriod := intParam(params, "ma_period", 5)
	closeTime, _ := params["market_close_time"].(string)
	if closeTime == "" {
		closeTime = "15:20"
	}
	hour, minute, err := parseHHMM(closeTime)
	if err != nil {
		return fmt.Errorf("momentum: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
	s.maPeriod = maPeriod
	s.closeHour, s.closeMin = hour, minute
	s.forcedSell = boolParam(params, "enable_forced_sell", true)
	s.volFilter = boolParam(params, "enable_volume_filter", true)
	s.minVolume = int64(intParam(params, "min_volume_threshold", 30_000_000_000))
	return nil
}

// RequiredIndicators implements strategy.Strategy.
func (s *Strategy) RequiredIndicators() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return []string{fmt.Sprintf("sma_%d", s.maPeriod), "avg_volume_5d"}
}

// ParameterSchema implements strategy.Strategy.
func (s *Strategy) ParameterSchema() map[string]strategy.ParamSpec { return Schema() }

// Description implements strategy.Strategy.
func (s *Strategy) Description() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("moving-average momentum: buy above sma_%d, sell at/below it, forced close-time sell at %02d:%02d",
		s.maPeriod, s.closeHour, s.closeMin)
}

// GetState implements strategy.Strategy.
func (s *Strategy) GetState() strategy.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return strategy.State{Enabled: s.enabled, Parameters: s.params}
}

// Enable implements strategy.Strategy.
func (s *Strategy) Enable() { s.mu.Lock(); s.enabled = true; s.mu.Unlock() }

// Disable implements strategy.Strategy.
func (s *Strategy) Disable() { s.mu.Lock(); s.enabled = false; s.mu.Unlock() }

// Analyze implements strategy.Strategy's decision rules.
func (s *Strategy) Analyze(ctx context.Context, md types.MarketData) (*types.TradingSignal, error) {
	if md.IntervalType != "" && md.IntervalType != types.Interval1Min {
		return nil, nil
	}

	s.mu.RLock()
	maPeriod, closeHour, closeMin := s.maPeriod, s.closeHour, s.closeMin
	forcedSell, volFilter, minVolume := s.forcedSell, s.volFilter, s.minVolume
	s.mu.RUnlock()

	smaKey := fmt.Sprintf("sma_%d", maPeriod)
	sma, ok := md.Indicators[smaKey]
	if !ok {
		return nil, nil
	}

	hasPosition := s.hasPosition(md.Symbol)

	atOrAfterClose := md.Timestamp.Hour() > closeHour ||
		(md.Timestamp.Hour() == closeHour && md.Timestamp.Minute() >= closeMin)
	if atOrAfterClose && forcedSell && hasPosition {
		return s.forcedCloseSell(md)
	}

	if volFilter {
		if avgVolume, ok := md.Indicators["avg_volume_5d"]; ok && int64(avgVolume) < minVolume {
			return nil, nil
		}
	}

	switch {
	case md.Close > sma && !hasPosition:
		return s.buySignal(md, sma), nil
	case md.Close <= sma && hasPosition:
		return s.sellSignal(ctx, md, sma), nil
	default:
		return nil, nil
	}
}

func (s *Strategy) hasPosition(symbol string) bool {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	_, ok := s.positions[symbol]
	return ok
}

func (s *Strategy) buySignal(md types.MarketData, sma float64) *types.TradingSignal {
	ratio := md.Close / sma
	confidence := clamp((ratio-1.0)*10+0.7, 0.5, 0.95)

	price := decimal.NewFromFloat(md.Close)
	s.posMu.Lock()
	s.positions[md.Symbol] = position{entryPrice: price, entryTime: md.Timestamp}
	s.posMu.Unlock()

	return &types.TradingSignal{
		Symbol: md.Symbol, Side: types.OrderSideBuy, Confidence: confidence,
		TargetPrice: price, Timestamp: md.Timestamp,
		Reason: fmt.Sprintf("close %.2f above sma %.2f", md.Close, sma),
		Metadata: map[string]any{"signal_type": "momentum_buy", "sma": sma},
	}
}

func (s *Strategy) sellSignal(ctx context.Context, md types.MarketData, sma float64) *types.TradingSignal {
	sellPrice := decimal.NewFromFloat(md.Close)
	if s.store != nil {
		readCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		if raw, err := s.store.Get(readCtx, "best_bid:"+md.Symbol); err == nil {
			if parsed, perr := decimal.NewFromString(raw); perr == nil && parsed.IsPositive() {
				sellPrice = parsed
			}
		}
	}

	s.posMu.Lock()
	pos, had := s.positions[md.Symbol]
	delete(s.positions, md.Symbol)
	s.posMu.Unlock()

	entryPrice := sellPrice
	if had {
		entryPrice = pos.entryPrice
	}
	gain := sellPrice.GreaterThan(entryPrice)
	confidence := 0.9
	if gain {
		confidence = 0.8
	}

	return &types.TradingSignal{
		Symbol: md.Symbol, Side: types.OrderSideSell, Confidence: confidence,
		TargetPrice: sellPrice, Timestamp: md.Timestamp,
		Reason:   fmt.Sprintf("close %.2f at/below sma %.2f", md.Close, sma),
		Metadata: map[string]any{"signal_type": "momentum_sell", "sma": sma},
	}
}

func (s *Strategy) forcedCloseSell(md types.MarketData) (*types.TradingSignal, error) {
	s.posMu.Lock()
	delete(s.positions, md.Symbol)
	s.posMu.Unlock()

	return &types.TradingSignal{
		Symbol: md.Symbol, Side: types.OrderSideSell, Confidence: 1.0,
		Timestamp: md.Timestamp, Reason: "forced market close sell",
		Metadata: map[string]any{"signal_type": "forced_market_close_sell", "order_type": "market"},
	}, nil
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid market_close_time %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid market_close_time %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid market_close_time %q", s)
	}
	return hour, minute, nil
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func boolParam(params map[string]any, key string, def bool) bool {
	v, ok := params[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
