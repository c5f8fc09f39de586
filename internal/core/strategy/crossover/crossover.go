// Package crossover adapts the teacher's MovingAverageCrossoverStrategy
// (originally an event-loop-owning BaseStrategy subclass) into the
// strategy.Strategy capability: same short/long simple-moving-average
// crossover detection over a rolling price history per symbol, now a
// pure analyze() call instead of a goroutine subscribed to the bus
// directly.
package crossover

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/qbtrader/internal/core/strategy"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// Name is the registration key this strategy is loaded under.
const Name = "moving_average_crossover"

// Schema describes the activation parameters.
func Schema() map[string]strategy.ParamSpec {
	minShort, maxShort := 2.0, 50.0
	minLong, maxLong := 5.0, 200.0
	return map[string]strategy.ParamSpec{
		"short_period": {Type: strategy.ParamTypeInt, Default: 5, Min: &minShort, Max: &maxShort},
		"long_period":  {Type: strategy.ParamTypeInt, Default: 20, Min: &minLong, Max: &maxLong},
	}
}

type crossState string

const (
	stateNone  crossState = "NONE"
	stateAbove crossState = "ABOVE"
	stateBelow crossState = "BELOW"
)

// Strategy is the short/long SMA crossover strategy.
type Strategy struct {
	logger zerolog.Logger

	mu          sync.Mutex
	enabled     bool
	params      map[string]any
	shortPeriod int
	longPeriod  int

	priceHistory map[string][]float64
	prevState    map[string]crossState
}

// NewConstructor builds a strategy.Constructor for registration with a Loader.
func NewConstructor(logger zerolog.Logger) strategy.Constructor {
	return func(params map[string]any) (strategy.Strategy, error) {
		s := &Strategy{
			logger: logger, enabled: true,
			priceHistory: make(map[string][]float64),
			prevState:    make(map[string]crossState),
		}
		if err := s.SetParameters(params); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// SetParameters implements strategy.Strategy.
func (s *Strategy) SetParameters(params map[string]any) error {
	short := intParam(params, "short_period", 5)
	long := intParam(params, "long_period", 20)
	if short >= long {
		return fmt.Errorf("crossover: short_period (%d) must be less than long_period (%d)", short, long)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
	s.shortPeriod = short
	s.longPeriod = long
	return nil
}

// RequiredIndicators implements strategy.Strategy. This strategy
// computes its own moving averages from the raw close price history
// rather than depending on precomputed indicators.
func (s *Strategy) RequiredIndicators() []string { return nil }

// ParameterSchema implements strategy.Strategy.
func (s *Strategy) ParameterSchema() map[string]strategy.ParamSpec { return Schema() }

// Description implements strategy.Strategy.
func (s *Strategy) Description() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("moving average crossover: short(%d) vs long(%d)", s.shortPeriod, s.longPeriod)
}

// GetState implements strategy.Strategy.
func (s *Strategy) GetState() strategy.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strategy.State{Enabled: s.enabled, Parameters: s.params}
}

// Enable implements strategy.Strategy.
func (s *Strategy) Enable() { s.mu.Lock(); s.enabled = true; s.mu.Unlock() }

// Disable implements strategy.Strategy.
func (s *Strategy) Disable() { s.mu.Lock(); s.enabled = false; s.mu.Unlock() }

// Analyze implements strategy.Strategy.
func (s *Strategy) Analyze(ctx context.Context, md types.MarketData) (*types.TradingSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addPrice(md.Symbol, md.Close)
	history := s.priceHistory[md.Symbol]
	if len(history) < s.longPeriod {
		return nil, nil
	}

	shortMA := average(history[len(history)-s.shortPeriod:])
	longMA := average(history[len(history)-s.longPeriod:])

	var current crossState
	switch {
	case shortMA > longMA:
		current = stateAbove
	case shortMA < longMA:
		current = stateBelow
	default:
		current = stateNone
	}
	prev := s.prevState[md.Symbol]
	s.prevState[md.Symbol] = current

	var side types.OrderSide
	switch {
	case prev == stateBelow && current == stateAbove:
		side = types.OrderSideBuy
	case prev == stateAbove && current == stateBelow:
		side = types.OrderSideSell
	default:
		return nil, nil
	}

	return &types.TradingSignal{
		Symbol: md.Symbol, Side: side, Confidence: 0.75,
		TargetPrice: decimal.NewFromFloat(md.Close), Timestamp: md.Timestamp,
		Reason:   fmt.Sprintf("short MA (%.2f) crossed %s long MA (%.2f)", shortMA, crossWord(side), longMA),
		Metadata: map[string]any{"signal_type": "ma_crossover", "short_ma": shortMA, "long_ma": longMA},
	}, nil
}

func (s *Strategy) addPrice(symbol string, price float64) {
	history := append(s.priceHistory[symbol], price)
	if len(history) > s.longPeriod {
		history = history[len(history)-s.longPeriod:]
	}
	s.priceHistory[symbol] = history
}

func average(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func crossWord(side types.OrderSide) string {
	if side == types.OrderSideBuy {
		return "above"
	}
	return "below"
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
