// Package position implements the Position Manager: authoritative
// per-symbol position state, applying fills and deriving
// realized/unrealized P&L, striped one lock per symbol for
// concurrent access.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/qbtrader/internal/state"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// Manager owns Position state for every symbol it has seen, one lock
// per symbol so fill application for one symbol never blocks another.
type Manager struct {
	store  state.Store
	logger zerolog.Logger

	mu        sync.Mutex // protects the positions map itself, not entries
	positions map[string]*lockedPosition
}

type lockedPosition struct {
	mu  sync.Mutex
	pos types.Position
}

// New constructs an empty Manager.
func New(store state.Store, logger zerolog.Logger) *Manager {
	return &Manager{store: store, logger: logger, positions: make(map[string]*lockedPosition)}
}

func (m *Manager) entryFor(symbol string) *lockedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	lp, ok := m.positions[symbol]
	if !ok {
		lp = &lockedPosition{pos: types.Position{Symbol: symbol}}
		m.positions[symbol] = lp
	}
	return lp
}

// AddFill applies a fill to the symbol's position following the
// sign-flip accounting rule resolved in DESIGN.md Open Question 2:
// average price resets to the fill price only when the position's
// sign actually flips, not merely when it shrinks.
func (m *Manager) AddFill(ctx context.Context, fill types.Fill) (types.Position, error) {
	lp := m.entryFor(fill.Symbol)
	lp.mu.Lock()
	defer lp.mu.Unlock()

	p := &lp.pos
	signedQty := fill.Quantity
	if fill.Side == types.OrderSideSell {
		signedQty = -signedQty
	}

	switch {
	case p.IsFlat():
		p.Quantity = signedQty
		p.AveragePrice = fill.Price
	case sameSign(p.Quantity, signedQty):
		totalCost := decimal.NewFromInt(abs64(p.Quantity)).Mul(p.AveragePrice).
			Add(decimal.NewFromInt(fill.Quantity).Mul(fill.Price))
		totalQty := abs64(p.Quantity) + fill.Quantity
		p.AveragePrice = totalCost.Div(decimal.NewFromInt(totalQty))
		p.Quantity += signedQty
	default:
		closeQty := min64(abs64(p.Quantity), fill.Quantity)
		realizedGain := fill.Price.Sub(p.AveragePrice).Mul(decimal.NewFromInt(closeQty))
		if p.Quantity < 0 {
			realizedGain = realizedGain.Neg()
		}
		p.RealizedPnL = p.RealizedPnL.Add(realizedGain)

		preFlipQty := p.Quantity
		p.Quantity += signedQty
		// Position flipped sign: the new average price is the fill price
		// for the freshly opened side, not a blend with the closed side.
		if abs64(signedQty) > abs64(preFlipQty) {
			p.AveragePrice = fill.Price
		}
	}

	p.TotalCommission = p.TotalCommission.Add(fill.Commission)
	p.UpdatedAt = time.Now()

	snapshot := *p
	if err := m.persist(ctx, snapshot); err != nil {
		m.logger.Warn().Err(err).Str("symbol", fill.Symbol).Msg("failed to persist position snapshot")
	}
	return snapshot, nil
}

// UpdateMarketPrice refreshes market_price and recomputes unrealized
// P&L for a non-flat position; flat positions always read zero.
func (m *Manager) UpdateMarketPrice(ctx context.Context, symbol string, price decimal.Decimal) types.Position {
	lp := m.entryFor(symbol)
	lp.mu.Lock()
	defer lp.mu.Unlock()

	p := &lp.pos
	p.MarketPrice = price
	if !p.IsFlat() {
		p.UnrealizedPnL = price.Sub(p.AveragePrice).Mul(decimal.NewFromInt(p.Quantity))
	} else {
		p.UnrealizedPnL = decimal.Zero
	}
	p.UpdatedAt = time.Now()

	snapshot := *p
	if err := m.persist(ctx, snapshot); err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist position snapshot")
	}
	return snapshot
}

// Restore seeds a symbol's position from a persisted mirror row,
// called once at startup before any fills arrive. It does not write
// back to the store.
func (m *Manager) Restore(pos types.Position) {
	lp := m.entryFor(pos.Symbol)
	lp.mu.Lock()
	lp.pos = pos
	lp.mu.Unlock()
}

// Get returns the current position for a symbol.
func (m *Manager) Get(symbol string) types.Position {
	lp := m.entryFor(symbol)
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.pos
}

// All returns a snapshot of every tracked position.
func (m *Manager) All() []types.Position {
	m.mu.Lock()
	entries := make([]*lockedPosition, 0, len(m.positions))
	for _, lp := range m.positions {
		entries = append(entries, lp)
	}
	m.mu.Unlock()

	out := make([]types.Position, 0, len(entries))
	for _, lp := range entries {
		lp.mu.Lock()
		out = append(out, lp.pos)
		lp.mu.Unlock()
	}
	return out
}

// NonFlatCount reports how many symbols currently carry a non-zero position.
func (m *Manager) NonFlatCount() int {
	count := 0
	for _, p := range m.All() {
		if !p.IsFlat() {
			count++
		}
	}
	return count
}

func (m *Manager) persist(ctx context.Context, p types.Position) error {
	key := fmt.Sprintf("position:%s", p.Symbol)
	snapshot := fmt.Sprintf("%s|%d|%s", p.Symbol, p.Quantity, p.AveragePrice.String())
	return m.store.HashSet(ctx, key, "snapshot", snapshot)
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
