// Package marketdata declares the MarketDataSource capability: an
// external feed of OHLCV bars the strategy engine consumes. Modeled
// the same way as internal/broker - both the broker and the bar feed
// are adapters owned outside the core engine.
package marketdata

import (
	"context"

	"github.com/bikeshrana/qbtrader/pkg/types"
)

// Source streams bars for a set of symbols until ctx is cancelled or
// Close is called. Implementations publish each bar onto the event
// bus themselves (as MARKET_DATA_RECEIVED) rather than handing bars
// back through this interface, since the strategy engine only ever
// consumes market data through the bus.
type Source interface {
	Subscribe(ctx context.Context, symbols []string) error
	Unsubscribe(ctx context.Context, symbols []string) error
	LatestBar(symbol string) (types.MarketData, bool)
	Close() error
}
