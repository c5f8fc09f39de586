package position

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/qbtrader/internal/state/memstore"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

func fill(side types.OrderSide, qty int64, price float64) types.Fill {
	return types.Fill{
		FillID: string(side) + "-fill", Symbol: "005930", Side: side,
		Quantity: qty, Price: decimal.NewFromFloat(price),
		Commission: decimal.Zero, Timestamp: time.Now(),
	}
}

func TestAddFill_FlatToLong(t *testing.T) {
	m := New(memstore.New(), zerolog.Nop())
	ctx := context.Background()

	pos, err := m.AddFill(ctx, fill(types.OrderSideBuy, 100, 75_000))
	require.NoError(t, err)
	assert.Equal(t, int64(100), pos.Quantity)
	assert.True(t, pos.AveragePrice.Equal(decimal.NewFromInt(75_000)))
}

// TestAddFill_RoundTrip_BuyThenSell is the round-trip law from spec
// section 8: a BUY fill of (q, p) followed by a SELL fill of (q, p)
// with zero commission must net to flat, zero realized P&L, and leave
// average_price unchanged from the BUY.
func TestAddFill_RoundTrip_BuyThenSell(t *testing.T) {
	m := New(memstore.New(), zerolog.Nop())
	ctx := context.Background()

	_, err := m.AddFill(ctx, types.Fill{FillID: "f1", Symbol: "005930", Side: types.OrderSideBuy, Quantity: 100, Price: decimal.NewFromInt(75_000), Timestamp: time.Now()})
	require.NoError(t, err)

	pos, err := m.AddFill(ctx, types.Fill{FillID: "f2", Symbol: "005930", Side: types.OrderSideSell, Quantity: 100, Price: decimal.NewFromInt(75_000), Timestamp: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, int64(0), pos.Quantity)
	assert.True(t, pos.RealizedPnL.IsZero())
	assert.True(t, pos.AveragePrice.Equal(decimal.NewFromInt(75_000)))
}

func TestAddFill_SameDirectionAveragesPrice(t *testing.T) {
	m := New(memstore.New(), zerolog.Nop())
	ctx := context.Background()

	_, err := m.AddFill(ctx, types.Fill{FillID: "f1", Symbol: "005930", Side: types.OrderSideBuy, Quantity: 100, Price: decimal.NewFromInt(70_000), Timestamp: time.Now()})
	require.NoError(t, err)

	pos, err := m.AddFill(ctx, types.Fill{FillID: "f2", Symbol: "005930", Side: types.OrderSideBuy, Quantity: 100, Price: decimal.NewFromInt(80_000), Timestamp: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, int64(200), pos.Quantity)
	assert.True(t, pos.AveragePrice.Equal(decimal.NewFromInt(75_000)), "average of 70k and 80k over equal size is 75k, got %s", pos.AveragePrice)
}

// TestAddFill_PartialCloseRealizesGain covers an opposite-direction
// fill that only partially closes the position: realized P&L accrues
// on the closed portion and the average price is unchanged (no flip).
func TestAddFill_PartialCloseRealizesGain(t *testing.T) {
	m := New(memstore.New(), zerolog.Nop())
	ctx := context.Background()

	_, err := m.AddFill(ctx, types.Fill{FillID: "f1", Symbol: "005930", Side: types.OrderSideBuy, Quantity: 100, Price: decimal.NewFromInt(75_000), Timestamp: time.Now()})
	require.NoError(t, err)

	pos, err := m.AddFill(ctx, types.Fill{FillID: "f2", Symbol: "005930", Side: types.OrderSideSell, Quantity: 40, Price: decimal.NewFromInt(80_000), Timestamp: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, int64(60), pos.Quantity)
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(200_000)), "40*(80000-75000) = 200000, got %s", pos.RealizedPnL)
	assert.True(t, pos.AveragePrice.Equal(decimal.NewFromInt(75_000)), "average price unchanged when the position doesn't flip")
}

// TestAddFill_FlipResetsAveragePrice covers DESIGN.md Open Question 2:
// a SELL larger than the existing LONG flips the position to SHORT and
// resets average_price to the fill price for the newly opened side.
func TestAddFill_FlipResetsAveragePrice(t *testing.T) {
	m := New(memstore.New(), zerolog.Nop())
	ctx := context.Background()

	_, err := m.AddFill(ctx, types.Fill{FillID: "f1", Symbol: "005930", Side: types.OrderSideBuy, Quantity: 100, Price: decimal.NewFromInt(75_000), Timestamp: time.Now()})
	require.NoError(t, err)

	pos, err := m.AddFill(ctx, types.Fill{FillID: "f2", Symbol: "005930", Side: types.OrderSideSell, Quantity: 150, Price: decimal.NewFromInt(80_000), Timestamp: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, int64(-50), pos.Quantity)
	assert.True(t, pos.AveragePrice.Equal(decimal.NewFromInt(80_000)), "average price resets to fill price on sign flip")
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(500_000)), "100*(80000-75000) realized on the closed long, got %s", pos.RealizedPnL)
}

// TestUnrealizedPnL_MatchesInvariant3 checks spec invariant 3: for a
// non-flat position, unrealized_pnl == (market_price - average_price) * quantity.
func TestUnrealizedPnL_MatchesInvariant3(t *testing.T) {
	m := New(memstore.New(), zerolog.Nop())
	ctx := context.Background()

	_, err := m.AddFill(ctx, types.Fill{FillID: "f1", Symbol: "005930", Side: types.OrderSideBuy, Quantity: 100, Price: decimal.NewFromInt(75_000), Timestamp: time.Now()})
	require.NoError(t, err)

	pos := m.UpdateMarketPrice(ctx, "005930", decimal.NewFromInt(76_000))
	assert.True(t, pos.UnrealizedPnL.Equal(decimal.NewFromInt(100_000)))
}

func TestUnrealizedPnL_ZeroWhenFlat(t *testing.T) {
	m := New(memstore.New(), zerolog.Nop())
	ctx := context.Background()

	pos := m.UpdateMarketPrice(ctx, "005930", decimal.NewFromInt(76_000))
	assert.True(t, pos.UnrealizedPnL.IsZero())
}

func TestNonFlatCount(t *testing.T) {
	m := New(memstore.New(), zerolog.Nop())
	ctx := context.Background()

	_, _ = m.AddFill(ctx, types.Fill{FillID: "f1", Symbol: "005930", Side: types.OrderSideBuy, Quantity: 100, Price: decimal.NewFromInt(75_000), Timestamp: time.Now()})
	_, _ = m.AddFill(ctx, types.Fill{FillID: "f2", Symbol: "000660", Side: types.OrderSideBuy, Quantity: 10, Price: decimal.NewFromInt(120_000), Timestamp: time.Now()})
	assert.Equal(t, 2, m.NonFlatCount())

	_, _ = m.AddFill(ctx, types.Fill{FillID: "f3", Symbol: "000660", Side: types.OrderSideSell, Quantity: 10, Price: decimal.NewFromInt(120_000), Timestamp: time.Now()})
	assert.Equal(t, 1, m.NonFlatCount())
}
