package execution

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

func newTestOrder(id string, qty int64) types.Order {
	return types.Order{
		OrderID: id, Symbol: "005930", Side: types.OrderSideBuy,
		OrderType: types.OrderTypeLimit, Quantity: qty,
		Status: types.OrderStatusSubmitted, CreatedAt: time.Now(),
	}
}

// TestAddFill_PartialThenFull mirrors spec scenario S3: a 1000-share
// order filled by 300 then 700 shares at different prices, the second
// fill completing the order.
func TestAddFill_PartialThenFull(t *testing.T) {
	bus := events.NewEventBus(events.DefaultConfig(), zerolog.Nop())
	tracker := NewTracker(bus, zerolog.Nop(), time.Hour)
	tracker.Track(newTestOrder("o1", 1000))

	full, dup, err := tracker.AddFill(types.Fill{
		FillID: "f1", OrderID: "o1", Symbol: "005930", Side: types.OrderSideBuy,
		Quantity: 300, Price: decimal.NewFromInt(74_950), Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, full)
	assert.False(t, dup)

	full, dup, err = tracker.AddFill(types.Fill{
		FillID: "f2", OrderID: "o1", Symbol: "005930", Side: types.OrderSideBuy,
		Quantity: 700, Price: decimal.NewFromInt(75_000), Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, full)
	assert.False(t, dup)

	// Replaying f1 after the order is already fully filled returns an
	// error: the order is no longer tracked, so the replay cannot overfill.
	full, dup, err = tracker.AddFill(types.Fill{
		FillID: "f1", OrderID: "o1", Symbol: "005930", Side: types.OrderSideBuy,
		Quantity: 300, Price: decimal.NewFromInt(74_950), Timestamp: time.Now(),
	})
	assert.Error(t, err, "order is untracked after reaching terminal state")
	_ = full
	_ = dup
}

func TestAddFill_DuplicateBeforeCompletionIsNoOp(t *testing.T) {
	bus := events.NewEventBus(events.DefaultConfig(), zerolog.Nop())
	tracker := NewTracker(bus, zerolog.Nop(), time.Hour)
	tracker.Track(newTestOrder("o1", 1000))

	_, _, err := tracker.AddFill(types.Fill{
		FillID: "f1", OrderID: "o1", Symbol: "005930", Side: types.OrderSideBuy,
		Quantity: 300, Price: decimal.NewFromInt(74_950), Timestamp: time.Now(),
	})
	require.NoError(t, err)

	full, dup, err := tracker.AddFill(types.Fill{
		FillID: "f1", OrderID: "o1", Symbol: "005930", Side: types.OrderSideBuy,
		Quantity: 300, Price: decimal.NewFromInt(74_950), Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.False(t, full)
}

func TestAddFill_RejectsOverfill(t *testing.T) {
	bus := events.NewEventBus(events.DefaultConfig(), zerolog.Nop())
	tracker := NewTracker(bus, zerolog.Nop(), time.Hour)
	tracker.Track(newTestOrder("o1", 100))

	_, _, err := tracker.AddFill(types.Fill{
		FillID: "f1", OrderID: "o1", Symbol: "005930", Side: types.OrderSideBuy,
		Quantity: 150, Price: decimal.NewFromInt(75_000), Timestamp: time.Now(),
	})
	assert.Error(t, err)
}

func TestAddFill_UnknownOrderIsError(t *testing.T) {
	bus := events.NewEventBus(events.DefaultConfig(), zerolog.Nop())
	tracker := NewTracker(bus, zerolog.Nop(), time.Hour)

	_, _, err := tracker.AddFill(types.Fill{
		FillID: "f1", OrderID: "ghost", Symbol: "005930", Side: types.OrderSideBuy,
		Quantity: 10, Price: decimal.NewFromInt(75_000), Timestamp: time.Now(),
	})
	assert.Error(t, err)
}
