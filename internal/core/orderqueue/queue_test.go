package orderqueue

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

func testQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	store := memstore.New()
	return New(cfg, store, zerolog.Nop())
}

func order(id string, side types.OrderSide, orderType types.OrderType) types.Order {
	return types.Order{
		OrderID: id, Symbol: "AAPL", Side: side, OrderType: orderType,
		Quantity: 10, TimeInForce: types.TimeInForceGTC,
		Status: types.OrderStatusPending, CreatedAt: time.Now(),
	}
}

func TestAddOrder_RejectsDuplicate(t *testing.T) {
	q := testQueue(t, DefaultConfig())
	ctx := context.Background()

	ok, err := q.AddOrder(ctx, order("o1", types.OrderSideBuy, types.OrderTypeMarket))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.AddOrder(ctx, order("o1", types.OrderSideBuy, types.OrderTypeMarket))
	require.NoError(t, err)
	assert.False(t, ok, "duplicate order_id must be rejected")
}

func TestAddOrder_RejectsWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueueSize = 1
	q := testQueue(t, cfg)
	ctx := context.Background()

	ok, _ := q.AddOrder(ctx, order("o1", types.OrderSideBuy, types.OrderTypeMarket))
	assert.True(t, ok)

	ok, _ = q.AddOrder(ctx, order("o2", types.OrderSideBuy, types.OrderTypeMarket))
	assert.False(t, ok, "queue at max size must reject further orders")
}

func TestCalculatePriority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrategyPriorities = map[string]int{"fast-strategy": -15}
	q := testQueue(t, cfg)

	market := order("o1", types.OrderSideBuy, types.OrderTypeMarket)
	assert.Equal(t, 80, q.calculatePriority(market))

	stop := order("o2", types.OrderSideSell, types.OrderTypeStop)
	// base 100 - 10 (STOP) - 5 (SELL) = 85
	assert.Equal(t, 85, q.calculatePriority(stop))

	limit := order("o3", types.OrderSideBuy, types.OrderTypeLimit)
	limit.StrategyName = "fast-strategy"
	assert.Equal(t, 85, q.calculatePriority(limit))

	adjusted := order("o4", types.OrderSideBuy, types.OrderTypeLimit)
	adjusted.Metadata = map[string]any{"priority_adjustment": -200}
	assert.Equal(t, 1, q.calculatePriority(adjusted), "priority must clamp to a minimum of 1")
}

func TestGetNextOrder_OrdersByPriorityThenEnqueueTime(t *testing.T) {
	q := testQueue(t, DefaultConfig())
	ctx := context.Background()

	_, _ = q.AddOrder(ctx, order("limit-buy", types.OrderSideBuy, types.OrderTypeLimit))  // priority 100
	_, _ = q.AddOrder(ctx, order("market-buy", types.OrderSideBuy, types.OrderTypeMarket)) // priority 80
	_, _ = q.AddOrder(ctx, order("market-sell", types.OrderSideSell, types.OrderTypeMarket)) // priority 75

	next, ok := q.GetNextOrder(ctx)
	require.True(t, ok)
	assert.Equal(t, "market-sell", next.OrderID)

	next, ok = q.GetNextOrder(ctx)
	require.True(t, ok)
	assert.Equal(t, "market-buy", next.OrderID)

	next, ok = q.GetNextOrder(ctx)
	require.True(t, ok)
	assert.Equal(t, "limit-buy", next.OrderID)

	_, ok = q.GetNextOrder(ctx)
	assert.False(t, ok)
}

func TestGetNextOrder_EvictsExpired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PriorityTimeout = time.Minute
	q := testQueue(t, cfg)
	ctx := context.Background()

	stale := order("stale", types.OrderSideBuy, types.OrderTypeLimit)
	stale.CreatedAt = time.Now().Add(-time.Hour)
	_, _ = q.AddOrder(ctx, stale)

	fresh := order("fresh", types.OrderSideBuy, types.OrderTypeLimit)
	_, _ = q.AddOrder(ctx, fresh)

	time.Sleep(2 * time.Millisecond)

	next, ok := q.GetNextOrder(ctx)
	require.True(t, ok)
	assert.Equal(t, "fresh", next.OrderID, "expired order must be evicted rather than dispatched")

	_, ok = q.GetNextOrder(ctx)
	assert.False(t, ok)
}

func TestGetNextOrder_EvictsPastDayTimeInForce(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	cfg.MarketCloseHour, cfg.MarketCloseMinute = now.Add(-time.Minute).Hour(), now.Add(-time.Minute).Minute()
	q := testQueue(t, cfg)
	ctx := context.Background()

	dayOrder := order("day-order", types.OrderSideBuy, types.OrderTypeLimit)
	dayOrder.TimeInForce = types.TimeInForceDay
	_, _ = q.AddOrder(ctx, dayOrder)

	_, ok := q.GetNextOrder(ctx)
	assert.False(t, ok, "DAY order past local market close must be evicted")
}

func TestRemoveOrder(t *testing.T) {
	q := testQueue(t, DefaultConfig())
	ctx := context.Background()

	_, _ = q.AddOrder(ctx, order("o1", types.OrderSideBuy, types.OrderTypeMarket))
	assert.True(t, q.RemoveOrder(ctx, "o1"))
	assert.False(t, q.RemoveOrder(ctx, "o1"))

	status := q.GetQueueStatus()
	assert.Equal(t, 0, status.Pending)
}

func TestGetPendingAndProcessingOrders(t *testing.T) {
	q := testQueue(t, DefaultConfig())
	ctx := context.Background()

	_, _ = q.AddOrder(ctx, order("o1", types.OrderSideBuy, types.OrderTypeMarket))
	_, _ = q.AddOrder(ctx, order("o2", types.OrderSideSell, types.OrderTypeLimit))

	assert.Len(t, q.GetPendingOrders(), 2)

	_, ok := q.GetNextOrder(ctx)
	require.True(t, ok)

	assert.Len(t, q.GetPendingOrders(), 1)
	assert.Len(t, q.GetProcessingOrders(), 1)

	status := q.GetQueueStatus()
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, 1, status.Processing)
}

func TestRestore_DiscardsExpiredAndReloadsRest(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cfg := DefaultConfig()

	stale := order("stale", types.OrderSideBuy, types.OrderTypeLimit)
	stale.CreatedAt = time.Now().Add(-time.Hour)
	stale.Priority = 100
	fresh := order("fresh", types.OrderSideBuy, types.OrderTypeLimit)
	fresh.Priority = 100
	processingOrder := order("processing", types.OrderSideBuy, types.OrderTypeLimit)

	seedQueue := New(cfg, store, zerolog.Nop())
	_, _ = seedQueue.AddOrder(ctx, stale)
	// AddOrder recomputes CreatedAt only when zero; overwrite the mirror directly
	// with the genuinely stale timestamp to simulate a pre-restart order.
	_ = seedQueue.mirrorPending(ctx, stale)
	_, _ = seedQueue.AddOrder(ctx, fresh)
	_ = seedQueue.mirrorProcessing(ctx, processingOrder)

	cfg.PriorityTimeout = 5 * time.Minute
	restored := New(cfg, store, zerolog.Nop())
	require.NoError(t, restored.Restore(ctx))

	pending := restored.GetPendingOrders()
	assert.Len(t, pending, 1)
	assert.Equal(t, "fresh", pending[0].OrderID)

	processing := restored.GetProcessingOrders()
	assert.Len(t, processing, 1)
	assert.Equal(t, "processing", processing[0].OrderID)
}
