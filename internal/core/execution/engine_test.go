package execution

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/qbtrader/internal/broker"
	"github.com/bikeshrana/qbtrader/internal/core/commission"
	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/internal/core/orderqueue"
	"github.com/bikeshrana/qbtrader/internal/core/position"
	"github.com/bikeshrana/qbtrader/internal/state/memstore"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// fakeBroker is a minimal broker.Adapter stub for order-engine unit tests.
type fakeBroker struct {
	cash decimal.Decimal
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, order types.Order) (broker.OrderResult, error) {
	return broker.OrderResult{Success: true, BrokerOrderID: "b-" + order.OrderID}, nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) (broker.OrderResult, error) {
	return broker.OrderResult{Success: true}, nil
}
func (f *fakeBroker) GetOrderStatus(ctx context.Context, orderID string) (types.Order, error) {
	return types.Order{}, nil
}
func (f *fakeBroker) GetPositions(ctx context.Context) ([]types.Position, error) { return nil, nil }
func (f *fakeBroker) GetAccountBalance(ctx context.Context) (broker.AccountBalance, error) {
	return broker.AccountBalance{Cash: f.cash, BuyingPower: f.cash}, nil
}

func newTestEngine(t *testing.T, cash decimal.Decimal) (*Engine, *position.Manager) {
	t.Helper()
	store := memstore.New()
	bus := events.NewEventBus(events.DefaultConfig(), zerolog.Nop())
	queue := orderqueue.New(orderqueue.DefaultConfig(), store, zerolog.Nop())
	posMgr := position.New(store, zerolog.Nop())
	calc := commission.NewKoreanEquityCalculator(commission.KoreanEquitySchedule())
	tracker := NewTracker(bus, zerolog.Nop(), time.Hour)
	cfg := DefaultConfig()
	engine := NewEngine(cfg, bus, store, queue, posMgr, &fakeBroker{cash: cash}, calc, nil, tracker, nil, zerolog.Nop())
	return engine, posMgr
}

// TestValidateOrder_RejectsOverMaxOrderValue is spec invariant 8: no
// order is transmitted to the broker whose quantity*price exceeds
// max_order_value.
func TestValidateOrder_RejectsOverMaxOrderValue(t *testing.T) {
	engine, _ := newTestEngine(t, decimal.NewFromInt(1_000_000_000))
	engine.cfg.MaxOrderValue = decimal.NewFromInt(10_000)

	order := types.Order{
		OrderID: "o1", Symbol: "005930", Side: types.OrderSideBuy, OrderType: types.OrderTypeLimit,
		Quantity: 100, Price: decimal.NewFromInt(75_000),
	}
	err := engine.validateOrder(context.Background(), order)
	assert.Error(t, err)
}

func TestValidateOrder_RejectsInsufficientCash(t *testing.T) {
	engine, _ := newTestEngine(t, decimal.NewFromInt(1_000))
	engine.cfg.MaxOrderValue = decimal.NewFromInt(1_000_000_000)

	order := types.Order{
		OrderID: "o1", Symbol: "005930", Side: types.OrderSideBuy, OrderType: types.OrderTypeLimit,
		Quantity: 10, Price: decimal.NewFromInt(75_000),
	}
	err := engine.validateOrder(context.Background(), order)
	assert.Error(t, err)
}

func TestValidateOrder_RejectsNonPositiveQuantity(t *testing.T) {
	engine, _ := newTestEngine(t, decimal.NewFromInt(1_000_000))
	err := engine.validateOrder(context.Background(), types.Order{OrderID: "o1", Symbol: "005930", Quantity: 0})
	assert.Error(t, err)
}

func TestValidateOrder_RejectsOverMaxPositionCount(t *testing.T) {
	engine, posMgr := newTestEngine(t, decimal.NewFromInt(1_000_000_000))
	engine.cfg.MaxPositionCount = 1
	engine.cfg.MaxOrderValue = decimal.NewFromInt(1_000_000_000)

	_, err := posMgr.AddFill(context.Background(), types.Fill{
		FillID: "seed", Symbol: "000660", Side: types.OrderSideBuy, Quantity: 10,
		Price: decimal.NewFromInt(100), Timestamp: time.Now(),
	})
	require.NoError(t, err)

	order := types.Order{
		OrderID: "o1", Symbol: "005930", Side: types.OrderSideBuy, OrderType: types.OrderTypeLimit,
		Quantity: 1, Price: decimal.NewFromInt(100),
	}
	err = engine.validateOrder(context.Background(), order)
	assert.Error(t, err, "opening a new symbol must not be allowed past max_position_count")
}

// TestSynthesizeOrder_SizesFromConfidenceAndCash mirrors spec scenario
// S1's order-sizing formula: floor(min(cash*0.10, max_order_value) *
// min(confidence*1.5, 1.5) / price).
func TestSynthesizeOrder_SizesFromConfidenceAndCash(t *testing.T) {
	engine, _ := newTestEngine(t, decimal.NewFromInt(1_000_000_000))
	engine.cfg.MaxOrderValue = decimal.NewFromInt(10_000_000)

	signal := types.TradingSignal{
		Symbol: "005930", Side: types.OrderSideBuy, Confidence: 0.7,
		TargetPrice: decimal.NewFromInt(75_200), Timestamp: time.Now(), StrategyName: "momentum",
	}
	order, err := engine.synthesizeOrder(context.Background(), signal)
	require.NoError(t, err)

	budget := decimal.NewFromInt(10_000_000) // cash*0.10 = 1e8, clamped to max_order_value 1e7
	multiplier := decimal.NewFromFloat(0.7 * 1.5)
	expected := budget.Mul(multiplier).Div(decimal.NewFromInt(75_200)).Floor().IntPart()
	assert.Equal(t, expected, order.Quantity)
	assert.Equal(t, types.OrderTypeLimit, order.OrderType)
}

func TestSynthesizeOrder_UsesSignalQuantityWhenSet(t *testing.T) {
	engine, _ := newTestEngine(t, decimal.NewFromInt(1_000_000_000))
	signal := types.TradingSignal{
		Symbol: "005930", Side: types.OrderSideBuy, Confidence: 0.9, Quantity: 50,
		TargetPrice: decimal.NewFromInt(75_000), Timestamp: time.Now(),
	}
	order, err := engine.synthesizeOrder(context.Background(), signal)
	require.NoError(t, err)
	assert.Equal(t, int64(50), order.Quantity)
}
