// engine.go implements the Order Engine: signal-to-order synthesis,
// four-point pre-trade validation, and an Order-Queue-backed
// submission pipeline.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/bikeshrana/qbtrader/internal/broker"
	"github.com/bikeshrana/qbtrader/internal/core/commission"
	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/internal/core/orderqueue"
	"github.com/bikeshrana/qbtrader/internal/core/position"
	"github.com/bikeshrana/qbtrader/internal/core/risk"
	"github.com/bikeshrana/qbtrader/internal/data"
	"github.com/bikeshrana/qbtrader/internal/state"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// state store keys for the order_id <-> broker_order_id cache
// required by spec section 4.3(d): broker notifications may arrive
// keyed by either id (section 6.1).
const (
	brokerOrderIDKeyPrefix = "broker_order_id:" // order_id -> broker_order_id
	orderIDByBrokerPrefix  = "order_id_by_broker:" // broker_order_id -> order_id
)

// Config holds the Order Engine's tunables.
type Config struct {
	MaxOrderValue    decimal.Decimal
	MinOrderQuantity int64
	MaxOrderQuantity int64
	MaxPositionCount int

	WorkerPoolSize int
	OrderTimeout   time.Duration
	MaxRetries     int
	InitialBackoff time.Duration

	PollInterval time.Duration
}

// DefaultConfig returns conservative sizing and retry defaults for the
// quantity formula and submission pipeline.
func DefaultConfig() Config {
	return Config{
		MaxOrderValue:    decimal.NewFromInt(25_000),
		MinOrderQuantity: 1,
		MaxOrderQuantity: 10_000,
		MaxPositionCount: 20,

		WorkerPoolSize: 10,
		OrderTimeout:   30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,

		PollInterval: 100 * time.Millisecond,
	}
}

// Engine is the Order Engine: it turns TRADING_SIGNAL events into
// validated Orders, submits them through the Order Queue against a
// BrokerAdapter, and reconciles fills back onto the Position Manager
// and Execution Tracker.
type Engine struct {
	cfg    Config
	bus    *events.EventBus
	store  state.Store
	queue  *orderqueue.Queue
	posMgr *position.Manager
	brokerage broker.Adapter
	calc   *commission.Calculator
	risk   *risk.Manager
	tracker *Tracker
	orders *data.OrdersRepository
	logger zerolog.Logger

	mu     sync.Mutex
	active map[string]types.Order

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewEngine constructs the Order Engine.
func NewEngine(
	cfg Config,
	bus *events.EventBus,
	store state.Store,
	queue *orderqueue.Queue,
	posMgr *position.Manager,
	brokerage broker.Adapter,
	calc *commission.Calculator,
	riskMgr *risk.Manager,
	tracker *Tracker,
	orders *data.OrdersRepository,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		cfg: cfg, bus: bus, store: store, queue: queue, posMgr: posMgr,
		brokerage: brokerage, calc: calc, risk: riskMgr, tracker: tracker, orders: orders, logger: logger,
		active: make(map[string]types.Order),
	}
}

// Start subscribes to TRADING_SIGNAL and ORDER_EXECUTED, and launches
// the submission worker pool, the timeout sweeper, and the Execution
// Tracker's stale-partial-fill sweeper.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	e.group = group

	e.bus.SubscribeHandler(events.EventTypeTradingSignal, nil, "order-engine", e.onTradingSignal)
	e.bus.SubscribeHandler(events.EventTypeOrderExecuted, nil, "order-engine", e.onOrderExecuted)
	e.bus.SubscribeHandler(events.EventTypeMarketDataReceived, nil, "order-engine", e.onMarketData)

	for i := 0; i < e.cfg.WorkerPoolSize; i++ {
		group.Go(func() error {
			e.submissionWorker(gctx)
			return nil
		})
	}
	group.Go(func() error {
		e.timeoutSweeper(gctx)
		return nil
	})
	group.Go(func() error {
		e.tracker.Run(gctx)
		return nil
	})

	e.bus.Publish(events.NewEvent(events.EventTypeSystemStatus, "order-engine",
		events.SystemStatusPayload{Component: "order-engine", Status: "started"}))
}

// Shutdown cancels every active order, stops the worker pool and
// sweepers, and publishes a terminal SYSTEM_STATUS event.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	orderIDs := make([]string, 0, len(e.active))
	for id := range e.active {
		orderIDs = append(orderIDs, id)
	}
	e.mu.Unlock()

	for _, id := range orderIDs {
		if _, err := e.brokerage.CancelOrder(ctx, id); err != nil {
			e.logger.Warn().Err(err).Str("order_id", id).Msg("order engine: cancel during shutdown failed")
		}
	}

	if e.cancel != nil {
		e.cancel()
	}
	if e.group != nil {
		_ = e.group.Wait()
	}

	e.bus.Publish(events.NewEvent(events.EventTypeSystemStatus, "order-engine",
		events.SystemStatusPayload{Component: "order-engine", Status: "stopped"}))
}

// onTradingSignal synthesizes, validates, and enqueues an Order from
// a strategy's TradingSignal.
func (e *Engine) onTradingSignal(ctx context.Context, event events.Event) error {
	payload, ok := event.Data.(events.TradingSignalPayload)
	if !ok {
		return fmt.Errorf("order engine: unexpected payload type %T", event.Data)
	}
	signal := payload.Signal

	order, err := e.synthesizeOrder(ctx, signal)
	if err != nil {
		e.logger.Info().Err(err).Str("symbol", signal.Symbol).Str("strategy", signal.StrategyName).
			Msg("order engine: signal did not produce an order")
		return nil
	}

	if err := e.validateOrder(ctx, order); err != nil {
		e.logger.Warn().Err(err).Str("order_id", order.OrderID).Msg("order engine: pre-trade validation rejected order")
		e.bus.Publish(events.NewEvent(events.EventTypeOrderFailed, "order-engine",
			events.OrderFailedPayload{OrderID: order.OrderID, ErrorKind: "VALIDATION", Reason: err.Error()}))
		return nil
	}

	accepted, err := e.queue.AddOrder(ctx, order)
	if err != nil {
		return fmt.Errorf("order engine: enqueue: %w", err)
	}
	if !accepted {
		e.bus.Publish(events.NewEvent(events.EventTypeOrderFailed, "order-engine",
			events.OrderFailedPayload{OrderID: order.OrderID, ErrorKind: "QUEUE_FULL", Reason: "order queue rejected order"}))
	}
	return nil
}

// synthesizeOrder implements the signal → order rules from spec
// section 4.3.
func (e *Engine) synthesizeOrder(ctx context.Context, signal types.TradingSignal) (types.Order, error) {
	orderType, limitPrice, stopPrice := orderTypeFromSignal(signal)

	effectivePrice := limitPrice
	if effectivePrice.IsZero() {
		effectivePrice = signal.TargetPrice
	}
	if effectivePrice.IsZero() {
		if pos := e.posMgr.Get(signal.Symbol); pos.MarketPrice.IsPositive() {
			effectivePrice = pos.MarketPrice
		}
	}

	quantity, err := e.computeQuantity(ctx, signal, effectivePrice)
	if err != nil {
		return types.Order{}, err
	}

	now := time.Now()
	return types.Order{
		OrderID: uuid.NewString(), Symbol: signal.Symbol, Side: signal.Side,
		OrderType: orderType, Quantity: quantity, Price: limitPrice, StopPrice: stopPrice,
		TimeInForce: types.TimeInForceGTC, StrategyName: signal.StrategyName,
		Status: types.OrderStatusPending, CreatedAt: now, UpdatedAt: now,
		Metadata: signal.Metadata,
	}, nil
}

// orderTypeFromSignal derives the order type, limit price, and stop
// price from a signal: MARKET unless the signal carries a price
// (LIMIT), unless metadata names STOP/STOP_LIMIT with a stop_price.
func orderTypeFromSignal(signal types.TradingSignal) (orderType types.OrderType, limitPrice, stopPrice decimal.Decimal) {
	if kind, ok := signal.Metadata["order_type"].(string); ok {
		switch kind {
		case "stop":
			return types.OrderTypeStop, decimal.Zero, decimalFromMetadata(signal.Metadata, "stop_price")
		case "stop_limit":
			return types.OrderTypeStopLimit, signal.TargetPrice, decimalFromMetadata(signal.Metadata, "stop_price")
		case "market":
			return types.OrderTypeMarket, decimal.Zero, decimal.Zero
		}
	}
	if signal.TargetPrice.IsPositive() {
		return types.OrderTypeLimit, signal.TargetPrice, decimal.Zero
	}
	return types.OrderTypeMarket, decimal.Zero, decimal.Zero
}

func decimalFromMetadata(metadata map[string]any, key string) decimal.Decimal {
	raw, ok := metadata[key]
	if !ok {
		return decimal.Zero
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case string:
		d, err := decimal.NewFromString(v)
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}

// computeQuantity implements the order sizing formula:
// floor( min(available_cash*0.10, max_order_value) * min(confidence*1.5, 1.5) / price ),
// clamped to [min_order_quantity, max_order_quantity]. The signal's
// own quantity, if set, is used unclamped-by-formula but still
// range-clamped.
func (e *Engine) computeQuantity(ctx context.Context, signal types.TradingSignal, price decimal.Decimal) (int64, error) {
	if signal.Quantity > 0 {
		return clampQuantity(signal.Quantity, e.cfg.MinOrderQuantity, e.cfg.MaxOrderQuantity), nil
	}
	if !price.IsPositive() {
		return 0, fmt.Errorf("no price available to size order for %s", signal.Symbol)
	}

	balance, err := e.brokerage.GetAccountBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("order engine: account balance: %w", err)
	}

	cashBudget := balance.Cash.Mul(decimal.NewFromFloat(0.10))
	budget := decimal.Min(cashBudget, e.cfg.MaxOrderValue)

	confidenceMultiplier := decimal.NewFromFloat(signal.Confidence).Mul(decimal.NewFromFloat(1.5))
	maxMultiplier := decimal.NewFromFloat(1.5)
	if confidenceMultiplier.GreaterThan(maxMultiplier) {
		confidenceMultiplier = maxMultiplier
	}

	raw := budget.Mul(confidenceMultiplier).Div(price)
	quantity := raw.Floor().IntPart()
	quantity = clampQuantity(quantity, e.cfg.MinOrderQuantity, e.cfg.MaxOrderQuantity)
	if quantity <= 0 {
		return 0, fmt.Errorf("computed non-positive quantity for %s", signal.Symbol)
	}
	return quantity, nil
}

func clampQuantity(qty, min, max int64) int64 {
	if qty < min {
		return min
	}
	if qty > max {
		return max
	}
	return qty
}

// validateOrder runs the four mandatory pre-trade checks from spec
// section 4.3, then the ancillary risk engine, stopping at the first
// failure.
func (e *Engine) validateOrder(ctx context.Context, order types.Order) error {
	if order.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}

	effectivePrice := order.Price
	if effectivePrice.IsZero() {
		if pos := e.posMgr.Get(order.Symbol); pos.MarketPrice.IsPositive() {
			effectivePrice = pos.MarketPrice
		}
	}
	if effectivePrice.IsPositive() {
		orderValue := decimal.NewFromInt(order.Quantity).Mul(effectivePrice)
		if orderValue.GreaterThan(e.cfg.MaxOrderValue) {
			return fmt.Errorf("order value %s exceeds max_order_value %s", orderValue, e.cfg.MaxOrderValue)
		}
	}

	current := e.posMgr.Get(order.Symbol)
	if current.IsFlat() && e.posMgr.NonFlatCount() >= e.cfg.MaxPositionCount {
		return fmt.Errorf("opening %s would exceed max_position_count %d", order.Symbol, e.cfg.MaxPositionCount)
	}

	if order.Side == types.OrderSideBuy && effectivePrice.IsPositive() {
		balance, err := e.brokerage.GetAccountBalance(ctx)
		if err != nil {
			return fmt.Errorf("account balance: %w", err)
		}
		cost := decimal.NewFromInt(order.Quantity).Mul(effectivePrice)
		if cost.GreaterThan(balance.Cash) {
			return fmt.Errorf("order cost %s exceeds available cash %s", cost, balance.Cash)
		}
	}

	if e.risk != nil {
		result, err := e.risk.ValidateOrder(ctx, order, effectivePrice)
		if err != nil {
			return fmt.Errorf("risk manager: %w", err)
		}
		if !result.Approved {
			return fmt.Errorf("risk manager rejected order: %v", result.Rejections)
		}
	}

	return nil
}

// submissionWorker is one member of the fixed worker pool: it
// dequeues the next order, transitions it to SUBMITTED, and calls the
// BrokerAdapter, retrying categorized-retryable failures with
// exponential backoff.
func (e *Engine) submissionWorker(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			order, ok := e.queue.GetNextOrder(ctx)
			if !ok {
				continue
			}
			e.submit(ctx, order)
		}
	}
}

func (e *Engine) submit(ctx context.Context, order types.Order) {
	order.Status = types.OrderStatusSubmitted
	order.SubmittedAt = time.Now()

	result, err := e.placeWithRetry(ctx, order)
	if err != nil {
		e.queue.RemoveOrder(ctx, order.OrderID)
		e.bus.Publish(events.NewEvent(events.EventTypeOrderFailed, "order-engine",
			events.OrderFailedPayload{OrderID: order.OrderID, ErrorKind: string(broker.CategoryOf(err)), Reason: err.Error()}))
		return
	}

	order.BrokerOrderID = result.BrokerOrderID
	order.UpdatedAt = time.Now()

	e.mu.Lock()
	e.active[order.OrderID] = order
	e.mu.Unlock()

	e.cacheBrokerOrderID(ctx, order.OrderID, result.BrokerOrderID)
	e.persistNewOrder(ctx, order)

	e.tracker.Track(order)
	e.queue.RemoveOrder(ctx, order.OrderID)
	if e.risk != nil {
		e.risk.RecordOrder()
	}

	e.bus.Publish(events.NewEvent(events.EventTypeOrderPlaced, "order-engine",
		events.OrderPlacedPayload{Order: order, BrokerOrderID: result.BrokerOrderID}))
}

// cacheBrokerOrderID persists the order_id <-> broker_order_id mapping
// per spec section 4.3(d), so a broker notification keyed by either id
// (section 6.1) can be resolved back to the order engine's active order.
func (e *Engine) cacheBrokerOrderID(ctx context.Context, orderID, brokerOrderID string) {
	if e.store == nil || brokerOrderID == "" {
		return
	}
	if err := e.store.Put(ctx, brokerOrderIDKeyPrefix+orderID, brokerOrderID); err != nil {
		e.logger.Warn().Err(err).Str("order_id", orderID).Msg("order engine: failed to cache broker order id")
	}
	if err := e.store.Put(ctx, orderIDByBrokerPrefix+brokerOrderID, orderID); err != nil {
		e.logger.Warn().Err(err).Str("order_id", orderID).Msg("order engine: failed to cache reverse broker order id")
	}
}

// persistNewOrder writes the just-submitted order to the durable
// orders table, the sink that GET /orders and GET /trades read from.
func (e *Engine) persistNewOrder(ctx context.Context, order types.Order) {
	if e.orders == nil {
		return
	}
	row := &data.Order{
		ID: order.OrderID, StrategyID: strPtrOrNil(order.StrategyName),
		Symbol: order.Symbol, Side: string(order.Side), Type: string(order.OrderType),
		Quantity: float64(order.Quantity), FilledQuantity: 0, AveragePrice: 0,
		Status: string(order.Status), TimeInForce: string(order.TimeInForce),
		CreatedAt: order.CreatedAt, UpdatedAt: order.UpdatedAt,
	}
	if order.Price.IsPositive() {
		p, _ := order.Price.Float64()
		row.LimitPrice = &p
	}
	if order.StopPrice.IsPositive() {
		p, _ := order.StopPrice.Float64()
		row.StopPrice = &p
	}
	if err := e.orders.CreateOrder(ctx, row); err != nil {
		e.logger.Error().Err(err).Str("order_id", order.OrderID).Msg("order engine: failed to persist order")
	}
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// placeWithRetry calls BrokerAdapter.PlaceOrder, retrying auth and
// transport failures with exponential backoff and rate-limit failures
// with a delayed retry, up to MaxRetries; invalid-request,
// insufficient-balance, and market-closed are terminal.
func (e *Engine) placeWithRetry(ctx context.Context, order types.Order) (broker.OrderResult, error) {
	backoff := e.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		result, err := e.brokerage.PlaceOrder(ctx, order)
		if err == nil {
			return result, nil
		}
		lastErr = err

		category := broker.CategoryOf(err)
		if !category.Retryable() || attempt == e.cfg.MaxRetries {
			return broker.OrderResult{}, err
		}

		e.logger.Warn().Err(err).Str("order_id", order.OrderID).Str("category", string(category)).
			Int("attempt", attempt+1).Dur("backoff", backoff).Msg("order engine: retrying order placement")

		select {
		case <-ctx.Done():
			return broker.OrderResult{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return broker.OrderResult{}, lastErr
}

// onOrderExecuted reconciles one fill against its active order, the
// Position Manager, and the Execution Tracker.
func (e *Engine) onOrderExecuted(ctx context.Context, event events.Event) error {
	payload, ok := event.Data.(events.OrderExecutedPayload)
	if !ok {
		return fmt.Errorf("order engine: unexpected payload type %T", event.Data)
	}

	orderID := e.resolveOrderID(ctx, payload.OrderID, payload.BrokerOrderID)
	e.mu.Lock()
	order, known := e.active[orderID]
	e.mu.Unlock()
	if !known {
		e.logger.Warn().Str("order_id", payload.OrderID).Str("broker_order_id", payload.BrokerOrderID).
			Msg("order engine: fill for unknown order ignored")
		return nil
	}

	price, _ := decimal.NewFromString(payload.Price)
	comm, _ := decimal.NewFromString(payload.Commission)
	if comm.IsZero() {
		comm = e.calc.Calculate(payload.Side, price, payload.Quantity, commission.DiscountFlagsFromMetadata(order.Metadata)).Total
	}

	fill := types.Fill{
		FillID: payload.BrokerFillID, OrderID: order.OrderID, Symbol: payload.Symbol,
		Side: payload.Side, Quantity: payload.Quantity, Price: price, Commission: comm,
		Timestamp: payload.Timestamp, BrokerFillID: payload.BrokerFillID,
	}

	fullyFilled, duplicate, err := e.tracker.AddFill(fill)
	if err != nil {
		e.logger.Error().Err(err).Str("order_id", order.OrderID).Msg("order engine: fill rejected")
		return nil
	}
	if duplicate {
		return nil
	}

	if updated, err := e.posMgr.AddFill(ctx, fill); err != nil {
		e.logger.Error().Err(err).Str("order_id", order.OrderID).Msg("order engine: position update failed")
	} else {
		e.bus.Publish(events.NewEvent(events.EventTypePositionUpdated, "order-engine",
			events.PositionUpdatedPayload{Position: updated}))
	}

	e.persistFill(ctx, order, fill)

	order.FilledQuantity += fill.Quantity
	totalNotional := order.AverageFillPrice.Mul(decimal.NewFromInt(order.FilledQuantity-fill.Quantity)).
		Add(fill.Price.Mul(decimal.NewFromInt(fill.Quantity)))
	if order.FilledQuantity > 0 {
		order.AverageFillPrice = totalNotional.Div(decimal.NewFromInt(order.FilledQuantity))
	}
	order.Commission = order.Commission.Add(fill.Commission)
	order.UpdatedAt = time.Now()

	if fullyFilled {
		order.Status = types.OrderStatusFilled
		e.mu.Lock()
		delete(e.active, order.OrderID)
		e.mu.Unlock()
	} else {
		order.Status = types.OrderStatusPartialFilled
		e.mu.Lock()
		e.active[order.OrderID] = order
		e.mu.Unlock()
	}

	return nil
}

// resolveOrderID looks up the active order by its own id first, then
// by the broker_order_id <-> order_id cache in either direction, per
// section 6.1's "order_id | broker_order_id" ambiguity on broker
// notifications.
func (e *Engine) resolveOrderID(ctx context.Context, orderID, brokerOrderID string) string {
	if orderID != "" {
		e.mu.Lock()
		_, known := e.active[orderID]
		e.mu.Unlock()
		if known {
			return orderID
		}
	}
	if e.store == nil {
		return orderID
	}
	for _, key := range []string{orderIDByBrokerPrefix + brokerOrderID, orderIDByBrokerPrefix + orderID} {
		if resolved, err := e.store.Get(ctx, key); err == nil && resolved != "" {
			return resolved
		}
	}
	return orderID
}

// persistFill writes the fill to the trades table and applies its
// effect to the order row in the orders table, idempotent on fill_id
// the same way the in-memory Execution Tracker is (the tracker's
// duplicate check above runs before this is ever reached).
func (e *Engine) persistFill(ctx context.Context, order types.Order, fill types.Fill) {
	if e.orders == nil {
		return
	}
	trade := &data.Trade{
		ID: fill.FillID, OrderID: order.OrderID, StrategyID: strPtrOrNil(order.StrategyName),
		Symbol: fill.Symbol, Side: string(fill.Side), Quantity: float64(fill.Quantity),
		ExecutedAt: fill.Timestamp,
	}
	trade.Price, _ = fill.Price.Float64()
	trade.Commission, _ = fill.Commission.Float64()
	if err := e.orders.CreateTrade(ctx, trade); err != nil {
		e.logger.Error().Err(err).Str("order_id", order.OrderID).Str("fill_id", fill.FillID).
			Msg("order engine: failed to persist trade")
	}

	if err := e.orders.FillOrder(ctx, order.OrderID, float64(fill.Quantity), trade.Price); err != nil {
		e.logger.Error().Err(err).Str("order_id", order.OrderID).Msg("order engine: failed to persist order fill")
	}
}

// onMarketData refreshes non-flat positions' market price and
// unrealized P&L on every bar.
func (e *Engine) onMarketData(ctx context.Context, event events.Event) error {
	payload, ok := event.Data.(events.MarketDataPayload)
	if !ok {
		return fmt.Errorf("order engine: unexpected payload type %T", event.Data)
	}
	md := payload.MarketData
	current := e.posMgr.Get(md.Symbol)
	if current.IsFlat() {
		return nil
	}
	updated := e.posMgr.UpdateMarketPrice(ctx, md.Symbol, decimal.NewFromFloat(md.Close))
	e.bus.Publish(events.NewEvent(events.EventTypePositionUpdated, "order-engine",
		events.PositionUpdatedPayload{Position: updated}))
	return nil
}

// timeoutSweeper cancels any active order whose age exceeds
// OrderTimeout, every 30 seconds.
func (e *Engine) timeoutSweeper(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepTimeouts(ctx)
		}
	}
}

func (e *Engine) sweepTimeouts(ctx context.Context) {
	now := time.Now()
	e.mu.Lock()
	var stale []string
	for id, order := range e.active {
		if now.Sub(order.CreatedAt) > e.cfg.OrderTimeout {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	for _, id := range stale {
		if _, err := e.brokerage.CancelOrder(ctx, id); err != nil {
			e.logger.Warn().Err(err).Str("order_id", id).Msg("order engine: timeout cancel failed")
			continue
		}
		e.mu.Lock()
		delete(e.active, id)
		e.mu.Unlock()
		e.tracker.Untrack(id)
		if e.orders != nil {
			if err := e.orders.CancelOrder(ctx, id, "timeout"); err != nil {
				e.logger.Warn().Err(err).Str("order_id", id).Msg("order engine: failed to persist timeout cancellation")
			}
		}
		e.bus.Publish(events.NewEvent(events.EventTypeOrderCancelled, "order-engine",
			events.OrderCancelledPayload{OrderID: id, Reason: "timeout"}))
	}
}
