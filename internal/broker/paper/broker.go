// Package paper implements a paper-trading BrokerAdapter: orders fill
// immediately against a locally tracked last-quote cache rather than a
// real venue, persisted to SQLite via gorm the way
// web3guy0-polybot/internal/database tracks its own trade and market
// rows. Used in place of a live venue for demo/backtest deployments
// and for the order engine's own tests.
package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bikeshrana/qbtrader/internal/broker"
	"github.com/bikeshrana/qbtrader/internal/core/commission"
	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// OrderRow is the persisted record of a paper order.
type OrderRow struct {
	OrderID      string `gorm:"primaryKey"`
	Symbol       string `gorm:"index"`
	Side         string
	OrderType    string
	Quantity     int64
	Price        decimal.Decimal `gorm:"type:decimal(20,6)"`
	StopPrice    decimal.Decimal `gorm:"type:decimal(20,6)"`
	Status       string
	FilledQty    int64
	AvgFillPrice decimal.Decimal `gorm:"type:decimal(20,6)"`
	Commission   decimal.Decimal `gorm:"type:decimal(20,6)"`
	Metadata     string `gorm:"type:text"` // JSON-encoded Order.Metadata, for commission discount flags
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FillRow is one simulated execution against an OrderRow.
type FillRow struct {
	FillID     string `gorm:"primaryKey"`
	OrderID    string `gorm:"index"`
	Symbol     string
	Side       string
	Quantity   int64
	Price      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Commission decimal.Decimal `gorm:"type:decimal(20,6)"`
	CreatedAt  time.Time
}

// AccountRow holds the single-account cash ledger for the paper book.
type AccountRow struct {
	ID          uint            `gorm:"primaryKey"`
	Cash        decimal.Decimal `gorm:"type:decimal(20,6)"`
	EquityValue decimal.Decimal `gorm:"type:decimal(20,6)"`
	UpdatedAt   time.Time
}

// Broker is a paper-trading broker.Adapter. Fills are synthesized
// in-process: MARKET orders fill immediately at the last known quote,
// LIMIT orders fill only when the quote has crossed the limit price,
// STOP and STOP_LIMIT orders are tracked as resting and checked on
// every SetQuote call. Every fill, immediate or resting, is published
// as an ORDER_EXECUTED event so the order engine's fill reconciliation
// path is exercised the same way it would be against a real venue's
// async notification channel.
type Broker struct {
	db     *gorm.DB
	calc   *commission.Calculator
	bus    *events.EventBus
	logger zerolog.Logger

	mu     sync.Mutex
	quotes map[string]decimal.Decimal
}

// New opens (creating if necessary) the SQLite-backed paper book at
// dbPath and seeds the account with startingCash.
func New(dbPath string, startingCash decimal.Decimal, calc *commission.Calculator, bus *events.EventBus, logger zerolog.Logger) (*Broker, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("paper broker: open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&OrderRow{}, &FillRow{}, &AccountRow{}); err != nil {
		return nil, fmt.Errorf("paper broker: migrate: %w", err)
	}

	var acct AccountRow
	if err := db.First(&acct).Error; err != nil {
		acct = AccountRow{Cash: startingCash, EquityValue: startingCash}
		if err := db.Create(&acct).Error; err != nil {
			return nil, fmt.Errorf("paper broker: seed account: %w", err)
		}
	}

	return &Broker{db: db, calc: calc, bus: bus, logger: logger, quotes: make(map[string]decimal.Decimal)}, nil
}

// Start subscribes the broker's quote cache to MARKET_DATA_RECEIVED,
// so MARKET orders have a price to fill at and resting LIMIT/STOP
// orders get checked against every live bar.
func (b *Broker) Start() {
	if b.bus == nil {
		return
	}
	b.bus.SubscribeHandler(events.EventTypeMarketDataReceived, nil, "paper-broker", b.onMarketData)
}

func (b *Broker) onMarketData(ctx context.Context, event events.Event) error {
	payload, ok := event.Data.(events.MarketDataPayload)
	if !ok {
		return fmt.Errorf("paper broker: unexpected payload type %T", event.Data)
	}
	md := payload.MarketData
	if md.Symbol == "" || md.Close == 0 {
		return nil
	}
	b.SetQuote(md.Symbol, decimal.NewFromFloat(md.Close))
	return nil
}

// SetQuote records the latest observed price for symbol and attempts
// to fill any resting LIMIT/STOP/STOP_LIMIT orders it now crosses.
// Called by the market data pipeline on every received bar.
func (b *Broker) SetQuote(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	b.quotes[symbol] = price
	b.mu.Unlock()

	var resting []OrderRow
	if err := b.db.Where("symbol = ? AND status = ?", symbol, "SUBMITTED").Find(&resting).Error; err != nil {
		b.logger.Warn().Err(err).Str("symbol", symbol).Msg("paper broker: failed to scan resting orders")
		return
	}
	for _, row := range resting {
		fillPrice, ok := b.crossingPrice(row, price)
		if !ok {
			continue
		}
		if err := b.fill(row, fillPrice); err != nil {
			b.logger.Warn().Err(err).Str("order_id", row.OrderID).Msg("paper broker: failed to fill resting order")
		}
	}
}

func (b *Broker) crossingPrice(row OrderRow, quote decimal.Decimal) (decimal.Decimal, bool) {
	side := types.OrderSide(row.Side)
	switch types.OrderType(row.OrderType) {
	case types.OrderTypeLimit:
		if crossesLimit(side, quote, row.Price) {
			return row.Price, true
		}
	case types.OrderTypeStop:
		if crossesStop(side, quote, row.StopPrice) {
			return quote, true
		}
	case types.OrderTypeStopLimit:
		if crossesStop(side, quote, row.StopPrice) && crossesLimit(side, quote, row.Price) {
			return row.Price, true
		}
	}
	return decimal.Zero, false
}

func (b *Broker) quoteFor(symbol string) (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.quotes[symbol]
	return p, ok
}

// PlaceOrder implements broker.Adapter.
func (b *Broker) PlaceOrder(ctx context.Context, order types.Order) (broker.OrderResult, error) {
	quote, haveQuote := b.quoteFor(order.Symbol)

	var fillPrice decimal.Decimal
	canFillNow := false
	switch order.OrderType {
	case types.OrderTypeMarket:
		if !haveQuote {
			return broker.OrderResult{}, broker.NewError(broker.ErrorCategoryMarketClosed, "no quote available for "+order.Symbol, nil)
		}
		fillPrice, canFillNow = quote, true
	case types.OrderTypeLimit:
		if haveQuote && crossesLimit(order.Side, quote, order.Price) {
			fillPrice, canFillNow = order.Price, true
		}
	case types.OrderTypeStop, types.OrderTypeStopLimit:
		if haveQuote && crossesStop(order.Side, quote, order.StopPrice) {
			fillPrice = order.Price
			if order.OrderType == types.OrderTypeStop {
				fillPrice = quote
			}
			canFillNow = true
		}
	default:
		return broker.OrderResult{}, broker.NewError(broker.ErrorCategoryInvalidRequest, "unsupported order type "+string(order.OrderType), nil)
	}

	var metadataJSON string
	if len(order.Metadata) > 0 {
		if encoded, err := json.Marshal(order.Metadata); err == nil {
			metadataJSON = string(encoded)
		}
	}
	row := OrderRow{
		OrderID: order.OrderID, Symbol: order.Symbol, Side: string(order.Side),
		OrderType: string(order.OrderType), Quantity: order.Quantity, Price: order.Price,
		StopPrice: order.StopPrice, Status: "SUBMITTED", Metadata: metadataJSON,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := b.db.Create(&row).Error; err != nil {
		return broker.OrderResult{}, broker.NewError(broker.ErrorCategoryTransport, "persist order", err)
	}

	if canFillNow {
		if err := b.fill(row, fillPrice); err != nil {
			return broker.OrderResult{}, broker.NewError(broker.ErrorCategoryInsufficientFunds, err.Error(), err)
		}
	}

	return broker.OrderResult{
		OrderID: order.OrderID, Success: true, BrokerOrderID: order.OrderID,
		Message: "SUBMITTED", Timestamp: time.Now(),
	}, nil
}

// fill settles one order's remaining quantity at price: debits/credits
// the cash ledger, persists a FillRow, updates the OrderRow, and
// publishes ORDER_EXECUTED so the order engine's async fill path is
// exercised identically whether the fill was immediate or resting.
func (b *Broker) fill(row OrderRow, price decimal.Decimal) error {
	remaining := row.Quantity - row.FilledQty
	if remaining <= 0 {
		return nil
	}

	var metadata map[string]any
	if row.Metadata != "" {
		_ = json.Unmarshal([]byte(row.Metadata), &metadata)
	}
	breakdown := b.calc.Calculate(types.OrderSide(row.Side), price, remaining, commission.DiscountFlagsFromMetadata(metadata))
	comm := breakdown.Total

	if err := b.settle(types.OrderSide(row.Side), price, remaining, comm); err != nil {
		return err
	}

	fillID := uuid.NewString()
	now := time.Now()
	if err := b.db.Create(&FillRow{
		FillID: fillID, OrderID: row.OrderID, Symbol: row.Symbol,
		Side: row.Side, Quantity: remaining, Price: price, Commission: comm,
		CreatedAt: now,
	}).Error; err != nil {
		return fmt.Errorf("persist fill: %w", err)
	}

	row.FilledQty += remaining
	totalNotional := row.AvgFillPrice.Mul(decimal.NewFromInt(row.FilledQty - remaining)).
		Add(price.Mul(decimal.NewFromInt(remaining)))
	row.AvgFillPrice = totalNotional.Div(decimal.NewFromInt(row.FilledQty))
	row.Commission = row.Commission.Add(comm)
	row.Status = "FILLED"
	row.UpdatedAt = now
	if err := b.db.Save(&row).Error; err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if b.bus != nil {
		b.bus.Publish(events.NewEvent(events.EventTypeOrderExecuted, "paper-broker", events.OrderExecutedPayload{
			OrderID: row.OrderID, BrokerOrderID: row.OrderID, Symbol: row.Symbol,
			Side: types.OrderSide(row.Side), Quantity: remaining, Price: price.String(),
			Commission: comm.String(), Timestamp: now, BrokerFillID: fillID,
		}))
	}
	return nil
}

// CancelOrder implements broker.Adapter. Only orders still resting
// (never filled) can be cancelled in the paper book.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) (broker.OrderResult, error) {
	var row OrderRow
	if err := b.db.First(&row, "order_id = ?", orderID).Error; err != nil {
		return broker.OrderResult{}, broker.NewError(broker.ErrorCategoryInvalidRequest, "unknown order "+orderID, err)
	}
	if row.Status == "FILLED" {
		return broker.OrderResult{Success: false, OrderID: orderID, Message: "already filled"}, nil
	}
	row.Status = "CANCELLED"
	row.UpdatedAt = time.Now()
	if err := b.db.Save(&row).Error; err != nil {
		return broker.OrderResult{}, broker.NewError(broker.ErrorCategoryTransport, "update order", err)
	}
	return broker.OrderResult{Success: true, OrderID: orderID, Message: "CANCELLED", Timestamp: time.Now()}, nil
}

// GetOrderStatus implements broker.Adapter.
func (b *Broker) GetOrderStatus(ctx context.Context, orderID string) (types.Order, error) {
	var row OrderRow
	if err := b.db.First(&row, "order_id = ?", orderID).Error; err != nil {
		return types.Order{}, broker.NewError(broker.ErrorCategoryInvalidRequest, "unknown order "+orderID, err)
	}
	return types.Order{
		OrderID: row.OrderID, Symbol: row.Symbol, Side: types.OrderSide(row.Side),
		OrderType: types.OrderType(row.OrderType), Quantity: row.Quantity, Price: row.Price,
		Status: types.OrderStatus(row.Status), FilledQuantity: row.FilledQty,
		AverageFillPrice: row.AvgFillPrice, Commission: row.Commission,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}, nil
}

// GetPositions implements broker.Adapter by reconstructing net
// holdings from the fill ledger; the paper broker has no independent
// position book of its own, the order engine's position.Manager is
// the system of record and this exists only to satisfy reconciliation
// checks against the venue.
func (b *Broker) GetPositions(ctx context.Context) ([]types.Position, error) {
	var fills []FillRow
	if err := b.db.Find(&fills).Error; err != nil {
		return nil, broker.NewError(broker.ErrorCategoryTransport, "scan fills", err)
	}

	qty := make(map[string]int64)
	for _, f := range fills {
		signed := f.Quantity
		if f.Side == string(types.OrderSideSell) {
			signed = -signed
		}
		qty[f.Symbol] += signed
	}

	positions := make([]types.Position, 0, len(qty))
	for symbol, q := range qty {
		positions = append(positions, types.Position{Symbol: symbol, Quantity: q})
	}
	return positions, nil
}

// GetAccountBalance implements broker.Adapter.
func (b *Broker) GetAccountBalance(ctx context.Context) (broker.AccountBalance, error) {
	var acct AccountRow
	if err := b.db.First(&acct).Error; err != nil {
		return broker.AccountBalance{}, broker.NewError(broker.ErrorCategoryTransport, "read account", err)
	}
	return broker.AccountBalance{
		Cash: acct.Cash, BuyingPower: acct.Cash, EquityValue: acct.EquityValue, Currency: "KRW",
	}, nil
}

func (b *Broker) settle(side types.OrderSide, price decimal.Decimal, quantity int64, comm decimal.Decimal) error {
	var acct AccountRow
	if err := b.db.First(&acct).Error; err != nil {
		return err
	}
	notional := price.Mul(decimal.NewFromInt(quantity))
	switch side {
	case types.OrderSideBuy:
		cost := notional.Add(comm)
		if acct.Cash.LessThan(cost) {
			return fmt.Errorf("insufficient cash: have %s need %s", acct.Cash, cost)
		}
		acct.Cash = acct.Cash.Sub(cost)
	case types.OrderSideSell:
		acct.Cash = acct.Cash.Add(notional).Sub(comm)
	}
	acct.UpdatedAt = time.Now()
	return b.db.Save(&acct).Error
}

func crossesLimit(side types.OrderSide, quote, limit decimal.Decimal) bool {
	if side == types.OrderSideBuy {
		return quote.LessThanOrEqual(limit)
	}
	return quote.GreaterThanOrEqual(limit)
}

func crossesStop(side types.OrderSide, quote, stop decimal.Decimal) bool {
	if side == types.OrderSideBuy {
		return quote.GreaterThanOrEqual(stop)
	}
	return quote.LessThanOrEqual(stop)
}
