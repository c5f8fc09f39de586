// Package execution implements the Execution Tracker and the Order
// Engine. One ExecutionTracker entry lives per order from ORDER_PLACED
// until it reaches a terminal status; fills are applied idempotently
// on fill_id and checked against the order's total quantity before
// they're accepted.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// orderExecution tracks the fills applied to one live order.
type orderExecution struct {
	order        types.Order
	fillIDs      map[string]bool
	filledQty    int64
	lastFillAt   time.Time
	createdAt    time.Time
}

// Tracker is the Execution Tracker: a per-order fill ledger that
// enforces idempotent, quantity-bounded fill application and publishes
// the resulting progress events.
type Tracker struct {
	bus    *events.EventBus
	logger zerolog.Logger

	maxPartialFillTime time.Duration

	mu      sync.Mutex
	byOrder map[string]*orderExecution

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTracker constructs an Execution Tracker. maxPartialFillTime
// governs the 60s sweeper's STALE_PARTIAL_FILL_ALERT threshold.
func NewTracker(bus *events.EventBus, logger zerolog.Logger, maxPartialFillTime time.Duration) *Tracker {
	return &Tracker{
		bus: bus, logger: logger, maxPartialFillTime: maxPartialFillTime,
		byOrder: make(map[string]*orderExecution),
		stopCh:  make(chan struct{}), doneCh: make(chan struct{}),
	}
}

// Track begins tracking a newly placed order.
func (t *Tracker) Track(order types.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byOrder[order.OrderID] = &orderExecution{
		order: order, fillIDs: make(map[string]bool), createdAt: order.CreatedAt,
	}
}

// Untrack stops tracking an order that has reached a terminal status.
func (t *Tracker) Untrack(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byOrder, orderID)
}

// AddFill applies a fill to its order's ledger. A fill_id that was
// already applied is a no-op reported as duplicate=true with a nil
// error. Returns an error if the order is not tracked or if the
// cumulative filled quantity would exceed the order's total quantity. Publishes ORDER_PARTIALLY_EXECUTED or
// ORDER_FULLY_EXECUTED on acceptance.
func (t *Tracker) AddFill(fill types.Fill) (fullyFilled bool, duplicate bool, err error) {
	t.mu.Lock()
	oe, ok := t.byOrder[fill.OrderID]
	if !ok {
		t.mu.Unlock()
		return false, false, fmt.Errorf("execution tracker: unknown order %q", fill.OrderID)
	}
	if oe.fillIDs[fill.FillID] {
		alreadyFilled := oe.filledQty >= oe.order.Quantity
		t.mu.Unlock()
		return alreadyFilled, true, nil
	}
	if oe.filledQty+fill.Quantity > oe.order.Quantity {
		t.mu.Unlock()
		return false, false, fmt.Errorf("execution tracker: fill %s would overfill order %s (%d + %d > %d)",
			fill.FillID, fill.OrderID, oe.filledQty, fill.Quantity, oe.order.Quantity)
	}

	oe.fillIDs[fill.FillID] = true
	oe.filledQty += fill.Quantity
	oe.lastFillAt = fill.Timestamp
	fullyFilled = oe.filledQty >= oe.order.Quantity
	filledQty := oe.filledQty
	t.mu.Unlock()

	if fullyFilled {
		t.bus.Publish(events.NewEvent(events.EventTypeOrderFullyExecuted, "execution-tracker",
			events.OrderExecutedPayload{
				OrderID: fill.OrderID, Symbol: fill.Symbol, Side: fill.Side,
				Quantity: filledQty, Price: fill.Price.String(), Commission: fill.Commission.String(),
				Timestamp: fill.Timestamp, BrokerFillID: fill.BrokerFillID,
			}))
		t.Untrack(fill.OrderID)
	} else {
		t.bus.Publish(events.NewEvent(events.EventTypeOrderPartiallyExecuted, "execution-tracker",
			events.OrderExecutedPayload{
				OrderID: fill.OrderID, Symbol: fill.Symbol, Side: fill.Side,
				Quantity: fill.Quantity, Price: fill.Price.String(), Commission: fill.Commission.String(),
				Timestamp: fill.Timestamp, BrokerFillID: fill.BrokerFillID,
			}))
	}
	return fullyFilled, false, nil
}

// Run starts the 60s stale-partial-fill sweeper; it exits when ctx is
// cancelled or Stop is called.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	defer close(t.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.sweepStalePartials()
		}
	}
}

// Stop signals the sweeper to exit and waits for it to do so.
func (t *Tracker) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

func (t *Tracker) sweepStalePartials() {
	now := time.Now()
	t.mu.Lock()
	var alerts []events.StalePartialFillAlertPayload
	for orderID, oe := range t.byOrder {
		if oe.filledQty == 0 || oe.filledQty >= oe.order.Quantity {
			continue
		}
		reference := oe.lastFillAt
		if reference.IsZero() {
			reference = oe.createdAt
		}
		if now.Sub(reference) > t.maxPartialFillTime {
			alerts = append(alerts, events.StalePartialFillAlertPayload{
				OrderID: orderID, Symbol: oe.order.Symbol,
				FilledQuantity: oe.filledQty, TotalQuantity: oe.order.Quantity,
				SinceLastFill: now.Sub(reference),
			})
		}
	}
	t.mu.Unlock()

	for _, alert := range alerts {
		t.logger.Warn().Str("order_id", alert.OrderID).Dur("since_last_fill", alert.SinceLastFill).
			Msg("execution tracker: stale partial fill")
		t.bus.Publish(events.NewEvent(events.EventTypeStalePartialFillAlert, "execution-tracker", alert))
	}
}
