// Package orderqueue implements the Order Queue: a durable priority
// heap of pending orders with expiry and duplicate suppression. The
// queue mirrors itself into the same state.Store the rest of the
// engine shares, under pending:*/processing:* keys, so a restart can
// rebuild queue state without replaying every order event.
package orderqueue

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/state"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// Config holds the Order Queue's tunables.
type Config struct {
	MaxQueueSize        int
	MaxConcurrentOrders int
	PriorityTimeout      time.Duration
	StrategyPriorities   map[string]int // strategy name -> priority adjustment
	MarketCloseHour      int
	MarketCloseMinute    int
}

// DefaultConfig mirrors the Python original's defaults: 1000-order
// queue, 10 concurrent workers, a 5-minute priority timeout.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:        1000,
		MaxConcurrentOrders: 10,
		PriorityTimeout:     5 * time.Minute,
		StrategyPriorities:  map[string]int{},
		MarketCloseHour:     15,
		MarketCloseMinute:   30,
	}
}

// entry wraps an Order with its computed dispatch priority and
// enqueue time, the unit pushed onto the heap. Lower priority number
// and earlier enqueue time sort first.
type entry struct {
	priority  int
	enqueued  time.Time
	order     types.Order
	processing bool
	index     int // maintained by container/heap
}

type priorityHeap []*entry

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].enqueued.Before(h[j].enqueued)
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Status summarizes the queue's current occupancy, for the control
// plane and health checks.
type Status struct {
	Pending    int
	Processing int
	MaxSize    int
}

// Queue is the Order Queue: an in-memory priority heap mirrored
// to a state.Store so it can be reconstructed after a restart.
type Queue struct {
	cfg    Config
	store  state.Store
	logger zerolog.Logger

	mu         sync.Mutex
	heap       priorityHeap
	orderIDs   map[string]bool
	byID       map[string]*entry
	processing map[string]types.Order
}

const (
	pendingKeyPrefix    = "pending:"
	processingKeyPrefix = "processing:"
)

// New constructs an Order Queue. Call Restore once at startup to
// reload any orders mirrored before a restart.
func New(cfg Config, store state.Store, logger zerolog.Logger) *Queue {
	q := &Queue{
		cfg: cfg, store: store, logger: logger,
		orderIDs:   make(map[string]bool),
		byID:       make(map[string]*entry),
		processing: make(map[string]types.Order),
	}
	heap.Init(&q.heap)
	return q
}

// Restore reloads the pending and processing mirrors from the state
// store, discarding any entry that has already expired per
// PriorityTimeout. Mirrors the Python original's
// _load_pending_orders_from_redis / _load_processing_orders_from_redis.
func (q *Queue) Restore(ctx context.Context) error {
	now := time.Now()

	pendingKeys, err := q.store.ScanPrefix(ctx, pendingKeyPrefix)
	if err != nil {
		return fmt.Errorf("orderqueue: restore pending: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, key := range pendingKeys {
		raw, err := q.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var order types.Order
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			q.logger.Warn().Err(err).Str("key", key).Msg("orderqueue: dropping unparseable pending mirror entry")
			continue
		}
		if now.Sub(order.CreatedAt) > q.cfg.PriorityTimeout {
			_ = q.store.Delete(ctx, key)
			continue
		}
		e := &entry{priority: order.Priority, enqueued: order.CreatedAt, order: order}
		heap.Push(&q.heap, e)
		q.orderIDs[order.OrderID] = true
		q.byID[order.OrderID] = e
	}

	processingKeys, err := q.store.ScanPrefix(ctx, processingKeyPrefix)
	if err != nil {
		return fmt.Errorf("orderqueue: restore processing: %w", err)
	}
	for _, key := range processingKeys {
		raw, err := q.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var order types.Order
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			continue
		}
		q.processing[order.OrderID] = order
		q.orderIDs[order.OrderID] = true
	}

	q.logger.Info().Int("pending", len(q.heap)).Int("processing", len(q.processing)).
		Msg("orderqueue: restored from state store")
	return nil
}

// AddOrder computes the order's dispatch priority and pushes it onto
// the heap. Rejects duplicate order_ids and enforces MaxQueueSize.
func (q *Queue) AddOrder(ctx context.Context, order types.Order) (bool, error) {
	q.mu.Lock()
	if q.orderIDs[order.OrderID] {
		q.mu.Unlock()
		q.logger.Warn().Str("order_id", order.OrderID).Msg("orderqueue: duplicate order id rejected")
		return false, nil
	}
	if len(q.heap) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		q.logger.Warn().Int("size", len(q.heap)).Int("max", q.cfg.MaxQueueSize).
			Msg("orderqueue: queue full, order rejected")
		return false, nil
	}

	order.Priority = q.calculatePriority(order)
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	e := &entry{priority: order.Priority, enqueued: order.CreatedAt, order: order}
	heap.Push(&q.heap, e)
	q.orderIDs[order.OrderID] = true
	q.byID[order.OrderID] = e
	q.mu.Unlock()

	if err := q.mirrorPending(ctx, order); err != nil {
		q.logger.Warn().Err(err).Str("order_id", order.OrderID).Msg("orderqueue: failed to mirror pending order")
	}
	q.logger.Info().Str("order_id", order.OrderID).Int("priority", order.Priority).
		Msg("orderqueue: order added")
	return true, nil
}

// GetNextOrder pops the lowest-(priority, enqueue_time) non-expired
// order, moving it into the processing set. Expired entries (DAY
// orders past local market close, or any order past PriorityTimeout)
// are evicted and removed from the mirror as they're encountered.
func (q *Queue) GetNextOrder(ctx context.Context) (types.Order, bool) {
	now := time.Now()
	for {
		q.mu.Lock()
		if len(q.heap) == 0 {
			q.mu.Unlock()
			return types.Order{}, false
		}
		e := heap.Pop(&q.heap).(*entry)
		delete(q.byID, e.order.OrderID)

		if q.isExpired(e.order, now) {
			delete(q.orderIDs, e.order.OrderID)
			q.mu.Unlock()
			_ = q.store.Delete(ctx, pendingKeyPrefix+e.order.OrderID)
			q.logger.Info().Str("order_id", e.order.OrderID).Msg("orderqueue: evicted expired order")
			continue
		}

		q.processing[e.order.OrderID] = e.order
		q.mu.Unlock()

		_ = q.store.Delete(ctx, pendingKeyPrefix+e.order.OrderID)
		if err := q.mirrorProcessing(ctx, e.order); err != nil {
			q.logger.Warn().Err(err).Str("order_id", e.order.OrderID).Msg("orderqueue: failed to mirror processing order")
		}
		return e.order, true
	}
}

func (q *Queue) isExpired(order types.Order, now time.Time) bool {
	if now.Sub(order.CreatedAt) > q.cfg.PriorityTimeout {
		return true
	}
	if order.TimeInForce == types.TimeInForceDay {
		close := time.Date(now.Year(), now.Month(), now.Day(), q.cfg.MarketCloseHour, q.cfg.MarketCloseMinute, 0, 0, now.Location())
		if now.After(close) {
			return true
		}
	}
	return false
}

// RemoveOrder drops an order from the queue or the processing set
// (e.g. after a terminal fill or cancellation) and clears its mirror.
func (q *Queue) RemoveOrder(ctx context.Context, orderID string) bool {
	q.mu.Lock()
	removed := false
	if e, ok := q.byID[orderID]; ok {
		heap.Remove(&q.heap, e.index)
		delete(q.byID, orderID)
		removed = true
	}
	if _, ok := q.processing[orderID]; ok {
		delete(q.processing, orderID)
		removed = true
	}
	delete(q.orderIDs, orderID)
	q.mu.Unlock()

	if removed {
		_ = q.store.Delete(ctx, pendingKeyPrefix+orderID)
		_ = q.store.Delete(ctx, processingKeyPrefix+orderID)
	}
	return removed
}

// GetPendingOrders returns a snapshot of every order still in the heap.
func (q *Queue) GetPendingOrders() []types.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.Order, 0, len(q.heap))
	for _, e := range q.heap {
		out = append(out, e.order)
	}
	return out
}

// GetProcessingOrders returns a snapshot of every order currently
// dispatched to a worker.
func (q *Queue) GetProcessingOrders() []types.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.Order, 0, len(q.processing))
	for _, o := range q.processing {
		out = append(out, o)
	}
	return out
}

// GetQueueStatus reports current occupancy.
func (q *Queue) GetQueueStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{Pending: len(q.heap), Processing: len(q.processing), MaxSize: q.cfg.MaxQueueSize}
}

// calculatePriority mirrors the Python original's _calculate_priority:
// base 100, MARKET -20 / STOP -10, SELL -5, a per-strategy adjustment,
// and metadata.priority_adjustment, clamped to a minimum of 1.
func (q *Queue) calculatePriority(order types.Order) int {
	priority := 100

	switch order.OrderType {
	case types.OrderTypeMarket:
		priority -= 20
	case types.OrderTypeStop, types.OrderTypeStopLimit:
		priority -= 10
	}

	if order.Side == types.OrderSideSell {
		priority -= 5
	}

	if adj, ok := q.cfg.StrategyPriorities[order.StrategyName]; ok {
		priority += adj
	}

	if order.Metadata != nil {
		if raw, ok := order.Metadata["priority_adjustment"]; ok {
			if adj, ok := asInt(raw); ok {
				priority += adj
			}
		}
	}

	if priority < 1 {
		priority = 1
	}
	return priority
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (q *Queue) mirrorPending(ctx context.Context, order types.Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return q.store.Put(ctx, pendingKeyPrefix+order.OrderID, string(raw))
}

func (q *Queue) mirrorProcessing(ctx context.Context, order types.Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return q.store.Put(ctx, processingKeyPrefix+order.OrderID, string(raw))
}
