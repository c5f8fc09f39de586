package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/circuitbreaker"
)

// Filter narrows a subscription to a conjunction of optional clauses.
type Filter struct {
	Sources     []string
	MinPriority Priority
}

func (f *Filter) match(e Event) bool {
	if f == nil {
		return true
	}
	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if s == e.Source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return e.Priority >= f.MinPriority
}

// Handler processes one event. Handlers must be idempotent on EventID:
// the bus guarantees at-least-once delivery, never exactly-once.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id            string
	eventType     EventType
	filter        *Filter
	handler       Handler
	ch            chan Event
	componentName string
	createdAt     time.Time
}

// Config parameterizes an EventBus.
type Config struct {
	BufferSize           int
	MaxWorkers           int
	BatchSize            int
	BatchTimeout         time.Duration
	EnableCircuitBreaker bool
	EnableDeadLetter     bool
	DeadLetterCapacity   int
	BreakerMaxFailures   int
	BreakerTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:           256,
		MaxWorkers:           10,
		BatchSize:            50,
		BatchTimeout:         100 * time.Millisecond,
		EnableCircuitBreaker: true,
		EnableDeadLetter:     true,
		DeadLetterCapacity:   1000,
		BreakerMaxFailures:   5,
		BreakerTimeout:       30 * time.Second,
	}
}

// DeadLetterEntry records an event that every matching handler failed to process.
type DeadLetterEntry struct {
	Event Event
	Err   string
	At    time.Time
}

// Metrics is the monotonic counter set for one event type.
type Metrics struct {
	Published int64
	Received  int64
	Processed int64
	Failed    int64
	Expired   int64
}

// SuccessRate returns processed / (processed + failed), or 1.0 with no data.
func (m Metrics) SuccessRate() float64 {
	denom := m.Processed + m.Failed
	if denom == 0 {
		return 1.0
	}
	return float64(m.Processed) / float64(denom)
}

// keyQueue serializes dispatch for one (event_type, source) pair so
// that delivery order within the pair matches publish order, while
// still allowing different pairs to run concurrently on the worker pool.
type keyQueue struct {
	mu         sync.Mutex
	queue      []Event
	processing bool
}

// EventBus is a typed pub/sub bus with per-key ordering, a bounded
// worker pool, a per-event-type circuit breaker, and a dead-letter
// bucket for events no handler could process.
type EventBus struct {
	cfg    Config
	logger zerolog.Logger

	mu   sync.RWMutex
	subs map[EventType][]*subscription

	keyMu      sync.Mutex
	keyQueues  map[string]*keyQueue

	sem chan struct{}
	wg  sync.WaitGroup

	breakerMgr *circuitbreaker.Manager

	metricsMu sync.Mutex
	metrics   map[EventType]*Metrics

	deadLetterMu sync.Mutex
	deadLetter   []DeadLetterEntry

	stopped bool
	stopMu  sync.RWMutex
}

// NewEventBus constructs a bus ready to publish and subscribe.
func NewEventBus(cfg Config, logger zerolog.Logger) *EventBus {
	return &EventBus{
		cfg:        cfg,
		logger:     logger,
		subs:       make(map[EventType][]*subscription),
		keyQueues:  make(map[string]*keyQueue),
		sem:        make(chan struct{}, cfg.MaxWorkers),
		breakerMgr: circuitbreaker.NewManager(logger),
		metrics:    make(map[EventType]*Metrics),
	}
}

// Subscribe registers a channel-based subscriber, the consumption
// style of long-lived loops that select over their own channel
// (main.go's position mirror and performance recorder, the metrics
// wiring).
func (eb *EventBus) Subscribe(eventType EventType, filter *Filter, componentName string) (string, <-chan Event) {
	sub := &subscription{
		id:            uuid.NewString(),
		eventType:     eventType,
		filter:        filter,
		ch:            make(chan Event, eb.cfg.BufferSize),
		componentName: componentName,
		createdAt:     time.Now(),
	}
	eb.addSub(sub)
	return sub.id, sub.ch
}

// SubscribeHandler registers a handler-based subscriber, used by
// components that react to events without owning a select loop (the
// strategy engine, the order engine).
func (eb *EventBus) SubscribeHandler(eventType EventType, filter *Filter, componentName string, handler Handler) string {
	sub := &subscription{
		id:            uuid.NewString(),
		eventType:     eventType,
		filter:        filter,
		handler:       handler,
		componentName: componentName,
		createdAt:     time.Now(),
	}
	eb.addSub(sub)
	return sub.id
}

func (eb *EventBus) addSub(sub *subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subs[sub.eventType] = append(eb.subs[sub.eventType], sub)
	eb.logger.Info().
		Str("event_type", string(sub.eventType)).
		Str("component", sub.componentName).
		Str("subscription_id", sub.id).
		Msg("subscriber registered")
}

// Unsubscribe removes a subscription by id.
func (eb *EventBus) Unsubscribe(eventType EventType, subscriptionID string) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subs[eventType]
	for i, s := range subs {
		if s.id == subscriptionID {
			eb.subs[eventType] = append(subs[:i], subs[i+1:]...)
			if s.ch != nil {
				close(s.ch)
			}
			return true
		}
	}
	return false
}

// Publish enqueues event for delivery. It returns false only when the
// bus is stopped or the circuit breaker for event.EventType is open.
func (eb *EventBus) Publish(event Event) bool {
	eb.stopMu.RLock()
	stopped := eb.stopped
	eb.stopMu.RUnlock()
	if stopped {
		return false
	}

	if eb.cfg.EnableCircuitBreaker {
		br := eb.breakerFor(event.EventType)
		if !br.Allow() {
			eb.recordFailed(event.EventType)
			return false
		}
	}

	eb.recordPublished(event.EventType)

	key := string(event.EventType) + "|" + event.Source
	eb.keyMu.Lock()
	kq, ok := eb.keyQueues[key]
	if !ok {
		kq = &keyQueue{}
		eb.keyQueues[key] = kq
	}
	eb.keyMu.Unlock()

	kq.mu.Lock()
	// Backpressure: past the high-water mark, LOW-priority events are
	// shed first rather than growing the backlog, counted as expired.
	if event.Priority == PriorityLow && eb.cfg.BufferSize > 0 && len(kq.queue) >= eb.cfg.BufferSize {
		kq.mu.Unlock()
		eb.recordExpired(event.EventType)
		return true
	}
	kq.queue = append(kq.queue, event)
	start := !kq.processing
	if start {
		kq.processing = true
	}
	kq.mu.Unlock()

	if start {
		eb.wg.Add(1)
		go eb.drainKey(key, kq)
	}
	return true
}

// drainKey pulls queued events for one (event_type, source) key and
// hands them to dispatch. Whatever has accumulated on the queue since
// the last drain (bounded by BatchSize) is pulled off together as one
// batch, but each event is still dispatched to handlers one at a
// time; batching only amortizes the queue-lock overhead of the drain
// loop (the worker semaphore is still taken per event), it never
// delays a lone event waiting for company.
func (eb *EventBus) drainKey(key string, kq *keyQueue) {
	defer eb.wg.Done()
	batchSize := eb.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	for {
		kq.mu.Lock()
		if len(kq.queue) == 0 {
			kq.processing = false
			kq.mu.Unlock()
			return
		}
		n := len(kq.queue)
		if n > batchSize {
			n = batchSize
		}
		batch := append([]Event(nil), kq.queue[:n]...)
		kq.queue = kq.queue[n:]
		kq.mu.Unlock()

		for _, event := range batch {
			eb.sem <- struct{}{}
			eb.dispatch(event)
			<-eb.sem
		}
	}
}

func (eb *EventBus) dispatch(event Event) {
	eb.recordReceived(event.EventType)

	if event.Expired(time.Now()) {
		eb.recordExpired(event.EventType)
		return
	}

	eb.mu.RLock()
	subs := append([]*subscription(nil), eb.subs[event.EventType]...)
	eb.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	anySucceeded, anyFailed := false, false
	var lastErr error

	for _, sub := range subs {
		if !sub.filter.match(event) {
			continue
		}
		if sub.ch != nil {
			select {
			case sub.ch <- event:
			default:
				eb.logger.Warn().
					Str("event_type", string(event.EventType)).
					Str("component", sub.componentName).
					Msg("subscriber channel full, event dropped")
			}
			continue
		}
		if sub.handler == nil {
			continue
		}
		if err := eb.invoke(sub, event); err != nil {
			anyFailed = true
			lastErr = err
		} else {
			anySucceeded = true
		}
	}

	if eb.cfg.EnableCircuitBreaker {
		br := eb.breakerFor(event.EventType)
		switch {
		case anyFailed:
			br.RecordFailure()
		case anySucceeded:
			br.RecordSuccess()
		}
	}

	if anyFailed {
		eb.recordFailed(event.EventType)
		if eb.cfg.EnableDeadLetter && !anySucceeded {
			eb.addDeadLetter(event, lastErr)
		}
		if event.EventType != EventTypeSystemError && lastErr != nil {
			eb.Publish(NewEvent(EventTypeSystemError, "event-bus",
				SystemErrorPayload{Component: "event-bus", Err: lastErr.Error()}))
		}
	}
	if anySucceeded {
		eb.recordProcessed(event.EventType)
	}
}

// invoke calls a handler with panic recovery so a crashing handler
// never takes down the dispatch worker.
func (eb *EventBus) invoke(sub *subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic in %s: %v", sub.componentName, r)
			eb.logger.Error().
				Str("component", sub.componentName).
				Str("event_type", string(event.EventType)).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sub.handler(ctx, event)
}

func (eb *EventBus) addDeadLetter(event Event, err error) {
	eb.deadLetterMu.Lock()
	defer eb.deadLetterMu.Unlock()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	eb.deadLetter = append(eb.deadLetter, DeadLetterEntry{Event: event, Err: msg, At: time.Now()})
	if cap := eb.cfg.DeadLetterCapacity; cap > 0 && len(eb.deadLetter) > cap {
		eb.deadLetter = eb.deadLetter[len(eb.deadLetter)-cap:]
	}
}

// DeadLetters returns a snapshot of the dead-letter bucket.
func (eb *EventBus) DeadLetters() []DeadLetterEntry {
	eb.deadLetterMu.Lock()
	defer eb.deadLetterMu.Unlock()
	out := make([]DeadLetterEntry, len(eb.deadLetter))
	copy(out, eb.deadLetter)
	return out
}

func (eb *EventBus) breakerFor(eventType EventType) *circuitbreaker.CircuitBreaker {
	return eb.breakerMgr.GetOrCreate(string(eventType), circuitbreaker.Config{
		MaxFailures: eb.cfg.BreakerMaxFailures,
		Timeout:     eb.cfg.BreakerTimeout,
		MaxRequests: 1,
	})
}

// metricsFor requires metricsMu to be held.
func (eb *EventBus) metricsFor(eventType EventType) *Metrics {
	m, ok := eb.metrics[eventType]
	if !ok {
		m = &Metrics{}
		eb.metrics[eventType] = m
	}
	return m
}

func (eb *EventBus) record(t EventType, bump func(*Metrics)) {
	eb.metricsMu.Lock()
	bump(eb.metricsFor(t))
	eb.metricsMu.Unlock()
}

func (eb *EventBus) recordPublished(t EventType) { eb.record(t, func(m *Metrics) { m.Published++ }) }
func (eb *EventBus) recordReceived(t EventType)  { eb.record(t, func(m *Metrics) { m.Received++ }) }
func (eb *EventBus) recordProcessed(t EventType) { eb.record(t, func(m *Metrics) { m.Processed++ }) }
func (eb *EventBus) recordFailed(t EventType)    { eb.record(t, func(m *Metrics) { m.Failed++ }) }
func (eb *EventBus) recordExpired(t EventType)   { eb.record(t, func(m *Metrics) { m.Expired++ }) }

// GetMetrics returns a snapshot of per-event-type counters.
func (eb *EventBus) GetMetrics() map[EventType]Metrics {
	eb.metricsMu.Lock()
	defer eb.metricsMu.Unlock()
	out := make(map[EventType]Metrics, len(eb.metrics))
	for t, m := range eb.metrics {
		out[t] = *m
	}
	return out
}

// HealthCheck reports whether the bus is accepting publishes.
func (eb *EventBus) HealthCheck() bool {
	eb.stopMu.RLock()
	defer eb.stopMu.RUnlock()
	return !eb.stopped
}

// SubscriptionStats returns the subscriber count per event type.
func (eb *EventBus) SubscriptionStats() map[EventType]int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	out := make(map[EventType]int, len(eb.subs))
	for t, subs := range eb.subs {
		out[t] = len(subs)
	}
	return out
}

// Close drains in-flight dispatches and closes all subscriber channels.
func (eb *EventBus) Close() {
	eb.stopMu.Lock()
	eb.stopped = true
	eb.stopMu.Unlock()

	eb.wg.Wait()

	eb.mu.Lock()
	defer eb.mu.Unlock()
	for _, subs := range eb.subs {
		for _, s := range subs {
			if s.ch != nil {
				close(s.ch)
			}
		}
	}
	eb.subs = make(map[EventType][]*subscription)
}
