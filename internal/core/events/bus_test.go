package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCircuitBreaker_TripsOnConsecutiveFailures mirrors spec scenario
// S6: a handler that always fails for one event type must trip that
// type's breaker after MaxFailures consecutive failures, without
// affecting any other event type.
func TestCircuitBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BreakerMaxFailures = 3
	cfg.BreakerTimeout = time.Hour
	bus := NewEventBus(cfg, zerolog.Nop())

	var otherCalls int32
	bus.SubscribeHandler(EventTypeMarketDataReceived, nil, "failing", func(ctx context.Context, e Event) error {
		return errors.New("boom")
	})
	bus.SubscribeHandler(EventTypeHeartbeat, nil, "healthy", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&otherCalls, 1)
		return nil
	})

	accepted := 0
	for i := 0; i < 10; i++ {
		if bus.Publish(NewEvent(EventTypeMarketDataReceived, "feed", i)) {
			accepted++
		}
		waitForDrain(bus)
	}
	// After the breaker trips, further publishes of this type are
	// rejected outright.
	assert.Less(t, accepted, 10, "breaker must eventually reject publishes of the failing type")

	require.True(t, bus.Publish(NewEvent(EventTypeHeartbeat, "clock", nil)))
	waitForDrain(bus)
	assert.Equal(t, int32(1), atomic.LoadInt32(&otherCalls), "other event types must be unaffected by the tripped breaker")
}

// TestDispatch_OrderedWithinKey checks the per-(event_type,source)
// ordering guarantee: events published in sequence for the same key
// must be delivered to the handler in that same order.
func TestDispatch_OrderedWithinKey(t *testing.T) {
	bus := NewEventBus(DefaultConfig(), zerolog.Nop())

	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})
	var count int32

	bus.SubscribeHandler(EventTypeMarketDataReceived, nil, "ordered", func(ctx context.Context, e Event) error {
		mu.Lock()
		seen = append(seen, e.Data.(int))
		mu.Unlock()
		if atomic.AddInt32(&count, 1) == 50 {
			close(done)
		}
		return nil
	})

	for i := 0; i < 50; i++ {
		bus.Publish(NewEvent(EventTypeMarketDataReceived, "feed-A", i))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 50)
	for i, v := range seen {
		assert.Equal(t, i, v, "events from the same (type, source) must dispatch in publish order")
	}
}

func TestExpiredEvent_DroppedAndCounted(t *testing.T) {
	bus := NewEventBus(DefaultConfig(), zerolog.Nop())
	var called int32
	bus.SubscribeHandler(EventTypeHeartbeat, nil, "test", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&called, 1)
		return nil
	})

	e := NewEvent(EventTypeHeartbeat, "clock", nil, WithTTL(time.Nanosecond))
	time.Sleep(time.Millisecond)
	bus.Publish(e)
	waitForDrain(bus)

	assert.Equal(t, int32(0), atomic.LoadInt32(&called), "expired event must never reach the handler")
	metrics := bus.GetMetrics()[EventTypeHeartbeat]
	assert.Equal(t, int64(1), metrics.Expired)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	bus := NewEventBus(DefaultConfig(), zerolog.Nop())
	var called int32
	id := bus.SubscribeHandler(EventTypeHeartbeat, nil, "test", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&called, 1)
		return nil
	})

	require.True(t, bus.Unsubscribe(EventTypeHeartbeat, id))
	bus.Publish(NewEvent(EventTypeHeartbeat, "clock", nil))
	waitForDrain(bus)

	assert.Equal(t, int32(0), atomic.LoadInt32(&called))
}

func waitForDrain(bus *EventBus) {
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		bus.keyMu.Lock()
		anyBusy := false
		for _, kq := range bus.keyQueues {
			kq.mu.Lock()
			if kq.processing {
				anyBusy = true
			}
			kq.mu.Unlock()
			if anyBusy {
				break
			}
		}
		bus.keyMu.Unlock()
		if !anyBusy {
			time.Sleep(5 * time.Millisecond)
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
}
