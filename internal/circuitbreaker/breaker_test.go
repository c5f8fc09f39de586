package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(maxFailures int, timeout time.Duration) *CircuitBreaker {
	return New(Config{MaxFailures: maxFailures, Timeout: timeout, MaxRequests: 1, Logger: zerolog.Nop()})
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Hour)

	for i := 0; i < 2; i++ {
		require.True(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, StateClosed, cb.State())

	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow(), "OPEN breaker must reject calls before the timeout elapses")
}

func TestCircuitBreaker_HalfOpenClosesOnProbeSuccess(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.True(t, cb.Allow(), "timeout elapsed, breaker must admit a HALF_OPEN probe")
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenReopensOnProbeFailure(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	require.True(t, cb.Allow())
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	require.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Hour)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State(), "a success must reset the consecutive failure streak")
}

func TestExecute_WrapsAllowAndRecord(t *testing.T) {
	cb := newTestBreaker(1, time.Hour)
	err := cb.Execute(func() error { return errors.New("boom") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())

	err = cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestManager_GetOrCreateReturnsSameInstance(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	a := mgr.GetOrCreate("orders", Config{MaxFailures: 5, Timeout: time.Second, MaxRequests: 1})
	b := mgr.GetOrCreate("orders", Config{MaxFailures: 1, Timeout: time.Millisecond, MaxRequests: 1})
	assert.Same(t, a, b, "GetOrCreate must not replace an existing breaker's config")
}
