package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Execute when the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config parameterizes a CircuitBreaker.
type Config struct {
	Name string
	// MaxFailures is the number of consecutive failures that trips the
	// breaker from CLOSED to OPEN.
	MaxFailures int
	// Timeout is how long the breaker stays OPEN before admitting a
	// HALF_OPEN probe.
	Timeout time.Duration
	// MaxRequests is how many probe requests are allowed through while
	// HALF_OPEN before the breaker decides whether to close or reopen.
	MaxRequests int
	Logger      zerolog.Logger
}

// CircuitBreaker halts calls to a failing dependency. CLOSED admits all
// calls; MaxFailures consecutive failures trip it to OPEN, which
// rejects calls until Timeout elapses; it then becomes HALF_OPEN and
// admits up to MaxRequests probes, closing again once MaxRequests of
// them have succeeded or reopening on the first failure.
type CircuitBreaker struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	consecutiveFailures int
	halfOpenRequests    int
	halfOpenSuccesses   int
	openedAt            time.Time

	totalSuccesses int64
	totalFailures  int64
	totalRejected  int64
	totalTrips     int64
}

// New constructs a CircuitBreaker in the CLOSED state.
func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 1
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a call may proceed, transitioning OPEN to
// HALF_OPEN when the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.allowLocked()
}

func (cb *CircuitBreaker) allowLocked() bool {
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.cfg.Timeout {
			cb.transitionLocked(StateHalfOpen)
			cb.halfOpenRequests = 1
			return true
		}
		cb.totalRejected++
		return false
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.cfg.MaxRequests {
			cb.totalRejected++
			return false
		}
		cb.halfOpenRequests++
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.MaxRequests {
			cb.transitionLocked(StateClosed)
		}
	}
}

// RecordFailure reports a failed call outcome.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.cfg.MaxFailures {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
		cb.totalTrips++
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses = 0
	}
	cb.cfg.Logger.Info().
		Str("breaker", cb.cfg.Name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit breaker state transition")
}

// Execute runs fn if the breaker admits the call, recording the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics is a point-in-time snapshot of a breaker's counters.
type Metrics struct {
	Name            string
	State           string
	TotalSuccesses  int64
	TotalFailures   int64
	TotalRejected   int64
	TotalTrips      int64
	ConsecutiveFail int
}

// GetMetrics returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) GetMetrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Metrics{
		Name:            cb.cfg.Name,
		State:           cb.state.String(),
		TotalSuccesses:  cb.totalSuccesses,
		TotalFailures:   cb.totalFailures,
		TotalRejected:   cb.totalRejected,
		TotalTrips:      cb.totalTrips,
		ConsecutiveFail: cb.consecutiveFailures,
	}
}
