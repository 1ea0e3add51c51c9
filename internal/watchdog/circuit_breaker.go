package watchdog

import (
	"sync"
	"time"
)

// CircuitState represents the state of the recovery circuit breaker
type CircuitState int

const (
	// StateClosed indicates recovery actions are allowed
	StateClosed CircuitState = iota
	// StateOpen indicates the recovery budget is exhausted
	StateOpen
	// StateHalfOpen indicates the budget window elapsed and one attempt may probe
	StateHalfOpen
)

// String returns the string representation of CircuitState
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker bounds how many recovery actions may run inside a window.
// Time is passed in by the caller so the watchdog loop stays deterministic
// under test.
type CircuitBreaker struct {
	actionThreshold int
	resetTimeout    time.Duration

	mu             sync.Mutex
	state          CircuitState
	actions        int
	lastActionTime time.Time
}

// NewCircuitBreaker creates a breaker allowing actionThreshold recovery
// actions before opening for resetTimeout
func NewCircuitBreaker(actionThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		actionThreshold: actionThreshold,
		resetTimeout:    resetTimeout,
		state:           StateClosed,
	}
}

// CanAttempt reports whether a recovery action is allowed at instant now
func (cb *CircuitBreaker) CanAttempt(now time.Time) bool {
	state := cb.State(now)
	return state == StateClosed || state == StateHalfOpen
}

// RecordAction counts a recovery action; crossing the threshold opens the circuit
func (cb *CircuitBreaker) RecordAction(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.actions++
	cb.lastActionTime = now

	if cb.actions >= cb.actionThreshold {
		cb.state = StateOpen
	}
}

// RecordHealthy resets the budget after the supervised player proves healthy
func (cb *CircuitBreaker) RecordHealthy() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.actions = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
	}
}

// State returns the current state, transitioning Open to HalfOpen once the
// reset timeout has elapsed
func (cb *CircuitBreaker) State(now time.Time) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && now.Sub(cb.lastActionTime) >= cb.resetTimeout {
		cb.state = StateHalfOpen
		cb.actions = 0
	}
	return cb.state
}

// Actions returns the current action count
func (cb *CircuitBreaker) Actions() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.actions
}

// Reset restores the breaker to its initial state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.actions = 0
	cb.lastActionTime = time.Time{}
}
