package redis

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's position. The numeric values feed a gauge:
// 0 closed, 1 open, 2 half-open.
type State int

const (
	StateClosed   State = 0
	StateOpen     State = 1
	StateHalfOpen State = 2
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker guards the Redis writer. maxFailures consecutive errors trip
// it open; after resetTimeout one probe call is let through half-open, and
// its outcome decides between closing and re-opening.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time // injectable for tests

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time

	// OnStateChange observes transitions, e.g. to update a metrics gauge.
	OnStateChange func(from, to State)
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open and inside its reset window, in
// which case it returns ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

// CurrentState reports the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// admit decides whether the next call may proceed, moving an expired open
// breaker to half-open.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) <= cb.resetTimeout {
		return false
	}
	cb.shift(StateHalfOpen)
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == StateHalfOpen {
			cb.shift(StateClosed)
		}
		cb.failures = 0
		return
	}

	cb.failures++
	cb.openedAt = cb.now()
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.shift(StateOpen)
	}
}

func (cb *CircuitBreaker) shift(to State) {
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
