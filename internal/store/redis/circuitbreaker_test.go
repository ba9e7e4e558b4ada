package redis

import (
	"errors"
	"testing"
	"time"
)

var errWrite = errors.New("write failed")

// breakerAt returns a breaker with a manually advanced clock.
func breakerAt(maxFailures int, resetTimeout time.Duration) (*CircuitBreaker, *time.Time) {
	clock := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(maxFailures, resetTimeout)
	cb.now = func() time.Time { return clock }
	return cb, &clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Execute(func() error { return errWrite })
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := breakerAt(3, time.Second)
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := breakerAt(3, time.Second)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errWrite }); !errors.Is(err, errWrite) {
			t.Fatalf("call %d: expected errWrite, got %v", i, err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", cb.CurrentState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while the breaker is open")
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb, clock := breakerAt(2, time.Second)
	trip(cb, 2)

	*clock = clock.Add(2 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe should run after the reset window, got %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed after successful probe, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb, clock := breakerAt(2, time.Second)
	trip(cb, 2)

	*clock = clock.Add(2 * time.Second)
	cb.Execute(func() error { return errWrite })

	if cb.CurrentState() != StateOpen {
		t.Errorf("expected open after failed probe, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := breakerAt(3, time.Second)

	trip(cb, 2)
	cb.Execute(func() error { return nil })
	trip(cb, 2)

	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, a success should reset the streak, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OnStateChangeSequence(t *testing.T) {
	cb, clock := breakerAt(1, time.Second)
	var seen []State
	cb.OnStateChange = func(_, to State) { seen = append(seen, to) }

	trip(cb, 1)
	*clock = clock.Add(2 * time.Second)
	cb.Execute(func() error { return nil })

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d: expected %v, got %v", i, want[i], seen[i])
		}
	}
}
