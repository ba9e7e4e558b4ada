package ringbuf

import (
	"sync"
	"testing"
	"time"

	"divergence-systemv1/internal/model"
)

func TestRing_FIFOOrder(t *testing.T) {
	r := New(4)

	if !r.Push(model.Tick{Symbol: "NSE:NIFTY50-INDEX", Price: 24500.10}) {
		t.Fatal("first push should succeed")
	}
	if !r.Push(model.Tick{Symbol: "NSE:NIFTY24500CE", Price: 182.55}) {
		t.Fatal("second push should succeed")
	}
	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || got.Symbol != "NSE:NIFTY50-INDEX" {
		t.Fatalf("expected the spot tick first, got %q ok=%v", got.Symbol, ok)
	}
	got, ok = r.Pop()
	if !ok || got.Symbol != "NSE:NIFTY24500CE" {
		t.Fatalf("expected the option tick second, got %q ok=%v", got.Symbol, ok)
	}
	if _, ok = r.Pop(); ok {
		t.Fatal("pop from an empty ring should report false")
	}
}

func TestRing_RefusesWhenFull(t *testing.T) {
	r := New(2)
	r.Push(model.Tick{Symbol: "A", Price: 1})
	r.Push(model.Tick{Symbol: "B", Price: 2})

	if r.Push(model.Tick{Symbol: "C", Price: 3}) {
		t.Fatal("push to a full ring should be refused")
	}
	if r.Overflow() != 1 {
		t.Fatalf("expected overflow=1, got %d", r.Overflow())
	}

	// The refused tick must not clobber queued ones.
	got, _ := r.Pop()
	if got.Symbol != "A" {
		t.Fatalf("expected A at the head, got %q", got.Symbol)
	}
}

func TestRing_IndexWrap(t *testing.T) {
	r := New(4)

	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push(model.Tick{Symbol: "X", Price: float64(round*10 + i)}) {
				t.Fatalf("round %d push %d refused", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			tk, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d pop %d on empty ring", round, i)
			}
			if tk.Price != float64(round*10+i) {
				t.Fatalf("round %d pop %d: expected price=%d, got %v", round, i, round*10+i, tk.Price)
			}
		}
	}
}

func TestRing_ProducerConsumer(t *testing.T) {
	const count = 100_000
	r := New(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			for !r.Push(model.Tick{Price: float64(i)}) {
				// spin until the consumer frees a slot
			}
		}
	}()

	received := make([]float64, 0, count)
	go func() {
		defer wg.Done()
		for len(received) < count {
			if tk, ok := r.Pop(); ok {
				received = append(received, tk.Price)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("producer/consumer test timed out")
	}

	for i, v := range received {
		if v != float64(i) {
			t.Fatalf("at index %d: expected %d, got %v", i, i, v)
		}
	}
}

func TestRing_CapacityRounding(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 2}, {1, 2}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		if got := New(tc.in).Cap(); got != tc.want {
			t.Errorf("New(%d).Cap() = %d, want %d", tc.in, got, tc.want)
		}
	}
}
