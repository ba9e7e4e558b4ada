// Package ringbuf is the hand-off point between the network feed and the
// strategy loop: a lock-free single-producer single-consumer ring of ticks.
// The producer never blocks; when the consumer falls behind, ticks are
// refused and counted rather than queued without bound.
package ringbuf

import (
	"sync/atomic"

	"divergence-systemv1/internal/model"
)

// pad keeps the producer and consumer counters on separate cache lines.
type pad [64]byte

// Ring is an SPSC tick ring. Exactly one goroutine may call Push and exactly
// one may call Pop; the capacity is a power of two so index wrapping is a
// mask.
type Ring struct {
	slots []model.Tick
	mask  uint64

	_       pad
	writes  atomic.Uint64 // advanced by the producer
	_       pad
	reads   atomic.Uint64 // advanced by the consumer
	_       pad
	refused atomic.Uint64
}

// New creates a Ring holding at least capacity ticks (rounded up to a power
// of two, minimum 2).
func New(capacity int) *Ring {
	n := 2
	for n < capacity {
		n <<= 1
	}
	return &Ring{
		slots: make([]model.Tick, n),
		mask:  uint64(n - 1),
	}
}

// Push offers a tick. A full ring refuses it, bumps the overflow counter and
// returns false; the tick is never partially written.
func (r *Ring) Push(t model.Tick) bool {
	w := r.writes.Load()
	if w-r.reads.Load() >= uint64(len(r.slots)) {
		r.refused.Add(1)
		return false
	}
	r.slots[w&r.mask] = t
	r.writes.Store(w + 1)
	return true
}

// Pop takes the oldest tick, reporting false on an empty ring.
func (r *Ring) Pop() (model.Tick, bool) {
	rd := r.reads.Load()
	if rd >= r.writes.Load() {
		return model.Tick{}, false
	}
	t := r.slots[rd&r.mask]
	r.reads.Store(rd + 1)
	return t, true
}

// Len is the number of ticks currently queued.
func (r *Ring) Len() int { return int(r.writes.Load() - r.reads.Load()) }

// Cap is the ring capacity after rounding.
func (r *Ring) Cap() int { return len(r.slots) }

// Overflow is the total number of ticks refused on a full ring.
func (r *Ring) Overflow() uint64 { return r.refused.Load() }
