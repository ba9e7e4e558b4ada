package strategy

import (
	"log"
	"time"

	"divergence-systemv1/internal/model"
)

// PendingBook holds at most one live pending signal per symbol and resolves
// them against the tick stream. Not safe for concurrent use; owned by the
// session loop.
type PendingBook struct {
	signals map[string]*model.PendingSignal

	// OnTrigger fires when price breaks the signal high. The signal has
	// already been removed from the book when the hook runs.
	OnTrigger func(sig *model.PendingSignal, price float64, ts time.Time)

	// OnInvalidated fires when price breaks the signal low. Optional.
	OnInvalidated func(sig *model.PendingSignal)
}

// NewPendingBook creates an empty pending-signal book.
func NewPendingBook() *PendingBook {
	return &PendingBook{signals: make(map[string]*model.PendingSignal)}
}

// Arm stores a pending signal, overwriting any earlier one for the symbol.
// The newest signal candle always defines the live breakout levels.
func (b *PendingBook) Arm(sig *model.PendingSignal) {
	if prev, ok := b.signals[sig.Symbol]; ok {
		log.Printf("[strategy] pending signal for %s replaced (old high=%.2f, new high=%.2f)",
			sig.Symbol, prev.TriggerHigh, sig.TriggerHigh)
	}
	b.signals[sig.Symbol] = sig
}

// OnTick resolves the symbol's pending signal, if any. Invalidation is checked
// before the trigger, so a tick below the low always kills the signal even if
// a later tick would have crossed the high.
func (b *PendingBook) OnTick(symbol string, price float64, ts time.Time) {
	sig, ok := b.signals[symbol]
	if !ok {
		return
	}

	if price < sig.InvalidationLow {
		log.Printf("[strategy] signal invalidated for %s: price %.2f broke low %.2f",
			symbol, price, sig.InvalidationLow)
		delete(b.signals, symbol)
		if b.OnInvalidated != nil {
			b.OnInvalidated(sig)
		}
		return
	}

	if price > sig.TriggerHigh {
		log.Printf("[strategy] signal triggered for %s: price %.2f broke high %.2f",
			symbol, price, sig.TriggerHigh)
		delete(b.signals, symbol)
		if b.OnTrigger != nil {
			b.OnTrigger(sig, price, ts)
		}
	}
}

// Get returns the live pending signal for symbol, if any.
func (b *PendingBook) Get(symbol string) (*model.PendingSignal, bool) {
	sig, ok := b.signals[symbol]
	return sig, ok
}

// Len returns the number of live pending signals.
func (b *PendingBook) Len() int { return len(b.signals) }

// Clear drops all pending signals. Stale signals never survive into a new
// session.
func (b *PendingBook) Clear() {
	b.signals = make(map[string]*model.PendingSignal)
}
