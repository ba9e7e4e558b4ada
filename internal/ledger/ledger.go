// Package ledger tracks running capital and daily PnL across sessions.
//
// Running capital is the cumulative account value; daily PnL resets each
// session. Capital survives restarts through a pluggable Store.
package ledger

import (
	"fmt"
	"log"
	"time"
)

// Store persists the running capital between process restarts.
type Store interface {
	// LoadCapital returns the persisted running capital. ok is false when
	// no state has ever been saved.
	LoadCapital() (capital float64, ok bool, err error)

	// SaveCapital persists the running capital with its update time.
	SaveCapital(capital float64, at time.Time) error
}

// Ledger tracks base capital, running capital and the current session's PnL.
// Not safe for concurrent use; owned by the session loop.
type Ledger struct {
	base     float64
	running  float64
	dailyPnL float64
	store    Store
}

// New creates a Ledger starting at base capital. store may be nil for
// ephemeral use (backtests).
func New(base float64, store Store) *Ledger {
	return &Ledger{base: base, running: base, store: store}
}

// Load restores the running capital from the store. Missing state falls back
// to the base capital; daily PnL always starts at zero.
func (l *Ledger) Load() error {
	if l.store == nil {
		return nil
	}
	capital, ok, err := l.store.LoadCapital()
	if err != nil {
		return fmt.Errorf("load capital state: %w", err)
	}
	if !ok {
		log.Printf("[ledger] no capital state found, starting with %.2f", l.base)
		return nil
	}
	l.running = capital
	log.Printf("[ledger] loaded capital state: %.2f", capital)
	return nil
}

// Save persists the running capital.
func (l *Ledger) Save(at time.Time) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.SaveCapital(l.running, at); err != nil {
		return fmt.Errorf("save capital state: %w", err)
	}
	log.Printf("[ledger] capital state saved: %.2f", l.running)
	return nil
}

// ApplyPnL books a closed trade's PnL into the running capital and the
// session's daily total.
func (l *Ledger) ApplyPnL(pnl float64) {
	l.dailyPnL += pnl
	l.running += pnl
}

// ResetDaily zeroes the daily PnL for a new session. Running capital carries
// over.
func (l *Ledger) ResetDaily() {
	l.dailyPnL = 0
}

// Base returns the initial capital.
func (l *Ledger) Base() float64 { return l.base }

// Running returns the current running capital.
func (l *Ledger) Running() float64 { return l.running }

// DailyPnL returns the session's realized PnL so far.
func (l *Ledger) DailyPnL() float64 { return l.dailyPnL }
