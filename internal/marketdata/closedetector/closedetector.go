// Package closedetector decides when the live feed can be dropped after the
// session close. The exchange keeps publishing settlement ticks for a short
// while after 15:30; the detector watches the spot price and reports done
// once it has stopped moving, capturing that level as the closing price.
package closedetector

import (
	"log"
	"time"
)

// Detector tracks post-close price movement for one symbol.
type Detector struct {
	closeTime time.Time

	last        float64
	unchangedAt time.Time // start of the current unchanged run, zero if moving
	settled     bool

	// StableFor is how long the price must hold before it counts as the
	// close. Default 30 seconds.
	StableFor time.Duration

	// MaxGrace bounds the wait: past closeTime + MaxGrace the feed is
	// dropped whether or not the price settled. Default 5 minutes.
	MaxGrace time.Duration
}

// New creates a Detector for a session closing at closeTime.
func New(closeTime time.Time) *Detector {
	return &Detector{
		closeTime: closeTime,
		StableFor: 30 * time.Second,
		MaxGrace:  5 * time.Minute,
	}
}

// IsPostClose reports whether now is past the session close.
func (d *Detector) IsPostClose(now time.Time) bool {
	return now.After(d.closeTime)
}

// Observe feeds one tick. It returns true when the feed should be dropped:
// either the price held for StableFor after the close, or the MaxGrace
// deadline passed. Before the close it only tracks the latest price.
func (d *Detector) Observe(price float64, now time.Time) bool {
	if d.settled {
		return true
	}

	if now.After(d.closeTime.Add(d.MaxGrace)) {
		d.settled = true
		d.last = price
		log.Printf("[closedetector] grace window %v expired, dropping feed at %.2f", d.MaxGrace, d.last)
		return true
	}

	if !d.IsPostClose(now) {
		d.last = price
		return false
	}

	if price != d.last {
		d.last = price
		d.unchangedAt = now
		return false
	}
	if d.unchangedAt.IsZero() {
		d.unchangedAt = now
		return false
	}
	if now.Sub(d.unchangedAt) >= d.StableFor {
		d.settled = true
		log.Printf("[closedetector] close settled at %.2f (unchanged for %v)", d.last, d.StableFor)
		return true
	}
	return false
}

// ClosingPrice returns the last observed price. Meaningful once Observe has
// returned true.
func (d *Detector) ClosingPrice() float64 {
	return d.last
}
