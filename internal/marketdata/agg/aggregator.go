// Package agg builds fixed-interval OHLC candles from a stream of ticks.
//
// Sealing is strictly tick-driven: a candle is emitted the instant a tick
// arrives whose bucket is later than the open bucket, never on a timer. The
// aggregator performs no locking — it is owned by the single session loop.
package agg

import (
	"time"

	"divergence-systemv1/internal/model"
)

// candleState holds the in-progress candle for one symbol in the current bucket.
type candleState struct {
	bucket   time.Time
	candle   model.Candle
	suppress bool // warm-up candle: tracked but never emitted
}

// Aggregator folds ticks into per-symbol interval candles.
type Aggregator struct {
	interval time.Duration
	states   map[string]*candleState

	// WarmupUntil suppresses emission of any candle whose bucket starts
	// before this instant, so derived state is never seeded from a
	// partially-formed opening bar. Zero disables warm-up.
	WarmupUntil time.Time

	// OnLateTick fires when a tick older than the open bucket is dropped.
	OnLateTick func()
}

// New creates an Aggregator with the given bucket interval (e.g. 5 minutes).
func New(interval time.Duration) *Aggregator {
	return &Aggregator{
		interval: interval,
		states:   make(map[string]*candleState),
	}
}

// Interval returns the configured bucket width.
func (a *Aggregator) Interval() time.Duration { return a.interval }

// IngestTick incorporates one tick and returns the sealed candle for the
// previous bucket, if this tick opened a new one. A tick whose bucket is
// older than the open one is dropped; a sealed bar is never rewound.
func (a *Aggregator) IngestTick(symbol string, price float64, ts time.Time) (model.Candle, bool) {
	bucket := ts.Truncate(a.interval)

	state, exists := a.states[symbol]
	if exists && bucket.Before(state.bucket) {
		if a.OnLateTick != nil {
			a.OnLateTick()
		}
		return model.Candle{}, false
	}
	if exists && bucket.Equal(state.bucket) {
		c := &state.candle
		if price > c.High {
			c.High = price
		}
		if price < c.Low {
			c.Low = price
		}
		c.Close = price
		return model.Candle{}, false
	}

	var sealed model.Candle
	var ok bool
	if exists && bucket.After(state.bucket) && !state.suppress {
		sealed = state.candle
		ok = true
	}

	a.states[symbol] = &candleState{
		bucket:   bucket,
		suppress: !a.WarmupUntil.IsZero() && bucket.Before(a.WarmupUntil),
		candle: model.Candle{
			Symbol:      symbol,
			BucketStart: bucket,
			Open:        price,
			High:        price,
			Low:         price,
			Close:       price,
		},
	}
	return sealed, ok
}

// FlushAll seals and returns every open non-suppressed candle, clearing all
// state. Used at end-of-day reconciliation.
func (a *Aggregator) FlushAll() []model.Candle {
	var sealed []model.Candle
	for symbol, state := range a.states {
		if !state.suppress {
			sealed = append(sealed, state.candle)
		}
		delete(a.states, symbol)
	}
	return sealed
}

// Reset clears all per-symbol candle state for a new session.
func (a *Aggregator) Reset() {
	a.states = make(map[string]*candleState)
}
