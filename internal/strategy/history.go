// Package strategy implements the spot-option divergence strategy.
//
// The detector watches sealed candles for a divergence between the spot index
// and its ATM options: a green spot candle paired with a green PE candle (or a
// red spot candle with a green CE candle) arms a pending breakout signal on the
// option. The pending book then resolves those signals tick-by-tick.
package strategy

import (
	"time"

	"divergence-systemv1/internal/model"
)

// historyCap bounds the per-symbol candle history. Signals only ever look at
// the spot candle of the same bucket, so a short window is enough.
const historyCap = 10

// History keeps the most recent sealed candles per symbol.
type History struct {
	candles map[string][]model.Candle
}

// NewHistory creates an empty candle history.
func NewHistory() *History {
	return &History{candles: make(map[string][]model.Candle)}
}

// Add appends a sealed candle, evicting the oldest once the cap is reached.
func (h *History) Add(c model.Candle) {
	list := append(h.candles[c.Symbol], c)
	if len(list) > historyCap {
		list = list[1:]
	}
	h.candles[c.Symbol] = list
}

// At returns the candle for symbol whose bucket starts at ts, searching newest
// first.
func (h *History) At(symbol string, ts time.Time) (model.Candle, bool) {
	list := h.candles[symbol]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].BucketStart.Equal(ts) {
			return list[i], true
		}
	}
	return model.Candle{}, false
}

// Len returns the number of stored candles for symbol.
func (h *History) Len(symbol string) int { return len(h.candles[symbol]) }

// Reset drops all stored candles.
func (h *History) Reset() {
	h.candles = make(map[string][]model.Candle)
}
