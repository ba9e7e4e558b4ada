package model

import "time"

// PendingSignal is a conditional breakout order produced by the divergence
// detector. It resolves tick-by-tick: a trade below InvalidationLow destroys
// it, a trade above TriggerHigh converts it into a paper trade pair.
// At most one live pending signal exists per symbol; a re-detect overwrites.
type PendingSignal struct {
	Symbol          string    `json:"symbol"`
	Direction       string    `json:"direction"` // always "BUY" (long-only strategy)
	TriggerHigh     float64   `json:"trigger_high"`
	InvalidationLow float64   `json:"invalidation_low"`
	Origin          Candle    `json:"origin"` // signal candle; stop-loss basis
	DetectedAt      time.Time `json:"detected_at"`
	Reason          string    `json:"reason"`
}
