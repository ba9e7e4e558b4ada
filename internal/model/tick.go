package model

import "time"

// Tick represents a single last-traded-price update from the Fyers WebSocket.
// Prices are rupee floats as delivered by the feed; Symbol is the full
// exchange-qualified symbol, e.g. "NSE:NIFTY50-INDEX" or "NSE:NIFTY25DEC24500CE".
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"` // LTP
	TS     time.Time `json:"ts"`    // exchange timestamp (IST)
}

// Valid reports whether the tick carries the fields the engine requires.
// Malformed ticks are dropped silently upstream.
func (t *Tick) Valid() bool {
	return t.Symbol != "" && t.Price > 0 && !t.TS.IsZero()
}
