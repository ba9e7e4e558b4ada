package model

import (
	"encoding/json"
	"time"
)

// Candle represents a sealed fixed-interval OHLC bar for a single instrument.
// BucketStart is the floor of the tick time to the interval boundary.
type Candle struct {
	Symbol      string    `json:"symbol"`
	BucketStart time.Time `json:"bucket_start"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
}

// Bullish reports whether the candle closed above its open.
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c *Candle) Bearish() bool { return c.Close < c.Open }

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
