package model

import "time"

// Trade status values.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Risk:reward variants. Every resolved trigger opens one trade per variant,
// sharing entry/stop/quantity and differing only in target.
const (
	VariantOneToOne   = "1:1"
	VariantOneToThree = "1:3"
)

// Exit reasons.
const (
	ExitStopLoss  = "SL"
	ExitTarget    = "TARGET"
	ExitCarryover = "EOD_CARRYOVER_CLOSE"
)

// Trade is a simulated (paper) long position in one option instrument.
// Exit fields are zero-valued while the trade is OPEN.
type Trade struct {
	Symbol      string    `json:"symbol"`
	EntryTime   time.Time `json:"entry_time"`
	EntryPrice  float64   `json:"entry_price"`
	StopLoss    float64   `json:"sl"`
	Target      float64   `json:"target"`
	Quantity    int64     `json:"quantity"`
	Status      string    `json:"status"`
	Variant     string    `json:"variant"`
	PnL         float64   `json:"pnl"`
	ExitPrice   float64   `json:"exit_price,omitempty"`
	ExitTime    time.Time `json:"exit_time,omitempty"`
	ExitReason  string    `json:"exit_reason,omitempty"`
	EntryReason string    `json:"entry_reason,omitempty"`
}
