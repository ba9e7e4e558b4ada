package strategy

import (
	"fmt"
	"log"

	"divergence-systemv1/internal/model"
)

// Detector turns sealed candles into pending breakout signals.
//
// PE rule: spot candle green AND PE candle green in the same bucket.
// CE rule: spot candle red AND CE candle green in the same bucket.
// Both are long-only entries on the option leg; the signal candle's high is
// the trigger, its low the invalidation level.
type Detector struct {
	history *History

	spotSymbol string
	ceSymbol   string
	peSymbol   string

	// OnDetected is invoked for every armed signal. Optional metrics hook.
	OnDetected func()
}

// NewDetector creates a detector over the given candle history, watching the
// given spot index symbol.
func NewDetector(history *History, spotSymbol string) *Detector {
	return &Detector{history: history, spotSymbol: spotSymbol}
}

// SetPair updates the CE/PE option symbols under watch. Called at session
// start and on every strike rotation.
func (d *Detector) SetPair(ceSymbol, peSymbol string) {
	d.ceSymbol = ceSymbol
	d.peSymbol = peSymbol
}

// Pair returns the current CE and PE symbols.
func (d *Detector) Pair() (ceSymbol, peSymbol string) {
	return d.ceSymbol, d.peSymbol
}

// OnCandle records a sealed candle and, if the candle belongs to an option leg
// whose bucket also has a sealed spot candle, evaluates the divergence rules.
// It returns a pending signal when one is armed.
func (d *Detector) OnCandle(c model.Candle) *model.PendingSignal {
	d.history.Add(c)

	spot, ok := d.history.At(d.spotSymbol, c.BucketStart)
	if !ok {
		// Spot candle for this bucket not sealed yet; the spot candle
		// arriving later re-runs the check for both legs.
		if c.Symbol != d.spotSymbol {
			return nil
		}
		spot = c
	}

	switch c.Symbol {
	case d.peSymbol:
		return d.checkPE(spot, c)
	case d.ceSymbol:
		return d.checkCE(spot, c)
	case d.spotSymbol:
		// Spot sealed after the option legs: re-check both.
		if pe, ok := d.history.At(d.peSymbol, c.BucketStart); ok {
			if sig := d.checkPE(spot, pe); sig != nil {
				return sig
			}
		}
		if ce, ok := d.history.At(d.ceSymbol, c.BucketStart); ok {
			return d.checkCE(spot, ce)
		}
	}
	return nil
}

func (d *Detector) checkPE(spot, pe model.Candle) *model.PendingSignal {
	if !spot.Bullish() || !pe.Bullish() {
		return nil
	}
	reason := fmt.Sprintf("DIVERGENCE: Spot GREEN (O:%.2f C:%.2f) + PE GREEN (O:%.2f C:%.2f)",
		spot.Open, spot.Close, pe.Open, pe.Close)
	return d.arm(pe, reason)
}

func (d *Detector) checkCE(spot, ce model.Candle) *model.PendingSignal {
	if !spot.Bearish() || !ce.Bullish() {
		return nil
	}
	reason := fmt.Sprintf("DIVERGENCE: Spot RED (O:%.2f C:%.2f) + CE GREEN (O:%.2f C:%.2f)",
		spot.Open, spot.Close, ce.Open, ce.Close)
	return d.arm(ce, reason)
}

func (d *Detector) arm(origin model.Candle, reason string) *model.PendingSignal {
	log.Printf("[strategy] signal detected (pending): BUY %s high=%.2f low=%.2f bucket=%s",
		origin.Symbol, origin.High, origin.Low, origin.BucketStart.Format("15:04"))
	if d.OnDetected != nil {
		d.OnDetected()
	}
	return &model.PendingSignal{
		Symbol:          origin.Symbol,
		Direction:       "BUY",
		TriggerHigh:     origin.High,
		InvalidationLow: origin.Low,
		Origin:          origin,
		DetectedAt:      origin.BucketStart,
		Reason:          reason,
	}
}
