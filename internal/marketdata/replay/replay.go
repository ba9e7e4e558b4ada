// Package replay reads archived candles from SQLite and expands each bar into
// a deterministic tick sequence for backtesting: open, low, high, close. When
// a pending signal's trigger level lies inside the bar's range, an extra tick
// just above the trigger is injected between low and high, so the simulated
// entry price matches a real intra-bar breakout instead of the bar high.
package replay

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"divergence-systemv1/internal/model"
	sqlitestore "divergence-systemv1/internal/store/sqlite"
)

// breakoutStep is added to the trigger level for the injected breakout tick.
const breakoutStep = 0.05

// Replayer turns archived candles back into ticks.
type Replayer struct {
	reader *sqlitestore.Reader

	// TriggerLevel reports the live trigger price for a symbol's pending
	// signal, if any. Consulted per bar to decide whether to inject the
	// intra-bar breakout tick. Optional.
	TriggerLevel func(symbol string) (float64, bool)
}

// New creates a Replayer backed by a SQLite reader.
func New(reader *sqlitestore.Reader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays all candles for the given symbols in [fromTS, toTS) as ticks,
// in timestamp order, invoking emit synchronously for each tick. speed
// controls pacing between bars: 0 replays as fast as possible, 1.0 is
// real-time.
func (r *Replayer) Run(ctx context.Context, symbols []string, fromTS, toTS int64, speed float64, emit func(model.Tick)) error {
	var bars []model.Candle
	for _, sym := range symbols {
		candles, err := r.reader.ReadCandles(sym, fromTS, toTS)
		if err != nil {
			return fmt.Errorf("replay read %s: %w", sym, err)
		}
		bars = append(bars, candles...)
	}

	if len(bars) == 0 {
		log.Println("[replay] no candles found in sqlite")
		return nil
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].BucketStart.Before(bars[j].BucketStart)
	})

	log.Printf("[replay] loaded %d bars across %d symbols, speed=%.1fx", len(bars), len(symbols), speed)

	var prevTS time.Time
	emitted := 0

	for _, bar := range bars {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return ctx.Err()
		default:
		}

		// Simulate time gaps between bars
		if speed > 0 && !prevTS.IsZero() {
			gap := bar.BucketStart.Sub(prevTS)
			if gap > 0 {
				scaledGap := time.Duration(float64(gap) / speed)
				// Cap max sleep to avoid very long waits
				if scaledGap > 5*time.Second {
					scaledGap = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = bar.BucketStart

		r.emitBar(bar, emit)
		emitted++
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return nil
}

// emitBar expands one bar into ticks. The open tick goes first so the next
// bucket's candle opens at the true open, then the excursion to low, the
// optional breakout probe, the high and finally the close.
func (r *Replayer) emitBar(bar model.Candle, emit func(model.Tick)) {
	tick := func(price float64) {
		emit(model.Tick{Symbol: bar.Symbol, Price: price, TS: bar.BucketStart})
	}

	tick(bar.Open)
	tick(bar.Low)

	if r.TriggerLevel != nil {
		if trig, ok := r.TriggerLevel(bar.Symbol); ok && bar.Low <= trig && trig < bar.High {
			// The breakout happened somewhere inside this bar. Without
			// this probe the entry would fill at the bar high.
			tick(trig + breakoutStep)
		}
	}

	tick(bar.High)
	tick(bar.Close)
}
