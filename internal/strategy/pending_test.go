package strategy

import (
	"testing"
	"time"

	"divergence-systemv1/internal/model"
)

func pendingSignal(symbol string, high, low float64) *model.PendingSignal {
	return &model.PendingSignal{
		Symbol:          symbol,
		Direction:       "BUY",
		TriggerHigh:     high,
		InvalidationLow: low,
		Origin:          model.Candle{Symbol: symbol, High: high, Low: low},
	}
}

func TestPendingBook_TriggerOnBreakout(t *testing.T) {
	b := NewPendingBook()
	var gotPrice float64
	b.OnTrigger = func(sig *model.PendingSignal, price float64, ts time.Time) {
		gotPrice = price
	}

	b.Arm(pendingSignal(pe, 23, 19))

	b.OnTick(pe, 23, bucket) // at the high, not above: no trigger
	if gotPrice != 0 {
		t.Fatal("price equal to the high must not trigger")
	}
	b.OnTick(pe, 23.5, bucket)
	if gotPrice != 23.5 {
		t.Fatalf("expected trigger at 23.5, got %v", gotPrice)
	}
	if b.Len() != 0 {
		t.Error("triggered signal must leave the book")
	}
	// A second breakout tick does nothing.
	gotPrice = 0
	b.OnTick(pe, 24, bucket)
	if gotPrice != 0 {
		t.Error("signal must resolve at most once")
	}
}

func TestPendingBook_Invalidation(t *testing.T) {
	b := NewPendingBook()
	triggered := false
	invalidated := false
	b.OnTrigger = func(*model.PendingSignal, float64, time.Time) { triggered = true }
	b.OnInvalidated = func(*model.PendingSignal) { invalidated = true }

	b.Arm(pendingSignal(pe, 23, 19))

	b.OnTick(pe, 19, bucket) // at the low, not below: still live
	if invalidated {
		t.Fatal("price equal to the low must not invalidate")
	}
	b.OnTick(pe, 18.5, bucket)
	if !invalidated {
		t.Fatal("expected invalidation below the low")
	}
	// Breakout after invalidation must not fire.
	b.OnTick(pe, 25, bucket)
	if triggered {
		t.Error("invalidated signal must never trigger")
	}
}

func TestPendingBook_OverwriteOnRedetect(t *testing.T) {
	b := NewPendingBook()
	b.Arm(pendingSignal(pe, 23, 19))
	b.Arm(pendingSignal(pe, 26, 21))

	if b.Len() != 1 {
		t.Fatalf("expected one live signal per symbol, got %d", b.Len())
	}
	sig, _ := b.Get(pe)
	if sig.TriggerHigh != 26 {
		t.Errorf("newest signal must define the levels, got trigger=%v", sig.TriggerHigh)
	}

	// Old trigger level no longer fires.
	triggered := false
	b.OnTrigger = func(*model.PendingSignal, float64, time.Time) { triggered = true }
	b.OnTick(pe, 24, bucket)
	if triggered {
		t.Error("old trigger level must be dead after overwrite")
	}
}

func TestPendingBook_IgnoresOtherSymbols(t *testing.T) {
	b := NewPendingBook()
	b.Arm(pendingSignal(pe, 23, 19))

	b.OnTick(ce, 30, bucket)
	if b.Len() != 1 {
		t.Error("ticks for other symbols must not touch the signal")
	}
}
