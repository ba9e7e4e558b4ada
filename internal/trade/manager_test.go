package trade

import (
	"testing"
	"time"

	"divergence-systemv1/internal/model"
)

const sym = "NSE:NIFTY24500PE"

var at = time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

func signal(high, low float64) *model.PendingSignal {
	return &model.PendingSignal{
		Symbol:          sym,
		Direction:       "BUY",
		TriggerHigh:     high,
		InvalidationLow: low,
		Origin:          model.Candle{Symbol: sym, Open: 20, High: high, Low: low, Close: 22},
		Reason:          "DIVERGENCE",
	}
}

func TestManager_OpensDualTargetPair(t *testing.T) {
	m := NewManager(10000)
	var opened []model.Trade
	m.OnOpened = func(tr model.Trade) { opened = append(opened, tr) }

	if !m.Open(signal(23, 19), 23.5, at) {
		t.Fatal("expected pair to open")
	}
	if len(opened) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(opened))
	}

	oneOne, oneThree := opened[0], opened[1]
	if oneOne.Variant != model.VariantOneToOne || oneThree.Variant != model.VariantOneToThree {
		t.Fatalf("unexpected variants %q, %q", oneOne.Variant, oneThree.Variant)
	}
	// Entry 23.5, origin low 19: stop 18.75, risk 4.75.
	if oneOne.StopLoss != 18.75 {
		t.Errorf("expected stop 18.75, got %v", oneOne.StopLoss)
	}
	if oneOne.Target != 28.25 {
		t.Errorf("expected 1:1 target 28.25, got %v", oneOne.Target)
	}
	if oneThree.Target != 37.75 {
		t.Errorf("expected 1:3 target 37.75, got %v", oneThree.Target)
	}
	if oneOne.Quantity != 425 || oneThree.Quantity != 425 {
		t.Errorf("expected shared qty 425 (floor 10000/23.5), got %d and %d",
			oneOne.Quantity, oneThree.Quantity)
	}
	if oneOne.StopLoss != oneThree.StopLoss || oneOne.EntryPrice != oneThree.EntryPrice {
		t.Error("pair must share entry and stop")
	}
}

func TestManager_RejectsDuplicateOpen(t *testing.T) {
	m := NewManager(10000)
	m.Open(signal(23, 19), 23.5, at)
	if m.Open(signal(26, 21), 26.5, at.Add(time.Minute)) {
		t.Fatal("second open on a symbol with an open trade must be rejected")
	}
	if m.OpenCount() != 2 {
		t.Errorf("expected only the original pair open, got %d", m.OpenCount())
	}
}

func TestManager_RejectsNonPositiveRisk(t *testing.T) {
	m := NewManager(10000)
	// Entry at 18.5 with stop 19-0.25=18.75 gives risk <= 0.
	if m.Open(signal(23, 19), 18.5, at) {
		t.Fatal("non-positive risk must reject the pair")
	}
	if m.OpenCount() != 0 {
		t.Error("rejected open must leave nothing behind")
	}
}

func TestManager_TargetExitPnL(t *testing.T) {
	m := NewManager(10000)
	var closed []model.Trade
	m.OnClosed = func(tr model.Trade) { closed = append(closed, tr) }

	m.Open(signal(23, 19), 23.5, at)
	m.OnTick(sym, 28.25, at.Add(5*time.Minute))

	if len(closed) != 1 {
		t.Fatalf("expected only the 1:1 leg closed at 28.25, got %d", len(closed))
	}
	c := closed[0]
	if c.Variant != model.VariantOneToOne || c.ExitReason != model.ExitTarget {
		t.Fatalf("expected 1:1 TARGET exit, got %s %s", c.Variant, c.ExitReason)
	}
	if c.PnL != 2018.75 {
		t.Errorf("expected pnl 2018.75, got %v", c.PnL)
	}
	if !m.HasOpen(sym) {
		t.Error("1:3 leg must remain open")
	}
}

func TestManager_StopBeforeTarget(t *testing.T) {
	m := NewManager(10000)
	m.Open(signal(23, 19), 23.5, at)

	// Price at the stop exits both legs as losses even though the 1:1
	// target would also be checked on a later tick.
	m.OnTick(sym, 18.75, at.Add(time.Minute))
	if m.OpenCount() != 0 {
		t.Fatalf("expected both legs stopped out, %d still open", m.OpenCount())
	}
	for _, c := range m.Closed() {
		if c.ExitReason != model.ExitStopLoss {
			t.Errorf("expected SL exit, got %s", c.ExitReason)
		}
		want := (18.75 - 23.5) * 425
		if c.PnL != want {
			t.Errorf("expected pnl %v, got %v", want, c.PnL)
		}
	}
}

func TestManager_ForceCloseAll(t *testing.T) {
	m := NewManager(10000)
	m.Open(signal(23, 19), 23.5, at)
	m.OnTick(sym, 24.1, at.Add(time.Minute)) // last seen price, no exit

	n := m.ForceCloseAll(at.Add(6 * time.Hour))
	if n != 2 {
		t.Fatalf("expected 2 carryover closes, got %d", n)
	}
	if m.OpenCount() != 0 {
		t.Error("nothing may stay open after force close")
	}
	for _, c := range m.Closed() {
		if c.ExitReason != model.ExitCarryover {
			t.Errorf("expected %s, got %s", model.ExitCarryover, c.ExitReason)
		}
		if c.ExitPrice != 24.1 {
			t.Errorf("carryover close must use last seen price 24.1, got %v", c.ExitPrice)
		}
	}
}

func TestManager_ResetDay(t *testing.T) {
	m := NewManager(10000)
	m.Open(signal(23, 19), 23.5, at)
	m.OnTick(sym, 28.25, at.Add(time.Minute))
	m.ResetDay()

	if m.OpenCount() != 0 || len(m.Closed()) != 0 {
		t.Error("reset must clear open and closed trades")
	}
	if !m.Open(signal(23, 19), 23.5, at.Add(24*time.Hour)) {
		t.Error("symbol must be tradable again after reset")
	}
}
