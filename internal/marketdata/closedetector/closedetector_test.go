package closedetector

import (
	"testing"
	"time"
)

var closeAt = time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC) // 15:30 IST

func TestDetector_SettlesOnStablePrice(t *testing.T) {
	d := New(closeAt)
	d.StableFor = 3 * time.Second

	if d.Observe(24550.25, closeAt.Add(-time.Minute)) {
		t.Error("must not settle before the close")
	}
	if d.Observe(24551.10, closeAt.Add(1*time.Second)) {
		t.Error("a moving price must not settle")
	}
	if d.Observe(24552.40, closeAt.Add(2*time.Second)) {
		t.Error("a moving price must not settle")
	}
	if d.Observe(24552.40, closeAt.Add(3*time.Second)) {
		t.Error("1s unchanged is short of StableFor")
	}
	if !d.Observe(24552.40, closeAt.Add(5*time.Second)) {
		t.Error("expected settle after StableFor unchanged")
	}
	if d.ClosingPrice() != 24552.40 {
		t.Errorf("closing price = %v, want 24552.40", d.ClosingPrice())
	}
	// Once settled, later ticks keep reporting done.
	if !d.Observe(24553.00, closeAt.Add(6*time.Second)) {
		t.Error("a settled detector must stay settled")
	}
}

func TestDetector_GraceDeadline(t *testing.T) {
	d := New(closeAt)
	d.MaxGrace = 2 * time.Minute

	if d.Observe(24551, closeAt.Add(time.Minute)) {
		t.Error("must keep waiting inside the grace window")
	}
	if !d.Observe(24552, closeAt.Add(3*time.Minute)) {
		t.Error("expected a forced settle past the grace deadline")
	}
}

func TestDetector_MovementResetsTheClock(t *testing.T) {
	d := New(closeAt)
	d.StableFor = 2 * time.Second

	d.Observe(24550, closeAt.Add(1*time.Second))
	d.Observe(24550, closeAt.Add(2*time.Second))
	d.Observe(24551, closeAt.Add(2500*time.Millisecond)) // move restarts the run

	if d.Observe(24551, closeAt.Add(3*time.Second)) {
		t.Error("only 0.5s since the move, must not settle")
	}
	if !d.Observe(24551, closeAt.Add(4500*time.Millisecond)) {
		t.Error("2s unchanged since the move, expected settle")
	}
}
