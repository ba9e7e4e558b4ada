package ledger

import (
	"errors"
	"testing"
	"time"
)

type memStore struct {
	capital float64
	has     bool
	err     error
}

func (s *memStore) LoadCapital() (float64, bool, error) {
	return s.capital, s.has, s.err
}

func (s *memStore) SaveCapital(capital float64, _ time.Time) error {
	if s.err != nil {
		return s.err
	}
	s.capital = capital
	s.has = true
	return nil
}

func TestLedger_ApplyAndReset(t *testing.T) {
	l := New(10000, nil)

	l.ApplyPnL(2018.75)
	l.ApplyPnL(-500)
	if l.DailyPnL() != 1518.75 {
		t.Errorf("expected daily pnl 1518.75, got %v", l.DailyPnL())
	}
	if l.Running() != 11518.75 {
		t.Errorf("expected running capital 11518.75, got %v", l.Running())
	}

	l.ResetDaily()
	if l.DailyPnL() != 0 {
		t.Error("daily pnl must reset")
	}
	if l.Running() != 11518.75 {
		t.Error("running capital must carry over the reset")
	}
}

func TestLedger_PersistenceRoundTrip(t *testing.T) {
	store := &memStore{}
	l := New(10000, store)
	l.ApplyPnL(2018.75)
	if err := l.Save(time.Now()); err != nil {
		t.Fatal(err)
	}

	restored := New(10000, store)
	if err := restored.Load(); err != nil {
		t.Fatal(err)
	}
	if restored.Running() != 12018.75 {
		t.Errorf("expected restored capital 12018.75, got %v", restored.Running())
	}
	if restored.DailyPnL() != 0 {
		t.Error("restored ledger must start with zero daily pnl")
	}
}

func TestLedger_MissingStateFallsBackToBase(t *testing.T) {
	l := New(10000, &memStore{})
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if l.Running() != 10000 {
		t.Errorf("expected base capital fallback 10000, got %v", l.Running())
	}
}

func TestLedger_LoadErrorSurfaced(t *testing.T) {
	l := New(10000, &memStore{err: errors.New("disk gone")})
	if err := l.Load(); err == nil {
		t.Fatal("expected load error to surface")
	}
}
