package journal

import (
	"path/filepath"
	"testing"
	"time"

	"divergence-systemv1/internal/model"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_EntryExitRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	entryTime := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	tr := model.Trade{
		Symbol:      "NSE:NIFTY24500PE",
		EntryTime:   entryTime,
		EntryPrice:  23.5,
		StopLoss:    18.75,
		Target:      28.25,
		Quantity:    425,
		Status:      model.StatusOpen,
		Variant:     model.VariantOneToOne,
		EntryReason: "DIVERGENCE",
	}
	if err := j.Record(EventEntry, tr); err != nil {
		t.Fatalf("record entry: %v", err)
	}

	tr.Status = model.StatusClosed
	tr.ExitPrice = 28.25
	tr.ExitTime = entryTime.Add(10 * time.Minute)
	tr.ExitReason = model.ExitTarget
	tr.PnL = 2018.75
	if err := j.Record(EventExit, tr); err != nil {
		t.Fatalf("record exit: %v", err)
	}

	records, err := j.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(records))
	}

	// Newest first: exit row leads.
	exit, entry := records[0], records[1]
	if exit.Event != EventExit || entry.Event != EventEntry {
		t.Fatalf("unexpected event order: %s, %s", exit.Event, entry.Event)
	}
	if exit.PnL != 2018.75 || exit.ExitReason != model.ExitTarget {
		t.Errorf("unexpected exit row %+v", exit)
	}
	if entry.EntryPrice != 23.5 || entry.Qty != 425 || entry.Variant != model.VariantOneToOne {
		t.Errorf("unexpected entry row %+v", entry)
	}
}

func TestJournal_RecentLimit(t *testing.T) {
	j := openTestJournal(t)

	tr := model.Trade{
		Symbol:     "NSE:NIFTY24500CE",
		EntryTime:  time.Now(),
		EntryPrice: 100,
		StopLoss:   95,
		Target:     105,
		Quantity:   100,
		Variant:    model.VariantOneToThree,
	}
	for i := 0; i < 5; i++ {
		if err := j.Record(EventEntry, tr); err != nil {
			t.Fatal(err)
		}
	}

	records, err := j.Recent(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Errorf("expected limit of 3 rows, got %d", len(records))
	}
}
