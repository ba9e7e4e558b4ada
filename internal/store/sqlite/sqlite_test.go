package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"divergence-systemv1/internal/model"
)

func openTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestWriter_CandleRoundTrip(t *testing.T) {
	w, path := openTestWriter(t)

	base := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
	candles := []model.Candle{
		{Symbol: "NSE:NIFTY24500PE", BucketStart: base, Open: 20, High: 23, Low: 19, Close: 22},
		{Symbol: "NSE:NIFTY24500PE", BucketStart: base.Add(5 * time.Minute), Open: 22, High: 24, Low: 21.5, Close: 23.5},
		{Symbol: "NSE:NIFTY50-INDEX", BucketStart: base, Open: 24500, High: 24560, Low: 24490, Close: 24550},
	}
	if err := w.WriteCandles(candles); err != nil {
		t.Fatalf("write candles: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	got, err := r.ReadCandles("NSE:NIFTY24500PE", 0, 0)
	if err != nil {
		t.Fatalf("read candles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(got))
	}
	if !got[0].BucketStart.Equal(base) || got[0].High != 23 {
		t.Errorf("unexpected first candle %+v", got[0])
	}
	if got[1].Close != 23.5 {
		t.Errorf("unexpected second candle %+v", got[1])
	}

	// Range bound excludes the second bucket.
	got, err = r.ReadCandles("NSE:NIFTY24500PE", 0, base.Add(5*time.Minute).Unix())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 candle inside range, got %d", len(got))
	}
}

func TestWriter_CapitalStateSingleRow(t *testing.T) {
	w, _ := openTestWriter(t)

	if _, ok, err := w.LoadCapital(); err != nil || ok {
		t.Fatalf("expected no capital state initially, ok=%v err=%v", ok, err)
	}

	now := time.Now()
	if err := w.SaveCapital(12018.75, now); err != nil {
		t.Fatal(err)
	}
	if err := w.SaveCapital(14037.50, now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	capital, ok, err := w.LoadCapital()
	if err != nil || !ok {
		t.Fatalf("expected capital state, ok=%v err=%v", ok, err)
	}
	if capital != 14037.50 {
		t.Errorf("expected latest capital 14037.50, got %v", capital)
	}

	var count int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM capital_state`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("capital_state must hold exactly one row, got %d", count)
	}
}

func TestWriter_DailyReportUpsert(t *testing.T) {
	w, path := openTestWriter(t)

	if err := w.SaveDailyReport("2026-08-28", []byte(`{"daily_pnl":100}`)); err != nil {
		t.Fatal(err)
	}
	if err := w.SaveDailyReport("2026-08-28", []byte(`{"daily_pnl":4037.5}`)); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	data, err := r.ReadDailyReport("2026-08-28")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"daily_pnl":4037.5}` {
		t.Errorf("expected upserted report, got %s", data)
	}

	missing, err := r.ReadDailyReport("2026-08-27")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("missing date must return nil")
	}
}
