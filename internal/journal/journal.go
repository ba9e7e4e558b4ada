// Package journal persists trade entries and exits to SQLite for analysis
// and audit. Each trade produces two rows: an ENTRY when the pair opens and
// an EXIT when the leg closes.
package journal

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"divergence-systemv1/internal/model"
)

// Event type values for journal rows.
const (
	EventEntry = "ENTRY"
	EventExit  = "EXIT"
)

// Journal is a SQLite-backed trade log.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// New opens (or creates) a SQLite journal database.
func New(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trade_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		event        TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		variant      TEXT NOT NULL,
		entry_time   DATETIME NOT NULL,
		entry_price  REAL NOT NULL,
		sl           REAL NOT NULL,
		target       REAL NOT NULL,
		qty          INTEGER NOT NULL,
		exit_time    DATETIME,
		exit_price   REAL DEFAULT 0,
		exit_reason  TEXT,
		pnl          REAL DEFAULT 0,
		entry_reason TEXT,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trade_log_symbol ON trade_log(symbol);
	CREATE INDEX IF NOT EXISTS idx_trade_log_variant ON trade_log(variant);
	CREATE INDEX IF NOT EXISTS idx_trade_log_entry_time ON trade_log(entry_time);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// Record persists one lifecycle event for a trade.
func (j *Journal) Record(event string, t model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var exitTime any
	if !t.ExitTime.IsZero() {
		exitTime = t.ExitTime.Format(time.RFC3339)
	}
	_, err := j.db.Exec(
		`INSERT INTO trade_log (event, symbol, variant, entry_time, entry_price, sl, target, qty,
		                        exit_time, exit_price, exit_reason, pnl, entry_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event,
		t.Symbol,
		t.Variant,
		t.EntryTime.Format(time.RFC3339),
		t.EntryPrice,
		t.StopLoss,
		t.Target,
		t.Quantity,
		exitTime,
		t.ExitPrice,
		t.ExitReason,
		t.PnL,
		t.EntryReason,
	)
	return err
}

// Record represents a row from the trade_log table.
type Record struct {
	ID         int64   `json:"id"`
	Event      string  `json:"event"`
	Symbol     string  `json:"symbol"`
	Variant    string  `json:"variant"`
	EntryTime  string  `json:"entry_time"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"sl"`
	Target     float64 `json:"target"`
	Qty        int64   `json:"qty"`
	ExitPrice  float64 `json:"exit_price"`
	ExitReason string  `json:"exit_reason"`
	PnL        float64 `json:"pnl"`
}

// Recent returns the last N journal rows, newest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, event, symbol, variant, entry_time, entry_price, sl, target, qty,
		        exit_price, IFNULL(exit_reason, ''), pnl
		 FROM trade_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Event, &r.Symbol, &r.Variant, &r.EntryTime,
			&r.EntryPrice, &r.StopLoss, &r.Target, &r.Qty,
			&r.ExitPrice, &r.ExitReason, &r.PnL); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
