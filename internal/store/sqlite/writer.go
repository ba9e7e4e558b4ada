// Package sqlite persists sealed candles, capital state and daily reports.
// Candle writes are batched off the hot path; capital and reports are
// single-row writes at session boundaries.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"divergence-systemv1/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/divergence.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB

	// OnCommitDur observes the duration of each committed candle batch.
	OnCommitDur func(d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS capital_state (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			capital      REAL    NOT NULL,
			last_updated TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS daily_reports (
			date       TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Run reads candles from candleCh and inserts them in batched transactions.
// Flushes every batchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			d := time.Since(start)
			log.Printf("[sqlite] committed %d candles in %v", len(batch), d)
			if w.OnCommitDur != nil {
				w.OnCommitDur(d)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case candle, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, candle)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of candles in a single transaction.
func (w *Writer) insertBatch(candles []model.Candle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, ts, open, high, low, close)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.Exec(c.Symbol, c.BucketStart.Unix(), c.Open, c.High, c.Low, c.Close)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// WriteCandles inserts candles synchronously, outside the channel pipeline.
// Used by backtest ingestion.
func (w *Writer) WriteCandles(candles []model.Candle) error {
	return w.insertBatch(candles)
}

// LoadCapital returns the persisted running capital. ok is false when no
// state was ever saved. Implements ledger.Store.
func (w *Writer) LoadCapital() (float64, bool, error) {
	var capital float64
	err := w.db.QueryRow(`SELECT capital FROM capital_state WHERE id = 1`).Scan(&capital)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlite read capital: %w", err)
	}
	return capital, true, nil
}

// SaveCapital upserts the single capital_state row. Implements ledger.Store.
func (w *Writer) SaveCapital(capital float64, at time.Time) error {
	_, err := w.db.Exec(`
		INSERT INTO capital_state (id, capital, last_updated) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET capital = excluded.capital, last_updated = excluded.last_updated
	`, capital, at.Format("2006-01-02 15:04:05"))
	if err != nil {
		return fmt.Errorf("sqlite save capital: %w", err)
	}
	return nil
}

// SaveDailyReport upserts the JSON report for a date (YYYY-MM-DD).
func (w *Writer) SaveDailyReport(date string, data []byte) error {
	_, err := w.db.Exec(`
		INSERT INTO daily_reports (date, data) VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET data = excluded.data
	`, date, string(data))
	if err != nil {
		return fmt.Errorf("sqlite save report: %w", err)
	}
	return nil
}

// GetLastTimestamp returns the last stored candle timestamp for a symbol.
// Returns 0 if no candles exist.
func (w *Writer) GetLastTimestamp(symbol string) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM candles WHERE symbol = ?`, symbol,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
