package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"divergence-systemv1/internal/model"
)

// Reader provides read-only access to SQLite for replay and report retrieval.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles reads candles for a symbol in [fromTS, toTS), ordered by
// timestamp ascending for correct replay order. toTS of 0 means no upper bound.
func (r *Reader) ReadCandles(symbol string, fromTS, toTS int64) ([]model.Candle, error) {
	query := `
		SELECT symbol, ts, open, high, low, close
		FROM candles
		WHERE symbol = ? AND ts >= ?
	`
	args := []any{symbol, fromTS}
	if toTS > 0 {
		query += ` AND ts < ?`
		args = append(args, toTS)
	}
	query += ` ORDER BY ts ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&c.Symbol, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.BucketStart = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadDailyReport loads the stored JSON report for a date (YYYY-MM-DD).
// Returns nil when no report exists for the date.
func (r *Reader) ReadDailyReport(date string) ([]byte, error) {
	var data string
	err := r.db.QueryRow(`SELECT data FROM daily_reports WHERE date = ?`, date).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read report: %w", err)
	}
	return []byte(data), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
