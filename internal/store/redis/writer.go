// Package redis is the live output plane: sealed candles, armed signals,
// trade lifecycle events and daily reports go out over Redis streams and
// Pub/Sub for dashboards and downstream consumers. A circuit breaker with a
// local buffer keeps a Redis outage off the strategy path.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"divergence-systemv1/internal/model"
	"divergence-systemv1/internal/session"
)

const (
	// Stream trimming: a full session of 5m candles per symbol is ~75
	// entries, so a few days of history is plenty.
	candleStreamMaxLen = 1000
	tradeStreamMaxLen  = 5000
	defaultLatestTTL   = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes candles, signals, trades and reports to Redis.
type Writer struct {
	client *goredis.Client

	// OnWriteDur observes the duration of each candle pipeline, the
	// highest-volume write.
	OnWriteDur func(d time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Run reads sealed candles from candleCh and writes them to Redis.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			w.writeCandle(ctx, candle)
		}
	}
}

// writeCandle performs pipelined writes for a sealed candle.
func (w *Writer) writeCandle(ctx context.Context, candle model.Candle) {
	latestKey := "candle:latest:" + candle.Symbol
	streamKey := "candle:" + candle.Symbol
	pubsubCh := "pub:candle:" + candle.Symbol
	jsonData := string(candle.JSON())

	pipe := w.client.Pipeline()

	// SET latest candle with TTL
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)

	// XADD to stream with auto-trimming
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: candleStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": jsonData,
		},
	})

	// PUBLISH to pubsub channel
	pipe.Publish(ctx, pubsubCh, jsonData)

	start := time.Now()
	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] candle pipeline error for %s: %v", candle.Symbol, err)
		return
	}
	if w.OnWriteDur != nil {
		w.OnWriteDur(time.Since(start))
	}
}

// writeSignal publishes an armed pending signal.
func (w *Writer) writeSignal(ctx context.Context, sig model.PendingSignal) {
	jsonData, err := jsonString(sig)
	if err != nil {
		log.Printf("[redis] marshal signal: %v", err)
		return
	}

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "signals",
		MaxLen: tradeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Publish(ctx, "pub:signals", jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] signal pipeline error for %s: %v", sig.Symbol, err)
	}
}

// writeTrade records a trade lifecycle event (event is ENTRY or EXIT).
func (w *Writer) writeTrade(ctx context.Context, event string, t model.Trade) {
	jsonData, err := jsonString(t)
	if err != nil {
		log.Printf("[redis] marshal trade: %v", err)
		return
	}

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "trades",
		MaxLen: tradeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"event": event, "data": jsonData},
	})
	pipe.Publish(ctx, "pub:trades", jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] trade pipeline error for %s: %v", t.Symbol, err)
	}
}

// PublishReport stores the daily report under its date and notifies
// subscribers. Reports go out at most once a day, so no breaker wrapping.
func (w *Writer) PublishReport(ctx context.Context, r session.Report) error {
	data, err := r.JSON()
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	jsonData := string(data)

	pipe := w.client.Pipeline()
	pipe.Set(ctx, "report:"+r.Date, jsonData, 0)
	pipe.Set(ctx, "report:latest", jsonData, 0)
	pipe.Publish(ctx, "pub:reports", jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish report: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
