// Package wssim feeds the engine from a plain-JSON WebSocket tick source,
// normally cmd/tickserver. Each frame is one model.Tick:
//
//	{"symbol":"NSE:NIFTY50-INDEX","price":24550.25,"ts":"..."}
//
// It stands in for the Fyers data socket in staging, so the whole pipeline
// runs without broker credentials.
package wssim

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"divergence-systemv1/internal/model"
)

// Config locates the tick source and shapes the reconnect backoff.
type Config struct {
	URL string // e.g. "ws://localhost:9001/ws"

	ReconnectDelay    time.Duration // first retry gap, default 2s
	MaxReconnectDelay time.Duration // backoff cap, default 30s
}

// Ingest is a reconnecting tick reader with the same Start contract as
// fyers.DataSocket.
type Ingest struct {
	cfg Config

	// OnReconnect fires once per reconnection attempt.
	OnReconnect func()
}

// New validates the URL and builds an Ingest.
func New(cfg Config) (*Ingest, error) {
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	return &Ingest{cfg: cfg}, nil
}

// Start streams ticks into submit until ctx is cancelled, reconnecting with
// exponential backoff after every drop.
func (ing *Ingest) Start(ctx context.Context, submit func(model.Tick) bool) error {
	delay := ing.cfg.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := ing.readStream(ctx, submit); err == nil {
			return nil // clean cancel
		} else {
			log.Printf("[wssim] disconnected (%v), reconnecting in %s...", err, delay)
		}
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay *= 2; delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// readStream holds one connection open and pumps its frames into submit.
func (ing *Ingest) readStream(ctx context.Context, submit func(model.Tick) bool) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[wssim] connected to %s", ing.cfg.URL)

	// Cancellation unblocks the blocking ReadMessage by closing the conn.
	// WriteControl is safe alongside the reader's internal control replies.
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var tick model.Tick
		if err := json.Unmarshal(raw, &tick); err != nil {
			log.Printf("[wssim] bad frame: %v (raw: %s)", err, raw)
			continue
		}
		if tick.Symbol == "" {
			continue
		}
		if !submit(tick) {
			log.Println("[wssim] tick refused, ring full")
		}
	}
}
