package fyers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"divergence-systemv1/internal/model"
)

// Socket endpoint, a var so tests can point it at a local server.
var dataSocketURL = "wss://socket.fyers.in/hsm/v1-5/prod"

const heartbeatInterval = 10 * time.Second

// SocketConfig holds data socket options.
type SocketConfig struct {
	// Token in "CLIENTID:accessToken" form, see Client.WSToken.
	Token string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *SocketConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// DataSocket streams symbol updates from the Fyers data socket. Subscriptions
// survive reconnects; Subscribe may be called while the socket is live to add
// symbols (used on ATM strike rotation).
type DataSocket struct {
	cfg SocketConfig

	mu      sync.Mutex
	symbols map[string]struct{}
	conn    *websocket.Conn

	// writeMu serializes conn writes: the heartbeat, the shutdown close
	// frame and rotation-driven subscriptions all run on their own
	// goroutines, and a gorilla conn supports only one concurrent writer.
	writeMu sync.Mutex

	// Hooks, optional.
	OnConnect    func()
	OnDisconnect func()
}

// NewDataSocket creates a DataSocket. Token must be non-empty.
func NewDataSocket(cfg SocketConfig) (*DataSocket, error) {
	if cfg.Token == "" {
		return nil, errors.New("fyers: data socket requires a token")
	}
	cfg.defaults()
	return &DataSocket{
		cfg:     cfg,
		symbols: make(map[string]struct{}),
	}, nil
}

// Subscribe adds symbols to the watch set and, when connected, sends the
// subscription request immediately.
func (s *DataSocket) Subscribe(symbols ...string) error {
	s.mu.Lock()
	fresh := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if _, ok := s.symbols[sym]; !ok {
			s.symbols[sym] = struct{}{}
			fresh = append(fresh, sym)
		}
	}
	conn := s.conn
	s.mu.Unlock()

	if len(fresh) == 0 || conn == nil {
		return nil
	}
	return s.sendSubscribe(conn, fresh)
}

// Start connects and streams ticks into submit until ctx is cancelled,
// reconnecting with exponential backoff.
func (s *DataSocket) Start(ctx context.Context, submit func(model.Tick) bool) error {
	delay := s.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := s.runOnce(ctx, submit)
		if err == nil {
			return nil
		}

		log.Printf("[fyers-ws] disconnected (%v), reconnecting in %s...", err, delay)
		if s.OnDisconnect != nil {
			s.OnDisconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

func (s *DataSocket) runOnce(ctx context.Context, submit func(model.Tick) bool) error {
	header := http.Header{}
	header.Set("Authorization", s.cfg.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dataSocketURL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[fyers-ws] connected")

	s.mu.Lock()
	s.conn = conn
	current := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		current = append(current, sym)
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if len(current) > 0 {
		if err := s.sendSubscribe(conn, current); err != nil {
			return err
		}
	}
	if s.OnConnect != nil {
		s.OnConnect()
	}

	// Context watcher closes the connection to unblock ReadMessage.
	go func() {
		<-ctx.Done()
		s.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		s.writeMu.Unlock()
		conn.Close()
	}()

	// Heartbeat keeps the feed alive through idle market phases.
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.writeMu.Lock()
				err := conn.WriteMessage(websocket.PingMessage, []byte("ping"))
				s.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var msg struct {
			Type   string  `json:"type"`
			Symbol string  `json:"symbol"`
			LTP    float64 `json:"ltp"`
			// exchange feed time, epoch seconds
			ExchFeedTime int64 `json:"exch_feed_time"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[fyers-ws] parse error: %v (raw: %s)", err, raw)
			continue
		}

		// Connection and subscription acks carry a type, data frames don't.
		if msg.Type != "" {
			continue
		}
		if msg.Symbol == "" || msg.LTP <= 0 {
			continue
		}

		ts := time.Now()
		if msg.ExchFeedTime > 0 {
			ts = time.Unix(msg.ExchFeedTime, 0)
		}
		if !submit(model.Tick{Symbol: msg.Symbol, Price: msg.LTP, TS: ts}) {
			log.Println("[fyers-ws] tick ring full, dropping tick")
		}
	}
}

func (s *DataSocket) sendSubscribe(conn *websocket.Conn, symbols []string) error {
	req := map[string]any{
		"T":     "SUB_DATA",
		"TLIST": symbols,
		"SUB_T": 1,
	}
	s.writeMu.Lock()
	err := conn.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}
	log.Printf("[fyers-ws] subscribed: %v", symbols)
	return nil
}
