// cmd/tickserver — Demo WebSocket tick server.
// Broadcasts simulated spot-index and option ticks for testing the engine in
// staging mode without real broker credentials.
//
// Tick JSON shape is identical to model.Tick:
//
//	{"symbol":"NSE:NIFTY50-INDEX","price":24550.25,"ts":"..."}
//
// The spot symbol follows a random walk; the CE leg gains roughly half the
// spot's move and the PE leg the inverse, so divergence patterns occur
// naturally during a run.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  — listen address (default: ":9001")
//	SPOT_SYMBOL       — index symbol   (default: "NSE:NIFTY50-INDEX")
//	CE_SYMBOL         — call option symbol
//	PE_SYMBOL         — put option symbol
//	SPOT_START        — starting index level    (default: "24500")
//	OPTION_START      — starting option premium (default: "180")
//	TICK_INTERVAL_MS  — broadcast interval milliseconds (default: "100")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"divergence-systemv1/internal/model"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
	Delta  float64 // fraction of the spot move this symbol inherits
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop tick
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Write pump: sends tick JSON to this client.
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

func runGenerator(h *hub, spot instrument, legs []instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for range ticker.C {
		// Spot moves ±0.0% to ±0.05% per tick.
		pct := (rng.Float64()*0.1 - 0.05) / 100.0
		move := spot.Price * pct
		spot.Price += move
		if spot.Price < 1 {
			spot.Price = 1
		}
		broadcastTick(h, spot.Symbol, spot.Price)

		// Options inherit a scaled share of the spot move plus their own
		// premium noise, so spot and option candles regularly diverge.
		for i := range legs {
			noise := legs[i].Price * (rng.Float64()*0.2 - 0.1) / 100.0
			legs[i].Price += move*legs[i].Delta + noise
			if legs[i].Price < 0.05 {
				legs[i].Price = 0.05
			}
			broadcastTick(h, legs[i].Symbol, legs[i].Price)
		}
	}
}

func broadcastTick(h *hub, symbol string, price float64) {
	b, err := json.Marshal(model.Tick{
		Symbol: symbol,
		Price:  round2(price),
		TS:     time.Now().UTC(),
	})
	if err != nil {
		return
	}
	h.broadcast(b)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo tick server...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	spotSymbol := envOrDefault("SPOT_SYMBOL", "NSE:NIFTY50-INDEX")
	ceSymbol := envOrDefault("CE_SYMBOL", "NSE:NIFTY25SEP24500CE")
	peSymbol := envOrDefault("PE_SYMBOL", "NSE:NIFTY25SEP24500PE")
	spotStart := envFloatOrDefault("SPOT_START", 24500)
	optionStart := envFloatOrDefault("OPTION_START", 180)
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 100)

	spot := instrument{Symbol: spotSymbol, Price: spotStart}
	legs := []instrument{
		{Symbol: ceSymbol, Price: optionStart, Delta: 0.5},
		{Symbol: peSymbol, Price: optionStart, Delta: -0.5},
	}

	log.Printf("[tickserver] spot: %s @ %.2f", spot.Symbol, spot.Price)
	for _, leg := range legs {
		log.Printf("[tickserver] leg:  %s @ %.2f (delta %+.1f)", leg.Symbol, leg.Price, leg.Delta)
	}
	log.Printf("[tickserver] broadcast interval: %dms", intervalMs)

	h := newHub()

	go runGenerator(h, spot, legs, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] ✅ listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
