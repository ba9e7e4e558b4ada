package wssim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"divergence-systemv1/internal/model"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestIngest_StreamsAndSkipsBadFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"price":1}`))
		for {
			msg := []byte(`{"symbol":"NSE:NIFTY50-INDEX","price":24500.5}`)
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}))
	defer srv.Close()

	ing, err := New(Config{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []model.Tick
	done := make(chan struct{})
	go func() {
		defer close(done)
		ing.Start(ctx, func(tk model.Tick) bool {
			mu.Lock()
			got = append(got, tk)
			n := len(got)
			mu.Unlock()
			if n == 5 {
				cancel()
			}
			return true
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ingest did not stop on cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) < 5 {
		t.Fatalf("expected 5 ticks, got %d", len(got))
	}
	for _, tk := range got[:5] {
		if tk.Symbol != "NSE:NIFTY50-INDEX" || tk.Price != 24500.5 {
			t.Fatalf("unexpected tick %+v", tk)
		}
	}
}

func TestIngest_ReconnectsAfterDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// One tick per connection, then drop.
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"symbol":"NSE:NIFTY50-INDEX","price":24501}`))
		conn.Close()
	}))
	defer srv.Close()

	ing, err := New(Config{URL: wsURL(srv), ReconnectDelay: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var reconnects atomic.Int32
	ing.OnReconnect = func() { reconnects.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		ing.Start(ctx, func(model.Tick) bool {
			if ticks.Add(1) == 3 {
				cancel()
			}
			return true
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ingest did not stop on cancel")
	}

	if ticks.Load() < 3 {
		t.Fatalf("expected 3 ticks across reconnects, got %d", ticks.Load())
	}
	if reconnects.Load() < 2 {
		t.Errorf("expected at least 2 reconnect attempts, got %d", reconnects.Load())
	}
}
