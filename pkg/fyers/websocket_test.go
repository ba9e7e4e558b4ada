package fyers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"divergence-systemv1/internal/model"
)

func TestDataSocket_StreamsTicksAndSubscribesLive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "AB01234-100:token" {
			t.Errorf("auth header = %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Drain subscription requests so client writes never block.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for i := 0; ; i++ {
			frame := map[string]any{"symbol": "NSE:NIFTY24500CE", "ltp": 180.0 + float64(i%5)}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}))
	defer srv.Close()

	old := dataSocketURL
	dataSocketURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	defer func() { dataSocketURL = old }()

	s, err := NewDataSocket(SocketConfig{Token: "AB01234-100:token"})
	if err != nil {
		t.Fatalf("NewDataSocket: %v", err)
	}
	connected := make(chan struct{})
	s.OnConnect = func() { close(connected) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []model.Tick
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx, func(tk model.Tick) bool {
			mu.Lock()
			got = append(got, tk)
			n := len(got)
			mu.Unlock()
			if n == 10 {
				cancel()
			}
			return true
		})
	}()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("socket never connected")
	}

	// Rotation path: add symbols while frames are streaming, racing the
	// writes from the reader shutdown and the heartbeat.
	for i := 0; i < 20; i++ {
		sym := fmt.Sprintf("NSE:NIFTY%dCE", 24500+50*i)
		if err := s.Subscribe(sym); err != nil && ctx.Err() == nil {
			t.Fatalf("live subscribe: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("socket did not stop on cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) < 10 {
		t.Fatalf("expected at least 10 ticks, got %d", len(got))
	}
	if got[0].Symbol != "NSE:NIFTY24500CE" || got[0].Price != 180.0 {
		t.Errorf("unexpected first tick %+v", got[0])
	}
}

func TestDataSocket_RequiresToken(t *testing.T) {
	if _, err := NewDataSocket(SocketConfig{}); err == nil {
		t.Fatal("expected an error for an empty token")
	}
}
