package bus

import (
	"context"
	"testing"
	"time"

	"divergence-systemv1/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe("sqlite")
	out2 := fo.Subscribe("redis")

	input := make(chan model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go fo.Run(ctx, input)

	candle := model.Candle{
		Symbol: "NSE:NIFTY24500PE",
		Open:   20,
		High:   23,
		Low:    19,
		Close:  22,
	}

	input <- candle
	time.Sleep(50 * time.Millisecond)

	select {
	case c := <-out1:
		if c.Symbol != "NSE:NIFTY24500PE" {
			t.Errorf("out1: expected NSE:NIFTY24500PE, got %s", c.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out1: timed out waiting for candle")
	}

	select {
	case c := <-out2:
		if c.Symbol != "NSE:NIFTY24500PE" {
			t.Errorf("out2: expected NSE:NIFTY24500PE, got %s", c.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out2: timed out waiting for candle")
	}

	cancel()
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New(1)
	fo.Subscribe("stalled") // never drained, capacity 1

	drops := map[string]int{}
	fo.OnDrop = func(name string) { drops[name]++ }

	input := make(chan model.Candle, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	for i := 0; i < 3; i++ {
		input <- model.Candle{Symbol: "X", Close: float64(i)}
	}
	time.Sleep(50 * time.Millisecond)

	if drops["stalled"] != 2 {
		t.Errorf("expected 2 drops for the saturated subscriber, got %d", drops["stalled"])
	}
	if q := fo.Saturation()["stalled"]; q[0] != 1 || q[1] != 1 {
		t.Errorf("expected queue depth 1 of 1, got %d of %d", q[0], q[1])
	}
}
