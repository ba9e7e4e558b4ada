// Package bus broadcasts sealed candles from the session loop to the storage
// subscribers. Sends are non-blocking per subscriber, so a stalled SQLite or
// Redis writer can only lose its own candles, never stall the strategy path.
package bus

import (
	"context"
	"log"
	"sync"

	"divergence-systemv1/internal/model"
)

type subscriber struct {
	name string
	ch   chan model.Candle
}

// FanOut replicates one candle stream to every registered subscriber.
type FanOut struct {
	mu      sync.RWMutex
	subs    []subscriber
	bufSize int

	// OnDrop is called with the subscriber's name when its channel is full
	// and a candle is discarded for it.
	OnDrop func(name string)
}

// New creates a FanOut; each subscriber channel gets the given buffer size.
func New(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe registers a named consumer and returns its candle channel. The
// name keys drop metrics.
func (f *FanOut) Subscribe(name string) <-chan model.Candle {
	ch := make(chan model.Candle, f.bufSize)
	f.mu.Lock()
	f.subs = append(f.subs, subscriber{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Run pumps the input stream to all subscribers until ctx is cancelled or
// input is closed. Subscriber channels are closed on exit.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Candle) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.subs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-input:
			if !ok {
				return
			}
			f.deliver(candle)
		}
	}
}

func (f *FanOut) deliver(c model.Candle) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		select {
		case s.ch <- c:
		default:
			if f.OnDrop != nil {
				f.OnDrop(s.name)
			} else {
				log.Printf("[bus] %s saturated, dropping candle %s@%d",
					s.name, c.Symbol, c.BucketStart.Unix())
			}
		}
	}
}

// Saturation reports each subscriber's queue length against its capacity,
// keyed by name.
func (f *FanOut) Saturation() map[string][2]int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][2]int, len(f.subs))
	for _, s := range f.subs {
		out[s.name] = [2]int{len(s.ch), cap(s.ch)}
	}
	return out
}
