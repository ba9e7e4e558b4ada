package redis

import (
	"context"
	"log"
	"sync"

	"divergence-systemv1/internal/model"
)

// BufferedWriter runs every Redis write through the circuit breaker. While
// the breaker is open, writes queue locally as replayable closures; when it
// closes again the queue is drained in order. A bounded queue drops its
// oldest entry first, so a long outage loses old candles, not fresh trades.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu      sync.Mutex
	pending []func()
	maxBuf  int

	OnBuffer func()          // a write was queued
	OnFlush  func(count int) // the queue was drained
}

// NewBufferedWriter wraps w behind cb. The breaker's OnStateChange is chained
// so an existing observer (the metrics gauge) keeps firing.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer:  w,
		cb:      cb,
		ctx:     ctx,
		pending: make([]func(), 0, 256),
		maxBuf:  maxBufferSize,
	}

	chained := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if chained != nil {
			chained(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}
	return bw
}

// WriteCandle publishes a sealed candle, queueing it if the breaker is open.
func (bw *BufferedWriter) WriteCandle(c model.Candle) error {
	return bw.write(func() { bw.writer.writeCandle(bw.ctx, c) })
}

// WriteSignal publishes an armed signal.
func (bw *BufferedWriter) WriteSignal(sig model.PendingSignal) error {
	return bw.write(func() { bw.writer.writeSignal(bw.ctx, sig) })
}

// WriteTrade publishes a trade lifecycle event (ENTRY or EXIT).
func (bw *BufferedWriter) WriteTrade(event string, t model.Trade) error {
	return bw.write(func() { bw.writer.writeTrade(bw.ctx, event, t) })
}

func (bw *BufferedWriter) write(op func()) error {
	err := bw.cb.Execute(func() error {
		op() // the writer logs its own redis errors
		return nil
	})
	if err == ErrCircuitOpen {
		bw.enqueue(op)
		return nil // queued, not lost
	}
	return err
}

func (bw *BufferedWriter) enqueue(op func()) {
	bw.mu.Lock()
	if len(bw.pending) >= bw.maxBuf {
		bw.pending = bw.pending[1:]
	}
	bw.pending = append(bw.pending, op)
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays the queue against the recovered writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	queued := bw.pending
	bw.pending = make([]func(), 0, 256)
	bw.mu.Unlock()

	if len(queued) == 0 {
		return
	}
	for _, op := range queued {
		op()
	}
	log.Printf("[redis] replayed %d writes queued during the outage", len(queued))
	if bw.OnFlush != nil {
		bw.OnFlush(len(queued))
	}
}

// PendingCount reports how many writes are queued.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.pending)
}

// Underlying exposes the wrapped writer for direct calls (report publishing).
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
