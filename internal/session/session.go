// Package session owns the trading-day pipeline: it serializes the tick
// stream through an SPSC ring, drives candle aggregation, signal detection,
// trade resolution and strike rotation, and closes the day out with a report.
//
// All strategy state is touched only by the Run goroutine. Producers hand
// ticks over via Submit; everything downstream is single-threaded.
package session

import (
	"context"
	"log"
	"time"

	"divergence-systemv1/internal/ledger"
	"divergence-systemv1/internal/marketdata/agg"
	"divergence-systemv1/internal/model"
	"divergence-systemv1/internal/ringbuf"
	"divergence-systemv1/internal/strategy"
	"divergence-systemv1/internal/strikes"
	"divergence-systemv1/internal/trade"
)

// Config holds the session parameters.
type Config struct {
	SpotSymbol  string
	Interval    time.Duration // candle bucket width, e.g. 5m
	CapitalUnit float64       // per-trade sizing capital, e.g. 10000
	RingSize    int           // tick ring capacity, rounded to a power of two
}

// Session wires the aggregator, detector, pending book, trade manager,
// capital ledger and strike monitor into one tick-driven loop.
type Session struct {
	cfg Config

	ring   *ringbuf.Ring
	notify chan struct{}

	agg      *agg.Aggregator
	history  *strategy.History
	detector *strategy.Detector
	pending  *strategy.PendingBook
	trades   *trade.Manager
	ledger   *ledger.Ledger
	strikes  *strikes.Monitor // nil when rotation is disabled (backtests)

	signalsDetected int

	// Output-plane hooks, all invoked from the Run goroutine.
	OnCandle            func(c model.Candle)
	OnSignal            func(sig model.PendingSignal)
	OnTradeOpened       func(t model.Trade)
	OnTradeClosed       func(t model.Trade)
	OnTickDropped       func()
	OnLateTick          func()
	OnPairRotated       func(p strikes.Pair)
	OnSignalInvalidated func(sig model.PendingSignal)
}

// New builds a Session. monitor may be nil to disable strike rotation.
func New(cfg Config, led *ledger.Ledger, monitor *strikes.Monitor) *Session {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 8192
	}
	history := strategy.NewHistory()
	s := &Session{
		cfg:      cfg,
		ring:     ringbuf.New(cfg.RingSize),
		notify:   make(chan struct{}, 1),
		agg:      agg.New(cfg.Interval),
		history:  history,
		detector: strategy.NewDetector(history, cfg.SpotSymbol),
		pending:  strategy.NewPendingBook(),
		trades:   trade.NewManager(cfg.CapitalUnit),
		ledger:   led,
		strikes:  monitor,
	}

	s.agg.OnLateTick = func() {
		if s.OnLateTick != nil {
			s.OnLateTick()
		}
	}
	s.pending.OnTrigger = func(sig *model.PendingSignal, price float64, ts time.Time) {
		s.trades.Open(sig, price, ts)
	}
	s.pending.OnInvalidated = func(sig *model.PendingSignal) {
		if s.OnSignalInvalidated != nil {
			s.OnSignalInvalidated(*sig)
		}
	}
	s.trades.OnOpened = func(t model.Trade) {
		if s.OnTradeOpened != nil {
			s.OnTradeOpened(t)
		}
	}
	s.trades.OnClosed = func(t model.Trade) {
		s.ledger.ApplyPnL(t.PnL)
		if s.OnTradeClosed != nil {
			s.OnTradeClosed(t)
		}
	}
	if monitor != nil {
		p := monitor.Current()
		s.detector.SetPair(p.CE, p.PE)
	}
	return s
}

// SetPair points the detector at a new CE/PE pair. Safe only before Run or
// from within the Run goroutine's hooks.
func (s *Session) SetPair(ceSymbol, peSymbol string) {
	s.detector.SetPair(ceSymbol, peSymbol)
}

// Submit hands a tick to the session. Non-blocking: returns false and counts
// a drop when the ring is full or the tick is malformed.
func (s *Session) Submit(t model.Tick) bool {
	if !t.Valid() {
		return false
	}
	if !s.ring.Push(t) {
		if s.OnTickDropped != nil {
			s.OnTickDropped()
		}
		return false
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// Overflow returns the total ticks dropped on a full ring.
func (s *Session) Overflow() uint64 { return s.ring.Overflow() }

// Run drains the ring until ctx is cancelled. It is the only goroutine that
// touches strategy state.
func (s *Session) Run(ctx context.Context) {
	for {
		if t, ok := s.ring.Pop(); ok {
			s.processTick(t)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}
	}
}

// Process applies one tick synchronously. Replay-only entry point; never mix
// with a running Run goroutine.
func (s *Session) Process(t model.Tick) {
	s.processTick(t)
}

// PendingTrigger returns the live trigger level for symbol, if a pending
// signal exists. Used by the replayer to inject intra-bar breakout ticks.
func (s *Session) PendingTrigger(symbol string) (float64, bool) {
	sig, ok := s.pending.Get(symbol)
	if !ok {
		return 0, false
	}
	return sig.TriggerHigh, true
}

// processTick applies one tick in strict order: open trades resolve first,
// then pending signals, then candle aggregation and detection, then strike
// rotation. A tick that both breaks a stop and seals a candle does all of it
// in that order.
func (s *Session) processTick(t model.Tick) {
	s.trades.OnTick(t.Symbol, t.Price, t.TS)
	s.pending.OnTick(t.Symbol, t.Price, t.TS)

	if sealed, ok := s.agg.IngestTick(t.Symbol, t.Price, t.TS); ok {
		s.processCandle(sealed)
	}

	if s.strikes != nil && t.Symbol == s.cfg.SpotSymbol {
		if p, rotated := s.strikes.MaybeRotate(); rotated {
			s.detector.SetPair(p.CE, p.PE)
			if s.OnPairRotated != nil {
				s.OnPairRotated(p)
			}
		}
	}
}

func (s *Session) processCandle(c model.Candle) {
	if s.OnCandle != nil {
		s.OnCandle(c)
	}
	if sig := s.detector.OnCandle(c); sig != nil {
		s.signalsDetected++
		s.pending.Arm(sig)
		if s.OnSignal != nil {
			s.OnSignal(*sig)
		}
	}
}

// StartDay resets all per-session state for a fresh trading day. Candles in
// buckets before warmupUntil are tracked but never emitted, so the first
// partial bar after a mid-bar start cannot arm a signal.
func (s *Session) StartDay(warmupUntil time.Time) {
	log.Printf("[session] resetting for new trading day (warm-up until %s)",
		warmupUntil.Format("15:04:05"))
	s.agg.Reset()
	s.agg.WarmupUntil = warmupUntil
	s.history.Reset()
	s.pending.Clear()
	s.trades.ResetDay()
	s.ledger.ResetDaily()
	s.signalsDetected = 0
}

// EndDay force-closes carryover trades, flushes open candles to the output
// plane, persists capital and returns the daily report. Detection never runs
// on the flushed partial candles.
func (s *Session) EndDay(ts time.Time) Report {
	if n := s.trades.ForceCloseAll(ts); n > 0 {
		log.Printf("[session] force-closed %d carryover trades at EOD", n)
	}
	for _, c := range s.agg.FlushAll() {
		if s.OnCandle != nil {
			s.OnCandle(c)
		}
	}
	s.pending.Clear()

	if err := s.ledger.Save(ts); err != nil {
		log.Printf("[session] capital save failed: %v", err)
	}

	ce, pe := s.detector.Pair()
	return BuildReport(ts, ce, pe, s.signalsDetected, s.trades.Closed(), s.ledger)
}

// SignalsDetected returns the number of signals armed this session.
func (s *Session) SignalsDetected() int { return s.signalsDetected }

// OpenTrades returns the number of trades still open.
func (s *Session) OpenTrades() int { return s.trades.OpenCount() }

// ClosedTrades returns the trades closed this session.
func (s *Session) ClosedTrades() []model.Trade { return s.trades.Closed() }
