// Package alerts watches live prices against a slow EMA and raises an alert
// whenever the last traded price comes within a configured percentage of it.
// Alerts are rate-limited per symbol so a price hovering at the EMA does not
// flood the notification channel.
package alerts

import (
	"log"
	"sync"
	"time"

	"divergence-systemv1/internal/model"
)

// defaultCooldown is the minimum gap between alerts for the same symbol.
const defaultCooldown = 5 * time.Minute

// EMA calculates an exponential moving average over sealed candle closes.
// O(1) per update, seeded with an SMA over the first period closes.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates an EMA with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

// Update feeds one sealed candle close.
func (e *EMA) Update(close float64) {
	e.count++
	if e.count <= e.period {
		e.sum += close
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = (close * e.multiplier) + (e.current * (1 - e.multiplier))
}

// Seed installs a previously computed EMA value, marking it ready. Used to
// carry yesterday's EMA across a restart instead of re-warming from scratch.
func (e *EMA) Seed(value float64) {
	e.current = value
	e.count = e.period
	e.sum = 0
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// Touch describes a price touching the EMA band.
type Touch struct {
	Symbol    string
	LTP       float64
	EMA       float64
	Period    int
	Threshold float64 // percent band that was breached
	At        time.Time
}

// Monitor tracks one EMA per watched symbol and fires OnTouch when the live
// price enters the threshold band around it. Safe for concurrent use: ticks
// arrive from the feed goroutine, candles from the session loop.
type Monitor struct {
	period    int
	threshold float64 // percent, e.g. 0.1 means within ±0.1% of the EMA
	cooldown  time.Duration

	mu        sync.Mutex
	emas      map[string]*EMA
	lastAlert map[string]time.Time

	// OnTouch is invoked at most once per cooldown window per symbol.
	OnTouch func(t Touch)
}

// NewMonitor creates a Monitor. threshold is the touch band in percent.
func NewMonitor(period int, threshold float64) *Monitor {
	return &Monitor{
		period:    period,
		threshold: threshold,
		cooldown:  defaultCooldown,
		emas:      make(map[string]*EMA),
		lastAlert: make(map[string]time.Time),
	}
}

// Watch registers a symbol. seedEMA > 0 installs a carried-over EMA value so
// touch checks start immediately; 0 warms up from sealed candles.
func (m *Monitor) Watch(symbol string, seedEMA float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := NewEMA(m.period)
	if seedEMA > 0 {
		e.Seed(seedEMA)
		log.Printf("[alerts] %s seeded with EMA %.2f", symbol, seedEMA)
	}
	m.emas[symbol] = e
}

// EMAValue returns the current EMA for symbol, and whether it is ready.
func (m *Monitor) EMAValue(symbol string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emas[symbol]
	if !ok || !e.Ready() {
		return 0, false
	}
	return e.Value(), true
}

// OnCandle folds a sealed candle close into the symbol's EMA. Candles for
// unwatched symbols are ignored.
func (m *Monitor) OnCandle(c model.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.emas[c.Symbol]; ok {
		e.Update(c.Close)
	}
}

// OnTick checks the live price against the EMA band and fires OnTouch when
// it is inside and the symbol's cooldown has elapsed.
func (m *Monitor) OnTick(symbol string, price float64, ts time.Time) {
	m.mu.Lock()
	e, ok := m.emas[symbol]
	if !ok || !e.Ready() {
		m.mu.Unlock()
		return
	}
	ema := e.Value()
	if ema == 0 {
		m.mu.Unlock()
		return
	}
	diffPct := (price - ema) / ema * 100
	if diffPct < 0 {
		diffPct = -diffPct
	}
	if diffPct > m.threshold {
		m.mu.Unlock()
		return
	}
	if last, seen := m.lastAlert[symbol]; seen && ts.Sub(last) < m.cooldown {
		m.mu.Unlock()
		return
	}
	m.lastAlert[symbol] = ts
	m.mu.Unlock()

	log.Printf("[alerts] %s LTP %.2f touched EMA(%d) %.2f (band ±%.2f%%)",
		symbol, price, m.period, ema, m.threshold)
	if m.OnTouch != nil {
		m.OnTouch(Touch{
			Symbol:    symbol,
			LTP:       price,
			EMA:       ema,
			Period:    m.period,
			Threshold: m.threshold,
			At:        ts,
		})
	}
}
