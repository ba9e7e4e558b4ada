// Package trade manages the paper-trade lifecycle: opening the dual-target
// pair on a triggered signal, resolving stops and targets tick-by-tick, and
// force-closing carryovers at end of day.
package trade

import (
	"log"
	"time"

	"divergence-systemv1/internal/model"
)

// slBuffer is subtracted from the signal candle low to place the stop just
// beyond the invalidation level.
const slBuffer = 0.25

// Manager owns all open and closed paper trades for the session. Not safe for
// concurrent use; owned by the session loop.
type Manager struct {
	capitalUnit float64

	active    []*model.Trade
	closed    []model.Trade
	lastPrice map[string]float64

	// OnOpened and OnClosed are journaling/ledger hooks. OnClosed runs
	// after the trade's PnL is final.
	OnOpened func(t model.Trade)
	OnClosed func(t model.Trade)
}

// NewManager creates a Manager sizing every trade as floor(capitalUnit /
// entry price) units.
func NewManager(capitalUnit float64) *Manager {
	return &Manager{
		capitalUnit: capitalUnit,
		lastPrice:   make(map[string]float64),
	}
}

// Open converts a triggered signal into a 1:1 and a 1:3 trade sharing entry,
// stop and quantity. It opens both or neither: an existing open trade on the
// symbol or a non-positive risk rejects the whole pair.
func (m *Manager) Open(sig *model.PendingSignal, execPrice float64, ts time.Time) bool {
	if m.HasOpen(sig.Symbol) {
		log.Printf("[trade] skipping %s: trade already open", sig.Symbol)
		return false
	}

	stop := sig.Origin.Low - slBuffer
	risk := execPrice - stop
	if risk <= 0 {
		log.Printf("[trade] invalid risk for %s: entry %.2f, sl %.2f", sig.Symbol, execPrice, stop)
		return false
	}

	qty := int64(m.capitalUnit / execPrice)
	if qty <= 0 {
		log.Printf("[trade] zero quantity for %s at %.2f, capital unit %.2f", sig.Symbol, execPrice, m.capitalUnit)
		return false
	}

	pair := []struct {
		variant string
		mult    float64
	}{
		{model.VariantOneToOne, 1.0},
		{model.VariantOneToThree, 3.0},
	}
	for _, p := range pair {
		t := &model.Trade{
			Symbol:      sig.Symbol,
			EntryTime:   ts,
			EntryPrice:  execPrice,
			StopLoss:    stop,
			Target:      execPrice + risk*p.mult,
			Quantity:    qty,
			Status:      model.StatusOpen,
			Variant:     p.variant,
			EntryReason: sig.Reason,
		}
		m.active = append(m.active, t)
		if m.OnOpened != nil {
			m.OnOpened(*t)
		}
	}
	log.Printf("[trade] trades taken: %s at %.2f (sl %.2f) qty %d | targets: 1:1=%.2f 1:3=%.2f",
		sig.Symbol, execPrice, stop, qty, execPrice+risk, execPrice+risk*3)
	return true
}

// OnTick resolves open trades on the symbol against the latest price. The
// stop is checked before the target, so a price at or below the stop always
// exits as a loss.
func (m *Manager) OnTick(symbol string, price float64, ts time.Time) {
	m.lastPrice[symbol] = price
	for _, t := range m.active {
		if t.Symbol != symbol || t.Status != model.StatusOpen {
			continue
		}
		switch {
		case price <= t.StopLoss:
			m.close(t, price, ts, model.ExitStopLoss)
		case price >= t.Target:
			m.close(t, price, ts, model.ExitTarget)
		}
	}
}

// ForceCloseAll closes every open trade at the last seen price for its symbol
// (entry price if none was seen). Nothing stays open across sessions.
func (m *Manager) ForceCloseAll(ts time.Time) int {
	n := 0
	for _, t := range m.active {
		if t.Status != model.StatusOpen {
			continue
		}
		price, ok := m.lastPrice[t.Symbol]
		if !ok {
			price = t.EntryPrice
		}
		m.close(t, price, ts, model.ExitCarryover)
		n++
	}
	return n
}

func (m *Manager) close(t *model.Trade, price float64, ts time.Time, reason string) {
	t.Status = model.StatusClosed
	t.ExitPrice = price
	t.ExitTime = ts
	t.ExitReason = reason
	t.PnL = (price - t.EntryPrice) * float64(t.Quantity)

	m.closed = append(m.closed, *t)
	log.Printf("[trade] closed (%s): %s pnl=%.2f reason=%s", t.Variant, t.Symbol, t.PnL, reason)
	if m.OnClosed != nil {
		m.OnClosed(*t)
	}
}

// OpenCount returns the number of trades still open.
func (m *Manager) OpenCount() int {
	n := 0
	for _, t := range m.active {
		if t.Status == model.StatusOpen {
			n++
		}
	}
	return n
}

// HasOpen reports whether any trade on symbol is still open.
func (m *Manager) HasOpen(symbol string) bool {
	for _, t := range m.active {
		if t.Symbol == symbol && t.Status == model.StatusOpen {
			return true
		}
	}
	return false
}

// Closed returns all trades closed this session, in close order.
func (m *Manager) Closed() []model.Trade { return m.closed }

// ResetDay clears all trade state for a new session.
func (m *Manager) ResetDay() {
	m.active = nil
	m.closed = nil
	m.lastPrice = make(map[string]float64)
}
