// Package strikes tracks the at-the-money option pair and rotates it when the
// spot index drifts to a new strike.
package strikes

import (
	"log"
	"time"
)

// checkCooldown throttles option-chain lookups. Failed lookups consume the
// cooldown too, so a flapping upstream cannot be hammered.
const checkCooldown = 30 * time.Second

// Pair is an ATM CE/PE symbol pair with its strike.
type Pair struct {
	Strike float64
	CE     string
	PE     string
}

// PairProvider resolves the current ATM pair, typically from a broker option
// chain endpoint.
type PairProvider interface {
	ATMPair(spotSymbol string) (Pair, error)
}

// Monitor throttles PairProvider lookups and reports pair changes. Not safe
// for concurrent use; owned by the session loop.
type Monitor struct {
	provider   PairProvider
	spotSymbol string
	current    Pair
	lastCheck  time.Time

	now func() time.Time // injectable for tests
}

// NewMonitor creates a Monitor with no current pair. The first MaybeRotate
// call performs a lookup immediately.
func NewMonitor(provider PairProvider, spotSymbol string) *Monitor {
	return &Monitor{provider: provider, spotSymbol: spotSymbol, now: time.Now}
}

// Seed sets the current pair without a lookup, e.g. from session start.
func (m *Monitor) Seed(p Pair) {
	m.current = p
}

// Current returns the pair under watch.
func (m *Monitor) Current() Pair { return m.current }

// MaybeRotate checks whether the ATM pair changed. It returns the new pair
// and true only on an actual rotation; throttled calls, lookup failures and
// unchanged pairs return false. Lookup errors are logged, not returned, since
// rotation is advisory.
func (m *Monitor) MaybeRotate() (Pair, bool) {
	now := m.now()
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < checkCooldown {
		return Pair{}, false
	}
	m.lastCheck = now

	p, err := m.provider.ATMPair(m.spotSymbol)
	if err != nil {
		log.Printf("[strikes] rotation check failed: %v", err)
		return Pair{}, false
	}

	if p.CE == m.current.CE && p.PE == m.current.PE {
		return Pair{}, false
	}

	log.Printf("[strikes] ATM strike rotation: %.0f -> %.0f", m.current.Strike, p.Strike)
	log.Printf("[strikes]   CE: %s -> %s", m.current.CE, p.CE)
	log.Printf("[strikes]   PE: %s -> %s", m.current.PE, p.PE)
	m.current = p
	return p, true
}
