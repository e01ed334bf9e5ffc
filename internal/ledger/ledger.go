// Package ledger implements capital bookkeeping with transactional
// reserve/release semantics. The invariant 0 <= reserved <= total holds at
// every observable point; only the orchestrator's queue consumer mutates the
// ledger, but reads come from status handlers on other goroutines, so access
// is mutex-guarded.
package ledger

import (
	"fmt"
	"sync"

	"github.com/helioslabs/helios/internal/domain"
)

// Ledger tracks available and reserved capital in quote currency.
type Ledger struct {
	mu       sync.Mutex
	total    float64
	reserved float64
}

// New creates a Ledger with the given total capital.
func New(total float64) *Ledger {
	if total < 0 {
		total = 0
	}
	return &Ledger{total: total}
}

// Reserve sets aside amount for an execution. It fails fast rather than
// blocking: by the time Reserve is called the orchestrator already passed the
// capital admission gate, so a failure here indicates a race and is fatal to
// the opportunity, never retried.
func (l *Ledger) Reserve(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: reserve amount %.2f must be positive", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserved+amount > l.total {
		return fmt.Errorf("ledger: reserve %.2f with %.2f available: %w",
			amount, l.total-l.reserved, domain.ErrInsufficientCapital)
	}
	l.reserved += amount
	return nil
}

// Release returns previously reserved capital. Releasing more than is
// reserved clamps to zero so the invariant survives a double release.
func (l *Ledger) Release(amount float64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved -= amount
	if l.reserved < 0 {
		l.reserved = 0
	}
}

// Available returns total minus reserved capital.
func (l *Ledger) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total - l.reserved
}

// Reserved returns the currently reserved capital.
func (l *Ledger) Reserved() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserved
}

// Total returns the total capital.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// SetTotal adjusts total capital. Shrinking below the current reservation is
// rejected so the invariant cannot be broken by reconfiguration.
func (l *Ledger) SetTotal(total float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if total < l.reserved {
		return fmt.Errorf("ledger: total %.2f below reserved %.2f: %w",
			total, l.reserved, domain.ErrInsufficientCapital)
	}
	l.total = total
	return nil
}
