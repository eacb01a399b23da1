// Package credit holds the session-scoped credit balance that successful
// extractions draw down.
package credit

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrInsufficient is returned when the balance cannot cover new work.
var ErrInsufficient = errors.New("insufficient credits")

// Overdraft decides what happens when work would take the balance below zero.
type Overdraft string

const (
	// OverdraftClamp lets every completion debit and floors the balance at 0.
	OverdraftClamp Overdraft = "clamp"
	// OverdraftRefuse refuses new work the balance cannot already cover.
	OverdraftRefuse Overdraft = "refuse"
)

// ParseOverdraft maps a config value to an Overdraft, defaulting to clamp.
func ParseOverdraft(s string) (Overdraft, error) {
	switch Overdraft(s) {
	case "", OverdraftClamp:
		return OverdraftClamp, nil
	case OverdraftRefuse:
		return OverdraftRefuse, nil
	}
	return "", errors.Newf("credit: unknown overdraft policy %q", s)
}

// Ledger is a local, optimistic mirror of the user's quota record. The
// authoritative value lives in the quota store.
type Ledger struct {
	mu        sync.Mutex
	balance   int
	debited   int
	overdraft Overdraft
}

// NewLedger seeds a ledger. Negative seeds are treated as zero.
func NewLedger(balance int, overdraft Overdraft) *Ledger {
	if balance < 0 {
		balance = 0
	}
	if overdraft == "" {
		overdraft = OverdraftClamp
	}
	return &Ledger{balance: balance, overdraft: overdraft}
}

// Balance returns the current balance.
func (l *Ledger) Balance() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Debited returns how many debits have been applied since the ledger was seeded.
func (l *Ledger) Debited() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debited
}

// Policy returns the overdraft policy.
func (l *Ledger) Policy() Overdraft { return l.overdraft }

// Debit removes n credits and returns the new balance. The balance never
// drops below zero; every call is counted even when it clamps.
func (l *Ledger) Debit(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		return l.balance
	}
	l.debited += n
	l.balance -= n
	if l.balance < 0 {
		l.balance = 0
	}
	return l.balance
}

// Available reports how many new items may be admitted given reserved
// in-flight items. Under the clamp policy there is no limit and -1 is returned.
func (l *Ledger) Available(reserved int) int {
	if l.overdraft != OverdraftRefuse {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if free := l.balance - reserved; free > 0 {
		return free
	}
	return 0
}
