package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"SignalGate/internal/domain/models"
)

// MarginLock is margin reserved by an approval and not yet settled or released.
type MarginLock struct {
	ID       string    `json:"id"`
	Symbol   string    `json:"symbol"`
	Amount   float64   `json:"amount"`
	LockedAt time.Time `json:"locked_at"`
}

// ledger keeps available + used == total equity across every mutation.
// It is guarded by Manager.mu.
type ledger struct {
	totalEquity float64
	available   float64
	used        float64
	locks       map[string]MarginLock
}

func newLedger() *ledger {
	return &ledger{locks: make(map[string]MarginLock)}
}

func (l *ledger) pending() float64 {
	var sum float64
	for _, lk := range l.locks {
		sum += lk.Amount
	}
	return sum
}

// sync rebuilds balances from a portfolio snapshot while keeping
// outstanding locks reserved.
func (l *ledger) sync(equity, cash float64) {
	l.totalEquity = equity
	l.available = math.Max(0, cash-l.pending())
	l.used = equity - l.available
}

// setFunds applies an explicit funds refresh. Outstanding locks stay
// reserved, as in sync.
func (l *ledger) setFunds(equity, available float64) {
	l.totalEquity = equity
	l.available = math.Max(0, available-l.pending())
	l.used = equity - l.available
}

func (l *ledger) lock(symbol string, amount float64, now time.Time) MarginLock {
	lk := MarginLock{ID: uuid.NewString(), Symbol: symbol, Amount: amount, LockedAt: now}
	l.locks[lk.ID] = lk
	l.available -= amount
	l.used += amount
	return lk
}

func (l *ledger) lookup(id, symbol string) (MarginLock, error) {
	lk, ok := l.locks[id]
	if !ok {
		return MarginLock{}, fmt.Errorf("%w: no margin lock %q", models.ErrLedgerInconsistency, id)
	}
	if symbol != "" && lk.Symbol != symbol {
		return MarginLock{}, fmt.Errorf("%w: lock %q is for %s, not %s", models.ErrLedgerInconsistency, id, lk.Symbol, symbol)
	}
	return lk, nil
}

// settle keeps the lock as used margin, adjusted to the actual cost when known.
func (l *ledger) settle(lk MarginLock, actualCost float64) {
	delete(l.locks, lk.ID)
	if actualCost > 0 {
		diff := actualCost - lk.Amount
		l.available -= diff
		l.used += diff
	}
}

// release restores the locked amount to available.
func (l *ledger) release(lk MarginLock) {
	delete(l.locks, lk.ID)
	l.available += lk.Amount
	l.used -= lk.Amount
}
