// Package ledger is the canonical per-city, per-resource balance store.
// It is the only component that mutates balances; the market, upkeep, and
// NPC passes all go through its contract. Balances are exact int64 unit
// counts — no floating accumulation across ticks.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInsufficientBalance marks a failed resource debit.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrInsufficientFunds marks a failed currency debit.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ShortfallError reports a debit that would have driven a balance
// negative. The balance is left unchanged.
type ShortfallError struct {
	CityID   int64
	Resource string
	Need     int64
	Have     int64
	currency bool
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("city %d: %s: need %d, have %d", e.CityID, e.Resource, e.Need, e.Have)
}

func (e *ShortfallError) Unwrap() error {
	if e.currency {
		return ErrInsufficientFunds
	}
	return ErrInsufficientBalance
}

// InvariantError reports a negative balance observed outside a controlled
// debit path. Always fatal: the tick that detects it must not commit.
type InvariantError struct {
	CityID   int64
	Resource string
	Balance  int64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation: city %d holds %d %s", e.CityID, e.Balance, e.Resource)
}

type account struct {
	mu       sync.Mutex
	balances map[string]int64
}

// Ledger holds all balances. Operations on different cities run
// concurrently; operations on the same city serialize on its account
// lock, which is what keeps debit checks atomic.
type Ledger struct {
	currency string

	mu       sync.RWMutex // guards the accounts map, not balances
	accounts map[int64]*account
}

// New creates an empty ledger. currency names the resource whose
// shortfalls unwrap to ErrInsufficientFunds.
func New(currency string) *Ledger {
	return &Ledger{
		currency: currency,
		accounts: make(map[int64]*account),
	}
}

func (l *Ledger) account(cityID int64) *account {
	l.mu.RLock()
	a, ok := l.accounts[cityID]
	l.mu.RUnlock()
	if ok {
		return a
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok = l.accounts[cityID]; ok {
		return a
	}
	a = &account{balances: make(map[string]int64)}
	l.accounts[cityID] = a
	return a
}

// Credit increases a balance. amount must be positive.
func (l *Ledger) Credit(cityID int64, resource string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit %s to city %d: non-positive amount %d", resource, cityID, amount)
	}
	a := l.account(cityID)
	a.mu.Lock()
	a.balances[resource] += amount
	a.mu.Unlock()
	return nil
}

// Debit decreases a balance, failing with a ShortfallError and leaving
// state untouched when the balance is short. amount must be positive.
func (l *Ledger) Debit(cityID int64, resource string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit %s from city %d: non-positive amount %d", resource, cityID, amount)
	}
	a := l.account(cityID)
	a.mu.Lock()
	defer a.mu.Unlock()
	have := a.balances[resource]
	if have < amount {
		return &ShortfallError{
			CityID:   cityID,
			Resource: resource,
			Need:     amount,
			Have:     have,
			currency: resource == l.currency,
		}
	}
	a.balances[resource] = have - amount
	return nil
}

// Transfer moves amount from one city to another as a single atomic unit:
// if the debit fails, no credit happens. Both accounts are locked in ID
// order so concurrent transfers cannot deadlock.
func (l *Ledger) Transfer(fromID, toID int64, resource string, amount int64) error {
	if fromID == toID {
		return fmt.Errorf("transfer %s: city %d cannot transfer to itself", resource, fromID)
	}
	if amount <= 0 {
		return fmt.Errorf("transfer %s from city %d: non-positive amount %d", resource, fromID, amount)
	}

	from := l.account(fromID)
	to := l.account(toID)

	first, second := from, to
	if toID < fromID {
		first, second = to, from
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	have := from.balances[resource]
	if have < amount {
		return &ShortfallError{
			CityID:   fromID,
			Resource: resource,
			Need:     amount,
			Have:     have,
			currency: resource == l.currency,
		}
	}
	from.balances[resource] = have - amount
	to.balances[resource] += amount
	return nil
}

// Balance returns a single balance. Missing accounts read as zero.
func (l *Ledger) Balance(cityID int64, resource string) int64 {
	l.mu.RLock()
	a, ok := l.accounts[cityID]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[resource]
}

// Balances returns a copy of one city's balances.
func (l *Ledger) Balances(cityID int64) map[string]int64 {
	l.mu.RLock()
	a, ok := l.accounts[cityID]
	l.mu.RUnlock()
	if !ok {
		return map[string]int64{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int64, len(a.balances))
	for res, bal := range a.balances {
		out[res] = bal
	}
	return out
}

// Snapshot returns a deep copy of every balance, keyed by city ID.
func (l *Ledger) Snapshot() map[int64]map[string]int64 {
	l.mu.RLock()
	ids := make([]int64, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make(map[int64]map[string]int64, len(ids))
	for _, id := range ids {
		out[id] = l.Balances(id)
	}
	return out
}

// Restore loads a persisted balance directly, replacing any current
// value. Only the store's recovery path uses this.
func (l *Ledger) Restore(cityID int64, resource string, balance int64) {
	a := l.account(cityID)
	a.mu.Lock()
	a.balances[resource] = balance
	a.mu.Unlock()
}

// CheckInvariants scans for negative balances. Any hit is an
// InvariantError and the caller must abort the tick.
func (l *Ledger) CheckInvariants() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, a := range l.accounts {
		a.mu.Lock()
		for res, bal := range a.balances {
			if bal < 0 {
				a.mu.Unlock()
				return &InvariantError{CityID: id, Resource: res, Balance: bal}
			}
		}
		a.mu.Unlock()
	}
	return nil
}
