// ledger.go - Account balances behind pool deposits and withdrawals.
//
// The pool never touches balances directly; it submits transfer legs to a
// Ledger, which applies all legs of one call atomically or none of them.
// MemoryLedger is the in-process implementation.

package pool

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/mr-tron/base58"
)

// AccountID identifies a ledger account (an ed25519 public key or a derived
// pool address).
type AccountID [32]byte

// String returns the base58 form.
func (a AccountID) String() string {
	return base58.Encode(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AccountID) UnmarshalText(b []byte) error {
	id, err := ParseAccountID(string(b))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// ParseAccountID decodes a base58 account.
func ParseAccountID(s string) (AccountID, error) {
	var id AccountID
	raw, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("account %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("account %q: length %d", s, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// PoolAccount derives the custody account of a denomination's pool.
func PoolAccount(denomination uint64) AccountID {
	h := sha256.New()
	h.Write([]byte("stealthsol_pool"))
	var d [8]byte
	binary.LittleEndian.PutUint64(d[:], denomination)
	h.Write(d[:])
	var id AccountID
	copy(id[:], h.Sum(nil))
	return id
}

// Leg is one movement of funds.
type Leg struct {
	From   AccountID
	To     AccountID
	Amount uint64
}

// Ledger moves funds between accounts.
type Ledger interface {
	// Transfer applies every leg or none. A shortfall on any leg returns
	// ErrInsufficientFunds.
	Transfer(ctx context.Context, legs ...Leg) error
	Balance(ctx context.Context, account AccountID) (uint64, error)
}

// MemoryLedger is a mutex-guarded balance map.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[AccountID]uint64
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[AccountID]uint64)}
}

// Credit adds funds from outside the system (faucet, test setup).
func (l *MemoryLedger) Credit(account AccountID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account] > math.MaxUint64-amount {
		return fmt.Errorf("credit %s: balance overflow", account)
	}
	l.balances[account] += amount
	return nil
}

// Transfer implements Ledger.
func (l *MemoryLedger) Transfer(ctx context.Context, legs ...Leg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	// 1. Apply to a scratch copy of the touched balances
	scratch := make(map[AccountID]uint64, 2*len(legs))
	get := func(a AccountID) uint64 {
		if v, ok := scratch[a]; ok {
			return v
		}
		return l.balances[a]
	}
	for i, leg := range legs {
		from := get(leg.From)
		if from < leg.Amount {
			return fmt.Errorf("%w: leg %d needs %d, %s has %d", ErrInsufficientFunds, i, leg.Amount, leg.From, from)
		}
		scratch[leg.From] = from - leg.Amount
		to := get(leg.To)
		if to > math.MaxUint64-leg.Amount {
			return fmt.Errorf("leg %d: balance overflow for %s", i, leg.To)
		}
		scratch[leg.To] = to + leg.Amount
	}

	// 2. Commit
	for a, v := range scratch {
		l.balances[a] = v
	}
	return nil
}

// Balance implements Ledger.
func (l *MemoryLedger) Balance(ctx context.Context, account AccountID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

// Balances returns a copy of every non-zero balance.
func (l *MemoryLedger) Balances() map[AccountID]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[AccountID]uint64, len(l.balances))
	for a, v := range l.balances {
		if v > 0 {
			out[a] = v
		}
	}
	return out
}

// Replace swaps in a full set of balances, as read back from Balances.
func (l *MemoryLedger) Replace(balances map[AccountID]uint64) {
	m := make(map[AccountID]uint64, len(balances))
	for a, v := range balances {
		m[a] = v
	}
	l.mu.Lock()
	l.balances = m
	l.mu.Unlock()
}
