// denomination.go - Denomination registry and the default amounts.

package pool

import (
	"fmt"
	"sort"
	"sync"
)

// LamportsPerSOL converts SOL amounts to the ledger unit.
const LamportsPerSOL uint64 = 1_000_000_000

const (
	MaxDenominations       = 16
	DefaultMinDenomination = LamportsPerSOL / 10
	DefaultMaxDenomination = 1000 * LamportsPerSOL
)

// DefaultDenominations are 0.1, 0.5, 1, 5, 10, 50, 100, 500 and 1000 SOL.
var DefaultDenominations = []uint64{
	LamportsPerSOL / 10,
	LamportsPerSOL / 2,
	LamportsPerSOL,
	5 * LamportsPerSOL,
	10 * LamportsPerSOL,
	50 * LamportsPerSOL,
	100 * LamportsPerSOL,
	500 * LamportsPerSOL,
	1000 * LamportsPerSOL,
}

func isDefaultDenomination(d uint64) bool {
	for _, v := range DefaultDenominations {
		if v == d {
			return true
		}
	}
	return false
}

// RegistryUpdate changes registry settings; nil fields are left alone.
type RegistryUpdate struct {
	AllowCustom *bool
	Min         *uint64
	Max         *uint64
}

// DenominationRegistry lists the amounts pools may be created for.
type DenominationRegistry struct {
	mu          sync.RWMutex
	enabled     []uint64
	allowCustom bool
	min, max    uint64
}

// NewDenominationRegistry starts with the defaults enabled.
func NewDenominationRegistry() *DenominationRegistry {
	return &DenominationRegistry{
		enabled: append([]uint64(nil), DefaultDenominations...),
		min:     DefaultMinDenomination,
		max:     DefaultMaxDenomination,
	}
}

// Add enables a denomination.
func (r *DenominationRegistry) Add(d uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d < r.min || d > r.max {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrDenominationOutOfRange, d, r.min, r.max)
	}
	if !r.allowCustom && !isDefaultDenomination(d) {
		return fmt.Errorf("%w: %d", ErrCustomDenominationsDisabled, d)
	}
	for _, v := range r.enabled {
		if v == d {
			return fmt.Errorf("%w: %d", ErrDenominationExists, d)
		}
	}
	if len(r.enabled) >= MaxDenominations {
		return ErrRegistryFull
	}
	r.enabled = append(r.enabled, d)
	return nil
}

// Remove disables a denomination.
func (r *DenominationRegistry) Remove(d uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.enabled {
		if v == d {
			r.enabled = append(r.enabled[:i], r.enabled[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrDenominationNotEnabled, d)
}

// IsEnabled reports whether d is registered.
func (r *DenominationRegistry) IsEnabled(d uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.enabled {
		if v == d {
			return true
		}
	}
	return false
}

// Enabled returns the registered denominations in ascending order.
func (r *DenominationRegistry) Enabled() []uint64 {
	r.mu.RLock()
	out := append([]uint64(nil), r.enabled...)
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Update applies settings changes. The bounds must stay non-empty.
func (r *DenominationRegistry) Update(u RegistryUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lo, hi := r.min, r.max
	if u.Min != nil {
		lo = *u.Min
	}
	if u.Max != nil {
		hi = *u.Max
	}
	if lo == 0 || hi < lo {
		return fmt.Errorf("%w: [%d, %d]", ErrDenominationOutOfRange, lo, hi)
	}
	r.min, r.max = lo, hi
	if u.AllowCustom != nil {
		r.allowCustom = *u.AllowCustom
	}
	return nil
}
