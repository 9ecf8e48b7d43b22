// manager.go - One pool per enabled denomination.

package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"stealthpool/internal/stealth"
)

// Manager owns one pool per enabled denomination. Pools share the ledger and
// verifier but nothing else.
type Manager struct {
	mu       sync.RWMutex
	pools    map[uint64]*Pool
	registry *DenominationRegistry
	ledger   Ledger
	verifier ProofVerifier
	opts     []Option
	log      zerolog.Logger
}

// NewManager creates a pool for every denomination enabled in registry.
func NewManager(registry *DenominationRegistry, ledger Ledger, verifier ProofVerifier, opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	m := &Manager{
		pools:    make(map[uint64]*Pool),
		registry: registry,
		ledger:   ledger,
		verifier: verifier,
		opts:     opts,
		log:      o.logger,
	}
	for _, d := range registry.Enabled() {
		if _, err := m.CreatePool(d); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the denomination registry.
func (m *Manager) Registry() *DenominationRegistry { return m.registry }

// Ledger returns the shared ledger.
func (m *Manager) Ledger() Ledger { return m.ledger }

// CreatePool adds a pool for an enabled denomination. Creating an existing
// pool returns it unchanged.
func (m *Manager) CreatePool(d uint64) (*Pool, error) {
	if !m.registry.IsEnabled(d) {
		return nil, fmt.Errorf("%w: %d", ErrDenominationNotEnabled, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[d]; ok {
		return p, nil
	}
	p, err := New(d, m.ledger, m.verifier, m.opts...)
	if err != nil {
		return nil, err
	}
	m.pools[d] = p
	m.log.Info().Uint64("denomination", d).Msg("pool created")
	return p, nil
}

// Pool returns the pool for denomination d.
func (m *Manager) Pool(d uint64) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[d]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrDenominationNotEnabled, d)
	}
	return p, nil
}

// Pools returns all pools ordered by denomination.
func (m *Manager) Pools() []*Pool {
	m.mu.RLock()
	out := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].denomination < out[j].denomination })
	return out
}

// Deposit routes a deposit to the pool matching amount.
func (m *Manager) Deposit(ctx context.Context, depositor AccountID, commitment [32]byte, amount uint64) (uint64, error) {
	p, err := m.Pool(amount)
	if err != nil {
		return 0, err
	}
	return p.Deposit(ctx, depositor, commitment, amount)
}

// Withdraw routes a withdrawal to the pool for denomination.
func (m *Manager) Withdraw(ctx context.Context, denomination uint64, req WithdrawRequest) (*Receipt, error) {
	p, err := m.Pool(denomination)
	if err != nil {
		return nil, err
	}
	return p.Withdraw(ctx, req)
}

// WithdrawToStealth routes a stealth withdrawal.
func (m *Manager) WithdrawToStealth(ctx context.Context, denomination uint64, req StealthWithdrawRequest) (*Receipt, error) {
	p, err := m.Pool(denomination)
	if err != nil {
		return nil, err
	}
	return p.WithdrawToStealth(ctx, req)
}

// Announcements collects all stealth announcements ordered by timestamp.
func (m *Manager) Announcements() []stealth.Announcement {
	var out []stealth.Announcement
	for _, p := range m.Pools() {
		out = append(out, p.Announcements(0)...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// SnapshotAll encodes every pool, keyed by denomination.
func (m *Manager) SnapshotAll() (map[uint64][]byte, error) {
	out := make(map[uint64][]byte)
	for _, p := range m.Pools() {
		data, err := p.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", p.denomination, err)
		}
		out[p.denomination] = data
	}
	return out, nil
}

// RestoreAll replaces pools with SnapshotAll output. Snapshots of
// denominations no longer enabled are skipped.
func (m *Manager) RestoreAll(snapshots map[uint64][]byte) (int, error) {
	restored := make(map[uint64]*Pool, len(snapshots))
	for d, data := range snapshots {
		if !m.registry.IsEnabled(d) {
			m.log.Warn().Uint64("denomination", d).Msg("skipping snapshot")
			continue
		}
		p, err := Restore(data, m.ledger, m.verifier, m.opts...)
		if err != nil {
			return 0, fmt.Errorf("restore %d: %w", d, err)
		}
		if p.denomination != d {
			return 0, fmt.Errorf("restore %d: snapshot is for %d", d, p.denomination)
		}
		restored[d] = p
	}
	m.mu.Lock()
	for d, p := range restored {
		m.pools[d] = p
	}
	m.mu.Unlock()
	return len(restored), nil
}
