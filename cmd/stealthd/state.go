// state.go - Consistent persistence of pools, commitments and balances.
//
// Every state-changing request runs under the read side of one barrier.
// Save takes the write side, so the pool trees, nullifier sets, commitment
// registry and ledger balances it captures all reflect the same set of
// completed requests. The image is written to one file through a temp file
// and rename.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"stealthpool/internal/commitreveal"
	"stealthpool/internal/pool"
)

const stateVersion = 1

type balanceEntry struct {
	Account pool.AccountID `cbor:"1,keyasint"`
	Amount  uint64         `cbor:"2,keyasint"`
}

// persistedState is the on-disk image.
type persistedState struct {
	Version     uint8             `cbor:"1,keyasint"`
	SavedAt     time.Time         `cbor:"2,keyasint"`
	Pools       map[uint64][]byte `cbor:"3,keyasint"`
	Commitments []byte            `cbor:"4,keyasint"`
	Balances    []balanceEntry    `cbor:"5,keyasint"`
}

var stateEncMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// StateStore guards and persists the daemon's mutable state.
type StateStore struct {
	path    string
	manager *pool.Manager
	commits *commitreveal.Registry
	ledger  *pool.MemoryLedger

	mu sync.RWMutex
}

// NewStateStore creates a store writing to path.
func NewStateStore(path string, manager *pool.Manager, commits *commitreveal.Registry, ledger *pool.MemoryLedger) *StateStore {
	return &StateStore{path: path, manager: manager, commits: commits, ledger: ledger}
}

// Apply runs fn inside the barrier. Calls may run concurrently with each
// other but never with Save.
func (s *StateStore) Apply(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}

func (s *StateStore) capture() (*persistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pools, err := s.manager.SnapshotAll()
	if err != nil {
		return nil, err
	}
	commits, err := s.commits.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("commitments: %w", err)
	}
	st := &persistedState{
		Version:     stateVersion,
		SavedAt:     time.Now().UTC(),
		Pools:       pools,
		Commitments: commits,
	}
	for a, v := range s.ledger.Balances() {
		st.Balances = append(st.Balances, balanceEntry{Account: a, Amount: v})
	}
	return st, nil
}

// Save writes a consistent image of the state.
func (s *StateStore) Save() error {
	st, err := s.capture()
	if err != nil {
		return err
	}
	data, err := stateEncMode.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load restores the last saved image. It reports false when no image
// exists yet and leaves the state untouched.
func (s *StateStore) Load() (bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var st persistedState
	if err := cbor.Unmarshal(data, &st); err != nil {
		return false, fmt.Errorf("decode state: %w", err)
	}
	if st.Version != stateVersion {
		return false, fmt.Errorf("unsupported state version %d", st.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	balances := make(map[pool.AccountID]uint64, len(st.Balances))
	for _, b := range st.Balances {
		balances[b.Account] = b.Amount
	}
	if _, err := s.manager.RestoreAll(st.Pools); err != nil {
		return false, err
	}
	if err := s.commits.Restore(st.Commitments); err != nil {
		return false, err
	}
	s.ledger.Replace(balances)
	return true, nil
}
