// nullifier.go - Spent nullifier registry.

package pool

import (
	"sort"
	"sync"
	"time"
)

// NullifierRecord marks a spent note.
type NullifierRecord struct {
	Hash    [32]byte  `cbor:"1,keyasint" json:"hash"`
	SpentAt time.Time `cbor:"2,keyasint" json:"spent_at"`
}

// NullifierRegistry is the set of spent nullifier hashes for one pool.
type NullifierRegistry struct {
	mu    sync.Mutex
	spent map[[32]byte]time.Time
}

// NewNullifierRegistry creates an empty registry.
func NewNullifierRegistry() *NullifierRegistry {
	return &NullifierRegistry{spent: make(map[[32]byte]time.Time)}
}

// InsertIfAbsent records hash and reports whether it was new. The check and
// the insert happen under one lock, so of any number of concurrent callers
// with the same hash exactly one sees true.
func (r *NullifierRegistry) InsertIfAbsent(hash [32]byte, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.spent[hash]; ok {
		return false
	}
	r.spent[hash] = at
	return true
}

// Release undoes a reservation whose withdrawal failed afterwards.
func (r *NullifierRegistry) Release(hash [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.spent, hash)
}

// Contains reports whether hash is spent.
func (r *NullifierRegistry) Contains(hash [32]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.spent[hash]
	return ok
}

// Len returns the number of spent nullifiers.
func (r *NullifierRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spent)
}

// Records lists spent nullifiers ordered by spend time.
func (r *NullifierRegistry) Records() []NullifierRecord {
	r.mu.Lock()
	out := make([]NullifierRecord, 0, len(r.spent))
	for h, at := range r.spent {
		out = append(out, NullifierRecord{Hash: h, SpentAt: at})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SpentAt.Equal(out[j].SpentAt) {
			return string(out[i].Hash[:]) < string(out[j].Hash[:])
		}
		return out[i].SpentAt.Before(out[j].SpentAt)
	})
	return out
}

func (r *NullifierRegistry) restore(records []NullifierRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.spent[rec.Hash] = rec.SpentAt
	}
}
