// tree.go - incremental Poseidon Merkle accumulator with a bounded root history.
//
// Only the rightmost frontier (one filled subtree per level) is stored, so an
// insert costs Depth hashes and constant memory. Every root the tree has had in
// the last RootHistorySize inserts stays acceptable as a proof anchor.

package merkle

import (
	"errors"
	"fmt"
	"sync"

	"stealthpool/internal/field"
	"stealthpool/internal/poseidon"
)

const (
	// DefaultDepth gives 2^20 leaves per pool.
	DefaultDepth = 20
	// RootHistorySize is K, the number of archived roots.
	RootHistorySize = 30
	// MaxDepth bounds the leaf index to 63 bits.
	MaxDepth = 63
)

var (
	ErrTreeFull     = errors.New("merkle tree is full")
	ErrInvalidDepth = errors.New("invalid merkle tree depth")
	ErrInvalidState = errors.New("invalid merkle tree state")
	ErrLeafIndex    = errors.New("leaf index out of range")
)

var (
	zerosMu    sync.Mutex
	zerosCache = map[int][]field.Element{}
)

// zeroHashes returns Z[0..depth], Z[0] = 0 and Z[i] = H(Z[i-1], Z[i-1]).
func zeroHashes(depth int) []field.Element {
	zerosMu.Lock()
	defer zerosMu.Unlock()

	if z, ok := zerosCache[depth]; ok {
		return z
	}
	z := make([]field.Element, depth+1)
	for i := 1; i <= depth; i++ {
		z[i] = poseidon.Hash2(z[i-1], z[i-1])
	}
	zerosCache[depth] = z
	return z
}

// ZeroRoot returns the root of an empty tree of the given depth.
func ZeroRoot(depth int) [32]byte {
	return zeroHashes(depth)[depth].BytesLE()
}

// Tree is safe for concurrent use.
type Tree struct {
	mu sync.RWMutex

	depth     int
	zeros     []field.Element
	filled    []field.Element
	root      field.Element
	nextIndex uint64

	history      []field.Element
	historyIndex int
}

// New creates an empty tree.
func New(depth int) (*Tree, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	zeros := zeroHashes(depth)
	t := &Tree{
		depth:   depth,
		zeros:   zeros,
		filled:  make([]field.Element, depth),
		root:    zeros[depth],
		history: make([]field.Element, RootHistorySize),
	}
	copy(t.filled, zeros[:depth])
	return t, nil
}

// Depth returns the configured depth.
func (t *Tree) Depth() int {
	return t.depth
}

// Capacity returns 2^depth.
func (t *Tree) Capacity() uint64 {
	return uint64(1) << uint(t.depth)
}

// Insert appends a leaf and returns its index.
func (t *Tree) Insert(leaf [32]byte) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nextIndex >= t.Capacity() {
		return 0, ErrTreeFull
	}

	index := t.nextIndex
	cur := field.FromBytesLE(leaf[:])
	idx := index
	for level := 0; level < t.depth; level++ {
		if idx&1 == 0 {
			t.filled[level] = cur
			cur = poseidon.Hash2(cur, t.zeros[level])
		} else {
			cur = poseidon.Hash2(t.filled[level], cur)
		}
		idx >>= 1
	}

	// archive before the new root becomes visible
	t.history[t.historyIndex] = t.root
	t.historyIndex = (t.historyIndex + 1) % len(t.history)
	t.root = cur
	t.nextIndex++
	return index, nil
}

// Root returns the current root, little-endian.
func (t *Tree) Root() [32]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.BytesLE()
}

// NextIndex is the number of leaves inserted so far.
func (t *Tree) NextIndex() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextIndex
}

// IsValidRoot reports whether root is the current root or one of the last
// RootHistorySize archived roots. The all-zero root is never valid.
func (t *Tree) IsValidRoot(root [32]byte) bool {
	if root == ([32]byte{}) {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root.BytesLE() == root {
		return true
	}
	for _, h := range t.history {
		if h.IsZero() {
			continue
		}
		if h.BytesLE() == root {
			return true
		}
	}
	return false
}

// State is a serializable copy of the tree.
type State struct {
	Depth            int        `cbor:"1,keyasint" json:"depth"`
	NextIndex        uint64     `cbor:"2,keyasint" json:"next_index"`
	Root             [32]byte   `cbor:"3,keyasint" json:"root"`
	FilledSubtrees   [][32]byte `cbor:"4,keyasint" json:"filled_subtrees"`
	RootHistory      [][32]byte `cbor:"5,keyasint" json:"root_history"`
	RootHistoryIndex int        `cbor:"6,keyasint" json:"root_history_index"`
}

// State snapshots the tree.
func (t *Tree) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := State{
		Depth:            t.depth,
		NextIndex:        t.nextIndex,
		Root:             t.root.BytesLE(),
		FilledSubtrees:   make([][32]byte, len(t.filled)),
		RootHistory:      make([][32]byte, len(t.history)),
		RootHistoryIndex: t.historyIndex,
	}
	for i, f := range t.filled {
		s.FilledSubtrees[i] = f.BytesLE()
	}
	for i, h := range t.history {
		s.RootHistory[i] = h.BytesLE()
	}
	return s
}

// Restore rebuilds a tree from a snapshot.
func Restore(s State) (*Tree, error) {
	t, err := New(s.Depth)
	if err != nil {
		return nil, err
	}
	if len(s.FilledSubtrees) != s.Depth ||
		len(s.RootHistory) != RootHistorySize ||
		s.RootHistoryIndex < 0 || s.RootHistoryIndex >= RootHistorySize ||
		s.NextIndex > t.Capacity() {
		return nil, ErrInvalidState
	}
	for i, f := range s.FilledSubtrees {
		t.filled[i] = field.FromBytesLE(f[:])
	}
	for i, h := range s.RootHistory {
		t.history[i] = field.FromBytesLE(h[:])
	}
	t.root = field.FromBytesLE(s.Root[:])
	if t.root.BytesLE() != s.Root {
		return nil, fmt.Errorf("%w: non-canonical root", ErrInvalidState)
	}
	t.historyIndex = s.RootHistoryIndex
	t.nextIndex = s.NextIndex
	return t, nil
}
