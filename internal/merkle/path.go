// path.go - Authentication paths for single leaves.

package merkle

import (
	"fmt"

	"stealthpool/internal/field"
	"stealthpool/internal/poseidon"
)

// Path is an authentication path for one leaf. Siblings[0] is the leaf's
// neighbour; bit i of Index tells whether the node at level i is a right child.
type Path struct {
	Index    uint64     `json:"index"`
	Siblings [][32]byte `json:"siblings"`
}

// BuildPath computes the path for leaves[index] in a tree of the given depth
// holding exactly leaves, in insertion order.
func BuildPath(depth int, leaves [][32]byte, index uint64) (*Path, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	if index >= uint64(len(leaves)) {
		return nil, fmt.Errorf("%w: %d of %d", ErrLeafIndex, index, len(leaves))
	}
	if uint64(len(leaves)) > uint64(1)<<uint(depth) {
		return nil, ErrTreeFull
	}

	zeros := zeroHashes(depth)
	layer := make([]field.Element, len(leaves))
	for i, l := range leaves {
		layer[i] = field.FromBytesLE(l[:])
	}

	p := &Path{Index: index, Siblings: make([][32]byte, depth)}
	idx := index
	for level := 0; level < depth; level++ {
		sib := idx ^ 1
		if sib < uint64(len(layer)) {
			p.Siblings[level] = layer[sib].BytesLE()
		} else {
			p.Siblings[level] = zeros[level].BytesLE()
		}

		next := make([]field.Element, (len(layer)+1)/2)
		for i := range next {
			left := layer[2*i]
			right := zeros[level]
			if 2*i+1 < len(layer) {
				right = layer[2*i+1]
			}
			next[i] = poseidon.Hash2(left, right)
		}
		layer = next
		idx >>= 1
	}
	return p, nil
}

// Root recomputes the root from a leaf along the path.
func (p *Path) Root(leaf [32]byte) [32]byte {
	cur := field.FromBytesLE(leaf[:])
	idx := p.Index
	for _, s := range p.Siblings {
		sib := field.FromBytesLE(s[:])
		if idx&1 == 0 {
			cur = poseidon.Hash2(cur, sib)
		} else {
			cur = poseidon.Hash2(sib, cur)
		}
		idx >>= 1
	}
	return cur.BytesLE()
}
