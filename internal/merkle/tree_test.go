package merkle

import (
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"stealthpool/internal/field"
)

func leaf(v uint64) [32]byte {
	return field.FromUint64(v).BytesLE()
}

func beHex(b [32]byte) string {
	var be [32]byte
	for i := range b {
		be[i] = b[31-i]
	}
	return hex.EncodeToString(be[:])
}

func TestEmptyTree(t *testing.T) {
	tree, err := New(DefaultDepth)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	const z20 = "2134e76ac5d21aab186c2be1dd8f84ee880a1e46eaf712f9d371b6df22191f3e"
	if got := beHex(tree.Root()); got != z20 {
		t.Fatalf("empty root = %s, want %s", got, z20)
	}
	if !tree.IsValidRoot(tree.Root()) {
		t.Error("empty root should be valid")
	}
	if tree.IsValidRoot([32]byte{}) {
		t.Error("zero root must never be valid")
	}
}

func TestKnownRoot(t *testing.T) {
	tree, _ := New(DefaultDepth)
	for i := uint64(1); i <= 3; i++ {
		idx, err := tree.Insert(leaf(i))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if idx != i-1 {
			t.Fatalf("index = %d, want %d", idx, i-1)
		}
	}
	const want = "2483316ece47e1b749c99d144d80bd18122eae426205d8319bddd189ddd999d0"
	if got := beHex(tree.Root()); got != want {
		t.Fatalf("root = %s, want %s", got, want)
	}
}

func TestSameLeavesSameRoot(t *testing.T) {
	a, _ := New(8)
	b, _ := New(8)
	for i := uint64(0); i < 13; i++ {
		a.Insert(leaf(i * 31))
		b.Insert(leaf(i * 31))
	}
	if a.Root() != b.Root() {
		t.Fatal("identical insertion sequences produced different roots")
	}
}

func TestRootHistoryBound(t *testing.T) {
	tree, _ := New(DefaultDepth)
	roots := [][32]byte{tree.Root()}
	for i := 0; i < RootHistorySize+5; i++ {
		if _, err := tree.Insert(leaf(uint64(i + 1))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		roots = append(roots, tree.Root())
	}
	n := len(roots) - 1

	t.Run("current", func(t *testing.T) {
		if !tree.IsValidRoot(roots[n]) {
			t.Error("current root rejected")
		}
	})
	t.Run("K-1 inserts ago", func(t *testing.T) {
		if !tree.IsValidRoot(roots[n-(RootHistorySize-1)]) {
			t.Error("recent root rejected")
		}
	})
	t.Run("K inserts ago", func(t *testing.T) {
		if !tree.IsValidRoot(roots[n-RootHistorySize]) {
			t.Error("oldest archived root rejected")
		}
	})
	t.Run("K+1 inserts ago", func(t *testing.T) {
		if tree.IsValidRoot(roots[n-(RootHistorySize+1)]) {
			t.Error("evicted root accepted")
		}
	})
}

func TestTreeFull(t *testing.T) {
	tree, _ := New(2)
	for i := 0; i < 4; i++ {
		if _, err := tree.Insert(leaf(uint64(i))); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	before := tree.State()
	if _, err := tree.Insert(leaf(99)); !errors.Is(err, ErrTreeFull) {
		t.Fatalf("err = %v, want ErrTreeFull", err)
	}
	after := tree.State()
	if before.Root != after.Root || before.NextIndex != after.NextIndex ||
		before.RootHistoryIndex != after.RootHistoryIndex {
		t.Fatal("state changed on rejected insert")
	}
}

func TestInvalidDepth(t *testing.T) {
	for _, d := range []int{0, -1, MaxDepth + 1} {
		if _, err := New(d); !errors.Is(err, ErrInvalidDepth) {
			t.Errorf("depth %d: err = %v", d, err)
		}
	}
}

func TestStateRestore(t *testing.T) {
	tree, _ := New(10)
	for i := 0; i < 7; i++ {
		tree.Insert(leaf(uint64(i + 100)))
	}
	restored, err := Restore(tree.State())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Root() != tree.Root() {
		t.Fatal("restored root differs")
	}
	tree.Insert(leaf(5))
	restored.Insert(leaf(5))
	if restored.Root() != tree.Root() {
		t.Fatal("restored tree diverged after insert")
	}

	bad := tree.State()
	bad.FilledSubtrees = bad.FilledSubtrees[:3]
	if _, err := Restore(bad); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestPaths(t *testing.T) {
	const depth = 6
	tree, _ := New(depth)
	var leaves [][32]byte
	for i := 0; i < 11; i++ {
		l := leaf(uint64(1000 + i))
		leaves = append(leaves, l)
		tree.Insert(l)
	}

	for i := range leaves {
		p, err := BuildPath(depth, leaves, uint64(i))
		if err != nil {
			t.Fatalf("BuildPath(%d): %v", i, err)
		}
		if p.Root(leaves[i]) != tree.Root() {
			t.Fatalf("path %d does not reach the tree root", i)
		}
		if p.Root(leaf(1)) == tree.Root() {
			t.Fatalf("path %d accepted a foreign leaf", i)
		}
	}

	if _, err := BuildPath(depth, leaves, 11); !errors.Is(err, ErrLeafIndex) {
		t.Fatalf("err = %v, want ErrLeafIndex", err)
	}
}

func TestConcurrentInsertAndRead(t *testing.T) {
	tree, _ := New(12)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := tree.Insert(leaf(uint64(w*100 + i + 1))); err != nil {
					t.Error(err)
				}
				tree.IsValidRoot(tree.Root())
			}
		}(w)
	}
	wg.Wait()
	if tree.NextIndex() != 100 {
		t.Fatalf("NextIndex = %d, want 100", tree.NextIndex())
	}
}
