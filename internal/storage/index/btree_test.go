package index

import (
	"path/filepath"
	"testing"

	"github.com/RamonZhou/MiniSQL/internal/storage/buffer"
	"github.com/RamonZhou/MiniSQL/internal/storage/diskmgr"
	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

func newTreeForTest(t *testing.T, leafMax, internalMax int) (*BPlusTree, *buffer.PoolManager) {
	t.Helper()
	dm, err := diskmgr.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("diskmgr.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	pool := buffer.NewPoolManager(dm, 64)
	tree, err := OpenBPlusTree(pool, Config{
		IndexID:         7,
		KeyWidth:        4,
		LeafMaxSize:     leafMax,
		InternalMaxSize: internalMax,
	})
	if err != nil {
		t.Fatalf("OpenBPlusTree: %v", err)
	}
	return tree, pool
}

func intKey(i int) Key {
	return EncodeFields([]page.Field{page.NewIntField(int32(i))}, 4)
}

func ridFor(i int) page.RowID {
	return page.RowID{PageID: page.PageID(i), Slot: uint32(i)}
}

func mustInsert(t *testing.T, tree *BPlusTree, i int) {
	t.Helper()
	ok, err := tree.Insert(intKey(i), ridFor(i))
	if err != nil {
		t.Fatalf("Insert(%d): %v", i, err)
	}
	if !ok {
		t.Fatalf("Insert(%d): duplicate reported for a fresh key", i)
	}
}

func TestBPlusTree_EmptyTreeBecomesSingleLeafRoot(t *testing.T) {
	tree, pool := newTreeForTest(t, 4, 4)
	if !tree.IsEmpty() {
		t.Fatal("fresh tree not empty")
	}
	if _, found, err := tree.GetValue(intKey(1)); err != nil || found {
		t.Fatalf("GetValue on empty tree: got (found=%v, err=%v)", found, err)
	}
	mustInsert(t, tree, 1)
	if tree.IsEmpty() {
		t.Fatal("tree empty after insert")
	}
	rid, found, err := tree.GetValue(intKey(1))
	if err != nil || !found || rid != ridFor(1) {
		t.Fatalf("GetValue(1): got (%v,%v,%v)", rid, found, err)
	}
	if err := tree.Remove(intKey(1)); err != nil {
		t.Fatalf("Remove(1): %v", err)
	}
	if !tree.IsEmpty() {
		t.Fatal("tree not empty after removing its last key")
	}
	if leaked := pool.CheckAllUnpinned(); leaked != nil {
		t.Fatalf("leaked pins: %v", leaked)
	}
}

func TestBPlusTree_DuplicateInsertRejected(t *testing.T) {
	tree, _ := newTreeForTest(t, 4, 4)
	mustInsert(t, tree, 5)
	ok, err := tree.Insert(intKey(5), ridFor(99))
	if err != nil {
		t.Fatalf("duplicate Insert: %v", err)
	}
	if ok {
		t.Fatal("duplicate Insert reported success")
	}
	rid, _, _ := tree.GetValue(intKey(5))
	if rid != ridFor(5) {
		t.Fatalf("duplicate Insert clobbered the value: got %v", rid)
	}
}

func TestBPlusTree_RemoveMissingKey(t *testing.T) {
	tree, _ := newTreeForTest(t, 4, 4)
	if err := tree.Remove(intKey(1)); err != ErrKeyNotFound {
		t.Fatalf("Remove on empty tree: got %v, want ErrKeyNotFound", err)
	}
	mustInsert(t, tree, 1)
	if err := tree.Remove(intKey(2)); err != ErrKeyNotFound {
		t.Fatalf("Remove of absent key: got %v, want ErrKeyNotFound", err)
	}
}

// Sequential insert then sequential remove at the smallest fan-out the
// tree supports, exercising split, redistribute, coalesce, and root
// adjustment across three thousand keys.
func TestBPlusTree_InsertRemoveRoundTrip(t *testing.T) {
	const n = 3000
	tree, pool := newTreeForTest(t, 4, 4)

	for i := 0; i < n; i++ {
		mustInsert(t, tree, i)
	}
	for i := 0; i < n; i++ {
		rid, found, err := tree.GetValue(intKey(i))
		if err != nil {
			t.Fatalf("GetValue(%d): %v", i, err)
		}
		if !found || rid != ridFor(i) {
			t.Fatalf("GetValue(%d): got (%v,%v), want (%v,true)", i, rid, found, ridFor(i))
		}
	}

	for i := 0; i < n; i++ {
		if err := tree.Remove(intKey(i)); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
		if _, found, _ := tree.GetValue(intKey(i)); found {
			t.Fatalf("GetValue(%d) after removal: still present", i)
		}
		// Spot-check the surviving neighbors rather than rescanning all.
		if i+1 < n {
			rid, found, err := tree.GetValue(intKey(i + 1))
			if err != nil || !found || rid != ridFor(i+1) {
				t.Fatalf("GetValue(%d) mid-removal: got (%v,%v,%v)", i+1, rid, found, err)
			}
		}
		if rid, found, _ := tree.GetValue(intKey(n - 1)); i < n-1 && (!found || rid != ridFor(n-1)) {
			t.Fatalf("GetValue(last) mid-removal at i=%d: got (%v,%v)", i, rid, found)
		}
	}
	if !tree.IsEmpty() {
		t.Fatal("tree not empty after removing every key")
	}
	if leaked := pool.CheckAllUnpinned(); leaked != nil {
		t.Fatalf("leaked pins: %v", leaked)
	}
}

// Descending removal keeps underflowing the rightmost child at every
// level, so rebalancing always borrows from (or merges with) the LEFT
// sibling — including at internal levels, where the parent's separator
// must be rewritten to the moved subtree's minimum key. Survivors are
// re-verified so a stale separator that misroutes lookups fails fast.
func TestBPlusTree_DescendingRemovalBorrowsFromLeft(t *testing.T) {
	const n = 600
	tree, pool := newTreeForTest(t, 4, 4)
	for i := 0; i < n; i++ {
		mustInsert(t, tree, i)
	}

	for i := n - 1; i >= 0; i-- {
		if err := tree.Remove(intKey(i)); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
		if _, found, _ := tree.GetValue(intKey(i)); found {
			t.Fatalf("GetValue(%d) after removal: still present", i)
		}
		if i > 0 {
			rid, found, err := tree.GetValue(intKey(i - 1))
			if err != nil || !found || rid != ridFor(i-1) {
				t.Fatalf("GetValue(%d) mid-removal: got (%v,%v,%v)", i-1, rid, found, err)
			}
		}
		// Periodically re-resolve every survivor end to end.
		if i%50 == 0 {
			for j := 0; j < i; j++ {
				rid, found, err := tree.GetValue(intKey(j))
				if err != nil || !found || rid != ridFor(j) {
					t.Fatalf("GetValue(%d) with %d keys left: got (%v,%v,%v)", j, i, rid, found, err)
				}
			}
		}
	}
	if !tree.IsEmpty() {
		t.Fatal("tree not empty after removing every key")
	}
	if leaked := pool.CheckAllUnpinned(); leaked != nil {
		t.Fatalf("leaked pins: %v", leaked)
	}
}

// Shuffled removal mixes left- and right-sibling rebalancing at every
// level.
func TestBPlusTree_ShuffledRemoval(t *testing.T) {
	const n = 600
	tree, pool := newTreeForTest(t, 4, 4)
	for i := 0; i < n; i++ {
		mustInsert(t, tree, i)
	}

	removed := make([]bool, n)
	for i := 0; i < n; i++ {
		k := (i * 389) % n // 389 is coprime to 600: every key exactly once
		if err := tree.Remove(intKey(k)); err != nil {
			t.Fatalf("Remove(%d): %v", k, err)
		}
		removed[k] = true
		if _, found, _ := tree.GetValue(intKey(k)); found {
			t.Fatalf("GetValue(%d) after removal: still present", k)
		}
		if i%50 == 0 {
			for j := 0; j < n; j++ {
				rid, found, err := tree.GetValue(intKey(j))
				if err != nil {
					t.Fatalf("GetValue(%d): %v", j, err)
				}
				if removed[j] == found {
					t.Fatalf("GetValue(%d) after %d removals: found=%v, want %v", j, i+1, found, !removed[j])
				}
				if found && rid != ridFor(j) {
					t.Fatalf("GetValue(%d): got %v, want %v", j, rid, ridFor(j))
				}
			}
		}
	}
	if !tree.IsEmpty() {
		t.Fatal("tree not empty after removing every key")
	}
	if leaked := pool.CheckAllUnpinned(); leaked != nil {
		t.Fatalf("leaked pins: %v", leaked)
	}
}

// In-order leaf traversal must yield keys strictly increasing no matter
// the insertion order.
func TestBPlusTree_IteratorYieldsSortedKeys(t *testing.T) {
	const n = 500
	tree, _ := newTreeForTest(t, 4, 4)
	// A decimated insertion order: neither sorted nor reverse sorted.
	for i := 0; i < n; i++ {
		mustInsert(t, tree, (i*7)%n)
	}

	it, err := tree.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var prev Key
	count := 0
	for it.Valid() {
		k, v, err := it.Item()
		if err != nil {
			t.Fatalf("Item: %v", err)
		}
		if prev != nil && CompareKeys(prev, k) >= 0 {
			t.Fatalf("iterator out of order at entry %d", count)
		}
		want := ridFor(count)
		if v != want {
			t.Fatalf("iterator entry %d: got %v, want %v", count, v, want)
		}
		prev = k
		count++
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if count != n {
		t.Fatalf("iterator yielded %d entries, want %d", count, n)
	}
}

func TestBPlusTree_BeginAt(t *testing.T) {
	tree, _ := newTreeForTest(t, 4, 4)
	for i := 0; i < 100; i += 2 {
		mustInsert(t, tree, i)
	}
	// Present key: lands exactly on it.
	it, err := tree.BeginAt(intKey(40))
	if err != nil {
		t.Fatalf("BeginAt(40): %v", err)
	}
	k, _, err := it.Item()
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if CompareKeys(k, intKey(40)) != 0 {
		t.Fatal("BeginAt(40) did not land on 40")
	}
	// Absent key: lands on the next larger one.
	it, err = tree.BeginAt(intKey(41))
	if err != nil {
		t.Fatalf("BeginAt(41): %v", err)
	}
	k, _, err = it.Item()
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if CompareKeys(k, intKey(42)) != 0 {
		t.Fatal("BeginAt(41) did not land on 42")
	}
	// Past the end: exhausted immediately.
	it, err = tree.BeginAt(intKey(99))
	if err != nil {
		t.Fatalf("BeginAt(99): %v", err)
	}
	if it.Valid() {
		t.Fatal("BeginAt past the last key is not exhausted")
	}
}

// The root page id on the fixed roots page must track root changes, so a
// tree reopened from the same pool sees the same contents.
func TestBPlusTree_ReopenFindsPersistedRoot(t *testing.T) {
	tree, pool := newTreeForTest(t, 4, 4)
	for i := 0; i < 200; i++ {
		mustInsert(t, tree, i)
	}
	reopened, err := OpenBPlusTree(pool, tree.cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	for i := 0; i < 200; i++ {
		rid, found, err := reopened.GetValue(intKey(i))
		if err != nil || !found || rid != ridFor(i) {
			t.Fatalf("reopened GetValue(%d): got (%v,%v,%v)", i, rid, found, err)
		}
	}
}

func TestBPlusTree_DestroyClearsRootsEntry(t *testing.T) {
	tree, pool := newTreeForTest(t, 4, 4)
	for i := 0; i < 100; i++ {
		mustInsert(t, tree, i)
	}
	if err := tree.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !tree.IsEmpty() {
		t.Fatal("tree not empty after Destroy")
	}
	reopened, err := OpenBPlusTree(pool, tree.cfg)
	if err != nil {
		t.Fatalf("reopen after Destroy: %v", err)
	}
	if !reopened.IsEmpty() {
		t.Fatal("roots page still maps the destroyed index")
	}
}

func TestLeafPage_SplitHalves(t *testing.T) {
	const width = 4
	left := InitLeafPage(make([]byte, page.Size), width, 1, page.InvalidID, 4)
	for i := 0; i < 5; i++ {
		left.Insert(intKey(i), ridFor(i))
	}
	right := InitLeafPage(make([]byte, page.Size), width, 2, page.InvalidID, 4)
	left.MoveHalfTo(right)
	if left.Size() != 3 || right.Size() != 2 {
		t.Fatalf("split sizes: got (%d,%d), want (3,2)", left.Size(), right.Size())
	}
	if left.NextPageID() != right.PageID() {
		t.Fatal("split did not thread the next-leaf chain")
	}
	if CompareKeys(right.KeyAt(0), intKey(3)) != 0 {
		t.Fatal("right sibling does not start at the split midpoint")
	}
}

func TestIndexRootsPage_InsertUpdateDelete(t *testing.T) {
	rp := InitIndexRootsPage(make([]byte, page.Size))
	if got := rp.GetRootID(3); got != page.InvalidID {
		t.Fatalf("GetRootID on empty page: got %v", got)
	}
	rp.Insert(3, 17)
	rp.Insert(8, 21)
	if got := rp.GetRootID(3); got != 17 {
		t.Fatalf("GetRootID(3): got %v, want 17", got)
	}
	if !rp.Update(3, 40) {
		t.Fatal("Update of a present entry failed")
	}
	if got := rp.GetRootID(3); got != 40 {
		t.Fatalf("GetRootID(3) after update: got %v, want 40", got)
	}
	if rp.Update(99, 1) {
		t.Fatal("Update of an absent entry succeeded")
	}
	if !rp.Delete(3) {
		t.Fatal("Delete of a present entry failed")
	}
	if got := rp.GetRootID(3); got != page.InvalidID {
		t.Fatalf("GetRootID after delete: got %v", got)
	}
	if got := rp.GetRootID(8); got != 21 {
		t.Fatalf("GetRootID(8) disturbed by delete: got %v", got)
	}
}
