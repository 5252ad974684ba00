package index

import (
	"fmt"

	"github.com/RamonZhou/MiniSQL/internal/storage/buffer"
	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// Config fixes one tree's shape at construction time: every index owns
// its own KeyWidth (chosen by ChooseKeyWidth from its key columns) and
// its own per-node capacities.
type Config struct {
	IndexID         int32
	KeyWidth        int
	LeafMaxSize     int
	InternalMaxSize int
}

// BPlusTree is a disk-backed B+ tree index: point lookup, ordered range
// iteration, insert-with-split, and remove-with-redistribute-or-coalesce,
// all routed through the buffer pool: nodes are fetched and pinned on
// demand and unpinned when each step is done.
type BPlusTree struct {
	pool   *buffer.PoolManager
	cfg    Config
	rootID page.PageID
}

// OpenBPlusTree attaches to (or creates) cfg.IndexID's entry on the
// fixed index roots page.
func OpenBPlusTree(pool *buffer.PoolManager, cfg Config) (*BPlusTree, error) {
	t := &BPlusTree{pool: pool, cfg: cfg, rootID: page.InvalidID}
	frame, err := pool.FetchPage(page.IndexRootsPageID)
	if err != nil {
		return nil, fmt.Errorf("index: open tree %d: fetch roots page: %w", cfg.IndexID, err)
	}
	if frame == nil {
		return nil, fmt.Errorf("index: open tree %d: buffer pool exhausted", cfg.IndexID)
	}
	rp := WrapIndexRootsPage(frame.Data)
	t.rootID = rp.GetRootID(cfg.IndexID)
	pool.UnpinPage(page.IndexRootsPageID, false)
	return t, nil
}

func (t *BPlusTree) minSize(maxSize int) int { return maxSize / 2 }

func (t *BPlusTree) updateRootPageID(newRoot page.PageID) error {
	frame, err := t.pool.FetchPage(page.IndexRootsPageID)
	if err != nil {
		return fmt.Errorf("index: update root: fetch roots page: %w", err)
	}
	if frame == nil {
		return fmt.Errorf("index: update root: buffer pool exhausted")
	}
	rp := WrapIndexRootsPage(frame.Data)
	if !rp.Update(t.cfg.IndexID, newRoot) {
		rp.Insert(t.cfg.IndexID, newRoot)
	}
	t.pool.UnpinPage(page.IndexRootsPageID, true)
	t.rootID = newRoot
	return nil
}

// IsEmpty reports whether the tree currently holds no entries.
func (t *BPlusTree) IsEmpty() bool { return !t.rootID.Valid() }

func (t *BPlusTree) isLeafPage(buf []byte) bool { return nodePageType(buf) == nodeKindLeaf }

// findLeaf descends from the root to the leaf that would hold key,
// leaving no pages pinned on return.
func (t *BPlusTree) findLeaf(key Key) (page.PageID, error) {
	if t.IsEmpty() {
		return page.InvalidID, fmt.Errorf("index: tree is empty")
	}
	cur := t.rootID
	for {
		frame, err := t.pool.FetchPage(cur)
		if err != nil {
			return page.InvalidID, fmt.Errorf("index: find leaf: fetch %s: %w", cur, err)
		}
		if frame == nil {
			return page.InvalidID, fmt.Errorf("index: find leaf: buffer pool exhausted")
		}
		if t.isLeafPage(frame.Data) {
			t.pool.UnpinPage(cur, false)
			return cur, nil
		}
		ip := WrapInternalPage(frame.Data, t.cfg.KeyWidth)
		next := ip.Lookup(key)
		t.pool.UnpinPage(cur, false)
		cur = next
	}
}

// GetValue looks up key, reporting whether it was found.
func (t *BPlusTree) GetValue(key Key) (page.RowID, bool, error) {
	if t.IsEmpty() {
		return page.InvalidRowID, false, nil
	}
	leafID, err := t.findLeaf(key)
	if err != nil {
		return page.InvalidRowID, false, err
	}
	frame, err := t.pool.FetchPage(leafID)
	if err != nil {
		return page.InvalidRowID, false, fmt.Errorf("index: get value: fetch leaf %s: %w", leafID, err)
	}
	if frame == nil {
		return page.InvalidRowID, false, fmt.Errorf("index: get value: buffer pool exhausted")
	}
	lp := WrapLeafPage(frame.Data, t.cfg.KeyWidth)
	rid, ok := lp.Lookup(key)
	t.pool.UnpinPage(leafID, false)
	return rid, ok, nil
}

// Insert places (key, value), splitting nodes up the tree as needed.
// Reports false without error if key is already present.
func (t *BPlusTree) Insert(key Key, value page.RowID) (bool, error) {
	if t.IsEmpty() {
		return true, t.startNewTree(key, value)
	}
	leafID, err := t.findLeaf(key)
	if err != nil {
		return false, err
	}
	return t.insertIntoLeaf(leafID, key, value)
}

func (t *BPlusTree) startNewTree(key Key, value page.RowID) error {
	frame, id, err := t.pool.NewPage()
	if err != nil {
		return fmt.Errorf("index: start new tree: allocate leaf: %w", err)
	}
	if frame == nil {
		return fmt.Errorf("index: start new tree: buffer pool exhausted")
	}
	lp := InitLeafPage(frame.Data, t.cfg.KeyWidth, id, page.InvalidID, t.cfg.LeafMaxSize)
	lp.Insert(key, value)
	t.pool.UnpinPage(id, true)
	return t.updateRootPageID(id)
}

func (t *BPlusTree) insertIntoLeaf(leafID page.PageID, key Key, value page.RowID) (bool, error) {
	frame, err := t.pool.FetchPage(leafID)
	if err != nil {
		return false, fmt.Errorf("index: insert: fetch leaf %s: %w", leafID, err)
	}
	if frame == nil {
		return false, fmt.Errorf("index: insert: buffer pool exhausted")
	}
	lp := WrapLeafPage(frame.Data, t.cfg.KeyWidth)
	if _, ok := lp.Lookup(key); ok {
		t.pool.UnpinPage(leafID, false)
		return false, nil
	}
	newSize, _ := lp.Insert(key, value)
	if newSize < lp.MaxSize() {
		t.pool.UnpinPage(leafID, true)
		return true, nil
	}

	siblingFrame, siblingID, err := t.pool.NewPage()
	if err != nil {
		t.pool.UnpinPage(leafID, true)
		return false, fmt.Errorf("index: insert: allocate sibling leaf: %w", err)
	}
	if siblingFrame == nil {
		t.pool.UnpinPage(leafID, true)
		return false, fmt.Errorf("index: insert: buffer pool exhausted")
	}
	sibling := InitLeafPage(siblingFrame.Data, t.cfg.KeyWidth, siblingID, lp.ParentPageID(), t.cfg.LeafMaxSize)
	lp.MoveHalfTo(sibling)
	sepKey := sibling.KeyAt(0)
	t.pool.UnpinPage(leafID, true)
	t.pool.UnpinPage(siblingID, true)

	if err := t.insertIntoParent(leafID, sepKey, siblingID); err != nil {
		return false, err
	}
	return true, nil
}

// setParent rewrites a node's stored parent pointer, used whenever a
// child is reparented to a new (or split) internal node.
func (t *BPlusTree) setParent(child, newParent page.PageID) error {
	frame, err := t.pool.FetchPage(child)
	if err != nil {
		return fmt.Errorf("index: set parent: fetch %s: %w", child, err)
	}
	if frame == nil {
		return fmt.Errorf("index: set parent: buffer pool exhausted")
	}
	setNodeParentPageID(frame.Data, newParent)
	t.pool.UnpinPage(child, true)
	return nil
}

func (t *BPlusTree) reparent() reparentFn { return t.setParent }

// insertIntoParent inserts the (sepKey, rightID) entry after leftID in
// leftID's parent, splitting that parent in turn if it overflows, and
// propagating upward until an insert fits or a new root is created.
func (t *BPlusTree) insertIntoParent(leftID page.PageID, sepKey Key, rightID page.PageID) error {
	frame, err := t.pool.FetchPage(leftID)
	if err != nil {
		return fmt.Errorf("index: insert into parent: fetch %s: %w", leftID, err)
	}
	if frame == nil {
		return fmt.Errorf("index: insert into parent: buffer pool exhausted")
	}
	parentID := nodeParentPageID(frame.Data)
	t.pool.UnpinPage(leftID, false)

	if !parentID.Valid() {
		rootFrame, rootID, err := t.pool.NewPage()
		if err != nil {
			return fmt.Errorf("index: insert into parent: allocate new root: %w", err)
		}
		if rootFrame == nil {
			return fmt.Errorf("index: insert into parent: buffer pool exhausted")
		}
		root := InitInternalPage(rootFrame.Data, t.cfg.KeyWidth, rootID, page.InvalidID, t.cfg.InternalMaxSize)
		root.PopulateNewRoot(leftID, sepKey, rightID)
		t.pool.UnpinPage(rootID, true)
		if err := t.setParent(leftID, rootID); err != nil {
			return err
		}
		if err := t.setParent(rightID, rootID); err != nil {
			return err
		}
		return t.updateRootPageID(rootID)
	}

	parentFrame, err := t.pool.FetchPage(parentID)
	if err != nil {
		return fmt.Errorf("index: insert into parent: fetch parent %s: %w", parentID, err)
	}
	if parentFrame == nil {
		return fmt.Errorf("index: insert into parent: buffer pool exhausted")
	}
	parent := WrapInternalPage(parentFrame.Data, t.cfg.KeyWidth)
	parent.InsertNodeAfter(leftID, sepKey, rightID)
	newSize := parent.Size()
	if newSize <= parent.MaxSize() {
		t.pool.UnpinPage(parentID, true)
		return t.setParent(rightID, parentID)
	}

	siblingFrame, siblingID, err := t.pool.NewPage()
	if err != nil {
		t.pool.UnpinPage(parentID, true)
		return fmt.Errorf("index: insert into parent: allocate sibling internal: %w", err)
	}
	if siblingFrame == nil {
		t.pool.UnpinPage(parentID, true)
		return fmt.Errorf("index: insert into parent: buffer pool exhausted")
	}
	sibling := InitInternalPage(siblingFrame.Data, t.cfg.KeyWidth, siblingID, parent.ParentPageID(), t.cfg.InternalMaxSize)
	if err := parent.MoveHalfTo(sibling, t.reparent()); err != nil {
		t.pool.UnpinPage(parentID, true)
		t.pool.UnpinPage(siblingID, true)
		return err
	}
	upSepKey := sibling.KeyAt(0)
	t.pool.UnpinPage(parentID, true)
	t.pool.UnpinPage(siblingID, true)

	return t.insertIntoParent(parentID, upSepKey, siblingID)
}

// Remove deletes key, redistributing or coalescing underflowing nodes
// on the way back up. Returns ErrKeyNotFound if key is absent.
func (t *BPlusTree) Remove(key Key) error {
	if t.IsEmpty() {
		return ErrKeyNotFound
	}
	leafID, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	frame, err := t.pool.FetchPage(leafID)
	if err != nil {
		return fmt.Errorf("index: remove: fetch leaf %s: %w", leafID, err)
	}
	if frame == nil {
		return fmt.Errorf("index: remove: buffer pool exhausted")
	}
	lp := WrapLeafPage(frame.Data, t.cfg.KeyWidth)
	if _, ok := lp.Lookup(key); !ok {
		t.pool.UnpinPage(leafID, false)
		return ErrKeyNotFound
	}
	removedFirst := lp.KeyIndex(key) == 0
	newSize := lp.RemoveAndDeleteRecord(key)
	underflow := newSize < t.minSize(lp.MaxSize())
	child, parentID, newFirst := leafID, lp.ParentPageID(), lp.KeyAt(0)
	t.pool.UnpinPage(leafID, true)

	// Removing a leaf's first key changes its subtree minimum: refresh the
	// ancestor key that records it, climbing while the child is entry 0.
	for i := 0; i == 0 && removedFirst && newSize > 0 && parentID.Valid(); {
		pf, err := t.pool.FetchPage(parentID)
		if err != nil || pf == nil {
			return fmt.Errorf("index: remove: fetch ancestor %s: %v", parentID, err)
		}
		p := WrapInternalPage(pf.Data, t.cfg.KeyWidth)
		if i = p.ValueIndex(child); i > 0 {
			p.SetKeyAt(i, newFirst)
		}
		child, parentID = parentID, p.ParentPageID()
		t.pool.UnpinPage(child, i > 0)
	}

	if underflow {
		return t.coalesceOrRedistribute(leafID)
	}
	return nil
}

func (t *BPlusTree) nodeMeta(id page.PageID) (size, maxSize int, parentID page.PageID, isLeaf bool, err error) {
	frame, ferr := t.pool.FetchPage(id)
	if ferr != nil {
		return 0, 0, page.InvalidID, false, fmt.Errorf("index: node meta: fetch %s: %w", id, ferr)
	}
	if frame == nil {
		return 0, 0, page.InvalidID, false, fmt.Errorf("index: node meta: buffer pool exhausted")
	}
	size = nodeSize(frame.Data)
	maxSize = nodeMaxSize(frame.Data)
	parentID = nodeParentPageID(frame.Data)
	isLeaf = t.isLeafPage(frame.Data)
	t.pool.UnpinPage(id, false)
	return size, maxSize, parentID, isLeaf, nil
}

// coalesceOrRedistribute handles an underflowed node: the root is
// adjusted directly; otherwise a sibling is found and either merged in
// (coalesce) or used to top the node back up (redistribute), per
// whether the combined size fits in one node.
func (t *BPlusTree) coalesceOrRedistribute(nodeID page.PageID) error {
	if nodeID == t.rootID {
		return t.adjustRoot()
	}

	_, _, parentID, isLeaf, err := t.nodeMeta(nodeID)
	if err != nil {
		return err
	}
	parentFrame, err := t.pool.FetchPage(parentID)
	if err != nil {
		return fmt.Errorf("index: coalesce or redistribute: fetch parent %s: %w", parentID, err)
	}
	if parentFrame == nil {
		return fmt.Errorf("index: coalesce or redistribute: buffer pool exhausted")
	}
	parent := WrapInternalPage(parentFrame.Data, t.cfg.KeyWidth)
	idx := parent.ValueIndex(nodeID)
	t.pool.UnpinPage(parentID, false)
	if idx < 0 {
		return fmt.Errorf("index: coalesce or redistribute: node %s not found in parent %s", nodeID, parentID)
	}

	var leftID, rightID page.PageID
	var fromRight bool
	if idx == 0 {
		leftID, rightID = nodeID, parent.ValueAt(1)
		fromRight = true
	} else {
		leftID, rightID = parent.ValueAt(idx-1), nodeID
		fromRight = false
	}

	leftSize, leftMax, _, _, err := t.nodeMeta(leftID)
	if err != nil {
		return err
	}
	rightSize, _, _, _, err := t.nodeMeta(rightID)
	if err != nil {
		return err
	}

	if leftSize+rightSize <= leftMax {
		return t.coalesce(leftID, rightID, parentID, isLeaf)
	}
	return t.redistribute(leftID, rightID, parentID, fromRight, isLeaf)
}

// redistribute borrows one entry across leftID/rightID so neither
// underflows, keeping the parent's separator key consistent with the
// tree's leftmost-key invariant.
func (t *BPlusTree) redistribute(leftID, rightID, parentID page.PageID, fromRight, isLeaf bool) error {
	parentFrame, err := t.pool.FetchPage(parentID)
	if err != nil {
		return fmt.Errorf("index: redistribute: fetch parent %s: %w", parentID, err)
	}
	if parentFrame == nil {
		return fmt.Errorf("index: redistribute: buffer pool exhausted")
	}
	parent := WrapInternalPage(parentFrame.Data, t.cfg.KeyWidth)
	rightIdx := parent.ValueIndex(rightID)

	leftFrame, err := t.pool.FetchPage(leftID)
	if err != nil {
		t.pool.UnpinPage(parentID, false)
		return fmt.Errorf("index: redistribute: fetch left %s: %w", leftID, err)
	}
	rightFrame, err := t.pool.FetchPage(rightID)
	if err != nil {
		t.pool.UnpinPage(parentID, false)
		t.pool.UnpinPage(leftID, false)
		return fmt.Errorf("index: redistribute: fetch right %s: %w", rightID, err)
	}

	if isLeaf {
		left := WrapLeafPage(leftFrame.Data, t.cfg.KeyWidth)
		right := WrapLeafPage(rightFrame.Data, t.cfg.KeyWidth)
		if fromRight {
			right.MoveFirstToEndOf(left)
			parent.SetKeyAt(rightIdx, right.KeyAt(0))
		} else {
			left.MoveLastToFrontOf(right)
			parent.SetKeyAt(rightIdx, right.KeyAt(0))
		}
	} else {
		left := WrapInternalPage(leftFrame.Data, t.cfg.KeyWidth)
		right := WrapInternalPage(rightFrame.Data, t.cfg.KeyWidth)
		if fromRight {
			middleKey := parent.KeyAt(rightIdx)
			nextKey := right.KeyAt(1)
			if err := right.MoveFirstToEndOf(left, middleKey, t.reparent()); err != nil {
				t.pool.UnpinPage(parentID, false)
				t.pool.UnpinPage(leftID, true)
				t.pool.UnpinPage(rightID, true)
				return err
			}
			parent.SetKeyAt(rightIdx, nextKey)
		} else {
			middleKey := parent.KeyAt(rightIdx)
			if err := left.MoveLastToFrontOf(right, middleKey, t.reparent()); err != nil {
				t.pool.UnpinPage(parentID, false)
				t.pool.UnpinPage(leftID, true)
				t.pool.UnpinPage(rightID, true)
				return err
			}
			// Entry 0 now carries the donor's key, the minimum of the
			// subtree that just arrived; lift it into the separator.
			parent.SetKeyAt(rightIdx, right.KeyAt(0))
		}
	}

	t.pool.UnpinPage(parentID, true)
	t.pool.UnpinPage(leftID, true)
	t.pool.UnpinPage(rightID, true)
	return nil
}

// coalesce merges rightID fully into leftID, removes rightID's entry
// from the parent (recursing if that underflows the parent in turn),
// and deallocates rightID.
func (t *BPlusTree) coalesce(leftID, rightID, parentID page.PageID, isLeaf bool) error {
	parentFrame, err := t.pool.FetchPage(parentID)
	if err != nil {
		return fmt.Errorf("index: coalesce: fetch parent %s: %w", parentID, err)
	}
	if parentFrame == nil {
		return fmt.Errorf("index: coalesce: buffer pool exhausted")
	}
	parent := WrapInternalPage(parentFrame.Data, t.cfg.KeyWidth)
	rightIdx := parent.ValueIndex(rightID)
	middleKey := parent.KeyAt(rightIdx)

	leftFrame, err := t.pool.FetchPage(leftID)
	if err != nil {
		t.pool.UnpinPage(parentID, false)
		return fmt.Errorf("index: coalesce: fetch left %s: %w", leftID, err)
	}
	rightFrame, err := t.pool.FetchPage(rightID)
	if err != nil {
		t.pool.UnpinPage(parentID, false)
		t.pool.UnpinPage(leftID, false)
		return fmt.Errorf("index: coalesce: fetch right %s: %w", rightID, err)
	}

	if isLeaf {
		left := WrapLeafPage(leftFrame.Data, t.cfg.KeyWidth)
		right := WrapLeafPage(rightFrame.Data, t.cfg.KeyWidth)
		right.MoveAllTo(left)
	} else {
		left := WrapInternalPage(leftFrame.Data, t.cfg.KeyWidth)
		right := WrapInternalPage(rightFrame.Data, t.cfg.KeyWidth)
		if err := right.MoveAllTo(left, middleKey, t.reparent()); err != nil {
			t.pool.UnpinPage(parentID, true)
			t.pool.UnpinPage(leftID, true)
			t.pool.UnpinPage(rightID, true)
			return err
		}
	}
	t.pool.UnpinPage(leftID, true)
	t.pool.UnpinPage(rightID, true)
	if _, err := t.pool.DeletePage(rightID); err != nil {
		t.pool.UnpinPage(parentID, true)
		return fmt.Errorf("index: coalesce: deallocate right %s: %w", rightID, err)
	}

	parent.Remove(rightIdx)
	parentSize := parent.Size()
	parentUnderflow := parentID != t.rootID && parentSize < t.minSize(parent.MaxSize())
	t.pool.UnpinPage(parentID, true)

	if parentUnderflow {
		return t.coalesceOrRedistribute(parentID)
	}
	if parentID == t.rootID {
		return t.adjustRoot()
	}
	return nil
}

// adjustRoot collapses the root when it has shrunk to a single child
// (internal root) or become empty (leaf root), keeping the tree's
// height-reduction rule.
func (t *BPlusTree) adjustRoot() error {
	frame, err := t.pool.FetchPage(t.rootID)
	if err != nil {
		return fmt.Errorf("index: adjust root: fetch %s: %w", t.rootID, err)
	}
	if frame == nil {
		return fmt.Errorf("index: adjust root: buffer pool exhausted")
	}
	isLeaf := t.isLeafPage(frame.Data)
	size := nodeSize(frame.Data)

	if !isLeaf && size == 1 {
		ip := WrapInternalPage(frame.Data, t.cfg.KeyWidth)
		onlyChild := ip.RemoveAndReturnOnlyChild()
		oldRoot := t.rootID
		t.pool.UnpinPage(oldRoot, true)
		if err := t.setParent(onlyChild, page.InvalidID); err != nil {
			return err
		}
		if _, err := t.pool.DeletePage(oldRoot); err != nil {
			return fmt.Errorf("index: adjust root: deallocate old root %s: %w", oldRoot, err)
		}
		return t.updateRootPageID(onlyChild)
	}

	if isLeaf && size == 0 {
		oldRoot := t.rootID
		t.pool.UnpinPage(oldRoot, false)
		if _, err := t.pool.DeletePage(oldRoot); err != nil {
			return fmt.Errorf("index: adjust root: deallocate empty root %s: %w", oldRoot, err)
		}
		return t.updateRootPageID(page.InvalidID)
	}

	t.pool.UnpinPage(t.rootID, false)
	return nil
}

// Destroy deallocates every page of the tree and clears its roots entry.
func (t *BPlusTree) Destroy() error {
	if t.IsEmpty() {
		return nil
	}
	if err := t.destroySubtree(t.rootID); err != nil {
		return err
	}
	frame, err := t.pool.FetchPage(page.IndexRootsPageID)
	if err != nil {
		return fmt.Errorf("index: destroy: fetch roots page: %w", err)
	}
	if frame == nil {
		return fmt.Errorf("index: destroy: buffer pool exhausted")
	}
	rp := WrapIndexRootsPage(frame.Data)
	rp.Delete(t.cfg.IndexID)
	t.pool.UnpinPage(page.IndexRootsPageID, true)
	t.rootID = page.InvalidID
	return nil
}

func (t *BPlusTree) destroySubtree(id page.PageID) error {
	frame, err := t.pool.FetchPage(id)
	if err != nil {
		return fmt.Errorf("index: destroy subtree: fetch %s: %w", id, err)
	}
	if frame == nil {
		return fmt.Errorf("index: destroy subtree: buffer pool exhausted")
	}
	if t.isLeafPage(frame.Data) {
		t.pool.UnpinPage(id, false)
		_, err := t.pool.DeletePage(id)
		return err
	}
	ip := WrapInternalPage(frame.Data, t.cfg.KeyWidth)
	children := make([]page.PageID, ip.Size())
	for i := range children {
		children[i] = ip.ValueAt(i)
	}
	t.pool.UnpinPage(id, false)
	for _, c := range children {
		if err := t.destroySubtree(c); err != nil {
			return err
		}
	}
	_, err = t.pool.DeletePage(id)
	return err
}

// Iterator walks leaves left to right in key order via the next-leaf
// chain, not restartable once exhausted.
type Iterator struct {
	tree   *BPlusTree
	leafID page.PageID
	idx    int
}

// Begin positions an iterator at the tree's smallest key.
func (t *BPlusTree) Begin() (*Iterator, error) {
	if t.IsEmpty() {
		return t.End(), nil
	}
	cur := t.rootID
	for {
		frame, err := t.pool.FetchPage(cur)
		if err != nil {
			return nil, fmt.Errorf("index: begin: fetch %s: %w", cur, err)
		}
		if frame == nil {
			return nil, fmt.Errorf("index: begin: buffer pool exhausted")
		}
		if t.isLeafPage(frame.Data) {
			t.pool.UnpinPage(cur, false)
			return &Iterator{tree: t, leafID: cur, idx: 0}, nil
		}
		ip := WrapInternalPage(frame.Data, t.cfg.KeyWidth)
		next := ip.ValueAt(0)
		t.pool.UnpinPage(cur, false)
		cur = next
	}
}

// BeginAt positions an iterator at the first key >= key.
func (t *BPlusTree) BeginAt(key Key) (*Iterator, error) {
	if t.IsEmpty() {
		return t.End(), nil
	}
	leafID, err := t.findLeaf(key)
	if err != nil {
		return nil, err
	}
	frame, err := t.pool.FetchPage(leafID)
	if err != nil {
		return nil, fmt.Errorf("index: begin at: fetch leaf %s: %w", leafID, err)
	}
	if frame == nil {
		return nil, fmt.Errorf("index: begin at: buffer pool exhausted")
	}
	lp := WrapLeafPage(frame.Data, t.cfg.KeyWidth)
	idx := lp.KeyIndex(key)
	t.pool.UnpinPage(leafID, false)
	it := &Iterator{tree: t, leafID: leafID, idx: idx}
	it.skipToNonEmptyLeaf()
	return it, nil
}

// End returns the canonical exhausted-iterator sentinel.
func (t *BPlusTree) End() *Iterator { return &Iterator{tree: t, leafID: page.InvalidID} }

func (it *Iterator) skipToNonEmptyLeaf() {
	for it.leafID.Valid() {
		frame, err := it.tree.pool.FetchPage(it.leafID)
		if err != nil || frame == nil {
			it.leafID = page.InvalidID
			return
		}
		lp := WrapLeafPage(frame.Data, it.tree.cfg.KeyWidth)
		size := lp.Size()
		next := lp.NextPageID()
		it.tree.pool.UnpinPage(it.leafID, false)
		if it.idx < size {
			return
		}
		it.leafID = next
		it.idx = 0
	}
}

// Valid reports whether the iterator currently references an entry.
func (it *Iterator) Valid() bool { return it.leafID.Valid() }

// Item returns the iterator's current (key, row id) pair.
func (it *Iterator) Item() (Key, page.RowID, error) {
	frame, err := it.tree.pool.FetchPage(it.leafID)
	if err != nil {
		return nil, page.InvalidRowID, fmt.Errorf("index: iterator item: fetch %s: %w", it.leafID, err)
	}
	if frame == nil {
		return nil, page.InvalidRowID, fmt.Errorf("index: iterator item: buffer pool exhausted")
	}
	lp := WrapLeafPage(frame.Data, it.tree.cfg.KeyWidth)
	k, v := lp.GetItem(it.idx)
	it.tree.pool.UnpinPage(it.leafID, false)
	return k, v, nil
}

// Next advances the iterator to the following entry, crossing leaf
// boundaries via the next-leaf chain as needed.
func (it *Iterator) Next() error {
	if !it.leafID.Valid() {
		return nil
	}
	it.idx++
	it.skipToNonEmptyLeaf()
	return nil
}
