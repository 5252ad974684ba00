package index

import (
	"encoding/binary"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// leafHeaderSize extends the common node header with the next-leaf
// link used for range iteration.
const leafHeaderSize = nodeHeaderSize + 4

// LeafPage is a B+ tree leaf: a sorted, fixed-capacity array of
// (key, row_id) pairs, plus a link to the next leaf in key order.
type LeafPage struct {
	buf      []byte
	keyWidth int
}

func leafEntrySize(keyWidth int) int { return keyWidth + page.RowIDSize }

// MaxLeafSize returns the largest leaf max_size a page can physically
// hold for the given key width.
func MaxLeafSize(keyWidth int) int {
	return (page.Size - leafHeaderSize) / leafEntrySize(keyWidth)
}

func (lp *LeafPage) entryOffset(i int) int {
	return leafHeaderSize + i*leafEntrySize(lp.keyWidth)
}

// WrapLeafPage views an existing page buffer as a LeafPage.
func WrapLeafPage(buf []byte, keyWidth int) *LeafPage {
	return &LeafPage{buf: buf, keyWidth: keyWidth}
}

// InitLeafPage zeroes buf and writes a fresh leaf header.
func InitLeafPage(buf []byte, keyWidth int, id, parentID page.PageID, maxSize int) *LeafPage {
	for i := range buf {
		buf[i] = 0
	}
	lp := &LeafPage{buf: buf, keyWidth: keyWidth}
	setNodePageType(buf, nodeKindLeaf)
	setNodeSize(buf, 0)
	setNodeMaxSize(buf, maxSize)
	setNodeParentPageID(buf, parentID)
	setNodePageID(buf, id)
	lp.SetNextPageID(page.InvalidID)
	return lp
}

func (lp *LeafPage) PageID() page.PageID           { return nodePageID(lp.buf) }
func (lp *LeafPage) ParentPageID() page.PageID     { return nodeParentPageID(lp.buf) }
func (lp *LeafPage) SetParentPageID(id page.PageID) { setNodeParentPageID(lp.buf, id) }
func (lp *LeafPage) Size() int                     { return nodeSize(lp.buf) }
func (lp *LeafPage) setSize(v int)                  { setNodeSize(lp.buf, v) }
func (lp *LeafPage) MaxSize() int                  { return nodeMaxSize(lp.buf) }

func (lp *LeafPage) NextPageID() page.PageID {
	return page.PageID(int32(binary.LittleEndian.Uint32(lp.buf[nodeHeaderSize:])))
}
func (lp *LeafPage) SetNextPageID(id page.PageID) {
	binary.LittleEndian.PutUint32(lp.buf[nodeHeaderSize:], uint32(int32(id)))
}

func (lp *LeafPage) KeyAt(i int) Key {
	off := lp.entryOffset(i)
	k := make(Key, lp.keyWidth)
	copy(k, lp.buf[off:off+lp.keyWidth])
	return k
}

func (lp *LeafPage) setKeyAt(i int, k Key) {
	off := lp.entryOffset(i)
	copy(lp.buf[off:off+lp.keyWidth], k)
}

func (lp *LeafPage) ValueAt(i int) page.RowID {
	off := lp.entryOffset(i) + lp.keyWidth
	return page.UnmarshalRowID(lp.buf[off : off+page.RowIDSize])
}

func (lp *LeafPage) setValueAt(i int, v page.RowID) {
	off := lp.entryOffset(i) + lp.keyWidth
	page.MarshalRowID(v, lp.buf[off:off+page.RowIDSize])
}

// GetItem returns entry i's (key, row id) pair.
func (lp *LeafPage) GetItem(i int) (Key, page.RowID) { return lp.KeyAt(i), lp.ValueAt(i) }

// KeyIndex returns the lowest index whose key is >= target (a lower
// bound), which is len(entries) if target is greater than every key.
func (lp *LeafPage) KeyIndex(target Key) int {
	n := lp.Size()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if CompareKeys(lp.KeyAt(mid), target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Lookup reports the row id stored under key, if present.
func (lp *LeafPage) Lookup(key Key) (page.RowID, bool) {
	i := lp.KeyIndex(key)
	if i < lp.Size() && CompareKeys(lp.KeyAt(i), key) == 0 {
		return lp.ValueAt(i), true
	}
	return page.InvalidRowID, false
}

// Insert places (key, value) in sorted position, rejecting duplicates.
// Reports whether the insert happened and the resulting size.
func (lp *LeafPage) Insert(key Key, value page.RowID) (int, bool) {
	i := lp.KeyIndex(key)
	if i < lp.Size() && CompareKeys(lp.KeyAt(i), key) == 0 {
		return lp.Size(), false
	}
	n := lp.Size()
	for j := n; j > i; j-- {
		lp.setKeyAt(j, lp.KeyAt(j-1))
		lp.setValueAt(j, lp.ValueAt(j-1))
	}
	lp.setKeyAt(i, key)
	lp.setValueAt(i, value)
	lp.setSize(n + 1)
	return n + 1, true
}

// RemoveAndDeleteRecord deletes key if present and returns the
// resulting size.
func (lp *LeafPage) RemoveAndDeleteRecord(key Key) int {
	i := lp.KeyIndex(key)
	n := lp.Size()
	if i >= n || CompareKeys(lp.KeyAt(i), key) != 0 {
		return n
	}
	for j := i; j < n-1; j++ {
		lp.setKeyAt(j, lp.KeyAt(j+1))
		lp.setValueAt(j, lp.ValueAt(j+1))
	}
	lp.setSize(n - 1)
	return n - 1
}

// MoveHalfTo ships the upper half of lp's entries to recipient (a
// freshly allocated right sibling), keeping ceil(n/2) entries here and
// floor(n/2) there, and threads the next_page_id chain through it.
func (lp *LeafPage) MoveHalfTo(recipient *LeafPage) {
	n := lp.Size()
	leftCount := (n + 1) / 2
	rightCount := n - leftCount
	for i := 0; i < rightCount; i++ {
		recipient.setKeyAt(i, lp.KeyAt(leftCount+i))
		recipient.setValueAt(i, lp.ValueAt(leftCount+i))
	}
	recipient.setSize(rightCount)
	lp.setSize(leftCount)
	recipient.SetNextPageID(lp.NextPageID())
	lp.SetNextPageID(recipient.PageID())
}

// MoveAllTo merges every entry of lp onto the end of recipient (the
// left-most node of a coalescing pair), adopting lp's next_page_id.
func (lp *LeafPage) MoveAllTo(recipient *LeafPage) {
	base := recipient.Size()
	for i := 0; i < lp.Size(); i++ {
		recipient.setKeyAt(base+i, lp.KeyAt(i))
		recipient.setValueAt(base+i, lp.ValueAt(i))
	}
	recipient.setSize(base + lp.Size())
	recipient.SetNextPageID(lp.NextPageID())
	lp.setSize(0)
}

// MoveFirstToEndOf moves lp's first entry to the end of recipient (the
// left sibling borrowing from a right sibling during redistribution).
func (lp *LeafPage) MoveFirstToEndOf(recipient *LeafPage) {
	key, value := lp.GetItem(0)
	lp.RemoveAndDeleteRecord(key)
	n := recipient.Size()
	recipient.setKeyAt(n, key)
	recipient.setValueAt(n, value)
	recipient.setSize(n + 1)
}

// MoveLastToFrontOf moves lp's last entry to the front of recipient
// (the right sibling borrowing from a left sibling).
func (lp *LeafPage) MoveLastToFrontOf(recipient *LeafPage) {
	n := lp.Size()
	key, value := lp.GetItem(n - 1)
	lp.setSize(n - 1)
	m := recipient.Size()
	for j := m; j > 0; j-- {
		recipient.setKeyAt(j, recipient.KeyAt(j-1))
		recipient.setValueAt(j, recipient.ValueAt(j-1))
	}
	recipient.setKeyAt(0, key)
	recipient.setValueAt(0, value)
	recipient.setSize(m + 1)
}
