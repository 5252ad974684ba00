package index

import (
	"encoding/binary"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// InternalPage is a B+ tree internal node: a fixed-capacity array of
// (key, child_page_id) pairs. Element 0's key is an unused sentinel —
// the leftmost-key invariant records subtree 0's boundary key in this
// node's own entry within ITS parent, not locally.
type InternalPage struct {
	buf      []byte
	keyWidth int
}

func internalEntrySize(keyWidth int) int { return keyWidth + 4 }

// MaxInternalSize returns the largest internal max_size a page can
// physically hold for the given key width, leaving room for the one
// transient over-full entry an insert creates before splitting.
func MaxInternalSize(keyWidth int) int {
	return (page.Size-nodeHeaderSize)/internalEntrySize(keyWidth) - 1
}

func (ip *InternalPage) entryOffset(i int) int {
	return nodeHeaderSize + i*internalEntrySize(ip.keyWidth)
}

// WrapInternalPage views an existing page buffer as an InternalPage.
func WrapInternalPage(buf []byte, keyWidth int) *InternalPage {
	return &InternalPage{buf: buf, keyWidth: keyWidth}
}

// InitInternalPage zeroes buf and writes a fresh internal node header.
func InitInternalPage(buf []byte, keyWidth int, id, parentID page.PageID, maxSize int) *InternalPage {
	for i := range buf {
		buf[i] = 0
	}
	ip := &InternalPage{buf: buf, keyWidth: keyWidth}
	setNodePageType(buf, nodeKindInternal)
	setNodeSize(buf, 0)
	setNodeMaxSize(buf, maxSize)
	setNodeParentPageID(buf, parentID)
	setNodePageID(buf, id)
	return ip
}

func (ip *InternalPage) PageID() page.PageID       { return nodePageID(ip.buf) }
func (ip *InternalPage) ParentPageID() page.PageID { return nodeParentPageID(ip.buf) }
func (ip *InternalPage) SetParentPageID(id page.PageID) { setNodeParentPageID(ip.buf, id) }
func (ip *InternalPage) Size() int                 { return nodeSize(ip.buf) }
func (ip *InternalPage) setSize(v int)              { setNodeSize(ip.buf, v) }
func (ip *InternalPage) MaxSize() int              { return nodeMaxSize(ip.buf) }

func (ip *InternalPage) KeyAt(i int) Key {
	off := ip.entryOffset(i)
	k := make(Key, ip.keyWidth)
	copy(k, ip.buf[off:off+ip.keyWidth])
	return k
}

// SetKeyAt rewrites entry i's key. Used to maintain the leftmost-key
// invariant after a structural change below entry i.
func (ip *InternalPage) SetKeyAt(i int, k Key) {
	off := ip.entryOffset(i)
	copy(ip.buf[off:off+ip.keyWidth], k)
}

func (ip *InternalPage) ValueAt(i int) page.PageID {
	off := ip.entryOffset(i) + ip.keyWidth
	return page.PageID(int32(binary.LittleEndian.Uint32(ip.buf[off:])))
}

func (ip *InternalPage) setValueAt(i int, v page.PageID) {
	off := ip.entryOffset(i) + ip.keyWidth
	binary.LittleEndian.PutUint32(ip.buf[off:], uint32(int32(v)))
}

// ValueIndex returns the index of child v, or -1 if absent.
func (ip *InternalPage) ValueIndex(v page.PageID) int {
	for i := 0; i < ip.Size(); i++ {
		if ip.ValueAt(i) == v {
			return i
		}
	}
	return -1
}

// Lookup returns the child to descend into for key: the first index
// i >= 1 with key < KeyAt(i) gives ValueAt(i-1); if no such i exists,
// the last child.
func (ip *InternalPage) Lookup(key Key) page.PageID {
	n := ip.Size()
	for i := 1; i < n; i++ {
		if CompareKeys(key, ip.KeyAt(i)) < 0 {
			return ip.ValueAt(i - 1)
		}
	}
	return ip.ValueAt(n - 1)
}

// PopulateNewRoot initializes a freshly allocated page as a root holding
// exactly {left, (sepKey, right)}.
func (ip *InternalPage) PopulateNewRoot(left page.PageID, sepKey Key, right page.PageID) {
	ip.setValueAt(0, left)
	ip.setSize(1)
	ip.insertAt(1, sepKey, right)
}

func (ip *InternalPage) insertAt(i int, key Key, value page.PageID) {
	n := ip.Size()
	for j := n; j > i; j-- {
		ip.SetKeyAt(j, ip.KeyAt(j-1))
		ip.setValueAt(j, ip.ValueAt(j-1))
	}
	ip.SetKeyAt(i, key)
	ip.setValueAt(i, value)
	ip.setSize(n + 1)
}

// InsertNodeAfter inserts (newKey, newValue) immediately after oldValue.
func (ip *InternalPage) InsertNodeAfter(oldValue page.PageID, newKey Key, newValue page.PageID) {
	idx := ip.ValueIndex(oldValue)
	ip.insertAt(idx+1, newKey, newValue)
}

// Remove deletes entry index, shifting everything after it left by one.
func (ip *InternalPage) Remove(index int) {
	n := ip.Size()
	for j := index; j < n-1; j++ {
		ip.SetKeyAt(j, ip.KeyAt(j+1))
		ip.setValueAt(j, ip.ValueAt(j+1))
	}
	ip.setSize(n - 1)
}

// RemoveAndReturnOnlyChild empties a size-1 root and returns its sole
// child, for AdjustRoot.
func (ip *InternalPage) RemoveAndReturnOnlyChild() page.PageID {
	v := ip.ValueAt(0)
	ip.setSize(0)
	return v
}

// reparentFn is called with (childPageID, newParentPageID) whenever a
// child changes which internal node parents it.
type reparentFn func(child, newParent page.PageID) error

// MoveHalfTo ships the upper half of ip's entries to recipient (a freshly
// allocated sibling), keeping ceil(n/2) entries here and floor(n/2)
// there, and reparents each moved child through the buffer pool.
func (ip *InternalPage) MoveHalfTo(recipient *InternalPage, reparent reparentFn) error {
	n := ip.Size()
	leftCount := (n + 1) / 2
	rightCount := n - leftCount
	for i := 0; i < rightCount; i++ {
		recipient.SetKeyAt(i, ip.KeyAt(leftCount+i))
		recipient.setValueAt(i, ip.ValueAt(leftCount+i))
	}
	recipient.setSize(rightCount)
	ip.setSize(leftCount)
	if reparent != nil {
		for i := 0; i < rightCount; i++ {
			if err := reparent(recipient.ValueAt(i), recipient.PageID()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ip *InternalPage) copyLastFrom(key Key, value page.PageID) {
	n := ip.Size()
	ip.SetKeyAt(n, key)
	ip.setValueAt(n, value)
	ip.setSize(n + 1)
}

func (ip *InternalPage) copyFirstFrom(key Key, value page.PageID) {
	n := ip.Size()
	for j := n; j > 0; j-- {
		ip.SetKeyAt(j, ip.KeyAt(j-1))
		ip.setValueAt(j, ip.ValueAt(j-1))
	}
	ip.SetKeyAt(0, key)
	ip.setValueAt(0, value)
	ip.setSize(n + 1)
}

// MoveFirstToEndOf moves ip's first child to the end of recipient (the
// left sibling borrowing from a right sibling during redistribution).
// middleKey is the parent's current separator key for ip, which becomes
// the moved entry's key in its new position.
func (ip *InternalPage) MoveFirstToEndOf(recipient *InternalPage, middleKey Key, reparent reparentFn) error {
	childID := ip.ValueAt(0)
	ip.Remove(0)
	recipient.copyLastFrom(middleKey, childID)
	if reparent != nil {
		return reparent(childID, recipient.PageID())
	}
	return nil
}

// MoveLastToFrontOf moves ip's last entry to the front of recipient (the
// right sibling borrowing from a left sibling). The donor entry's key —
// the minimum key of the moved child's subtree — lands at entry 0 so the
// caller can lift it into the parent's separator slot; middleKey, the
// parent's current separator key for recipient, becomes entry 1's key
// since the old first child now sits there.
func (ip *InternalPage) MoveLastToFrontOf(recipient *InternalPage, middleKey Key, reparent reparentFn) error {
	n := ip.Size()
	donorKey := ip.KeyAt(n - 1)
	childID := ip.ValueAt(n - 1)
	ip.setSize(n - 1)
	recipient.copyFirstFrom(donorKey, childID)
	recipient.SetKeyAt(1, middleKey)
	if reparent != nil {
		return reparent(childID, recipient.PageID())
	}
	return nil
}

// MoveAllTo merges every entry of ip onto the end of recipient (the
// left-most node of a coalescing pair). middleKey is the parent's
// current separator key for ip, used as entry 0's new key once appended.
func (ip *InternalPage) MoveAllTo(recipient *InternalPage, middleKey Key, reparent reparentFn) error {
	recipient.copyLastFrom(middleKey, ip.ValueAt(0))
	if reparent != nil {
		if err := reparent(ip.ValueAt(0), recipient.PageID()); err != nil {
			return err
		}
	}
	for i := 1; i < ip.Size(); i++ {
		recipient.copyLastFrom(ip.KeyAt(i), ip.ValueAt(i))
		if reparent != nil {
			if err := reparent(ip.ValueAt(i), recipient.PageID()); err != nil {
				return err
			}
		}
	}
	ip.setSize(0)
	return nil
}
