package index

import (
	"encoding/binary"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// IndexRootsPage wraps the fixed page.IndexRootsPageID page, mapping
// each index id to its current B+ tree root page id:
//
//	[0:4]                count        int32 LE
//	[4+8i : 4+8i+4]       index_id     int32 LE
//	[4+8i+4 : 4+8i+8]     root_page_id int32 LE
type IndexRootsPage struct {
	buf []byte
}

const indexRootsEntrySize = 8

func (rp *IndexRootsPage) entryOffset(i int) int { return 4 + i*indexRootsEntrySize }

// WrapIndexRootsPage views an existing page buffer as an IndexRootsPage.
func WrapIndexRootsPage(buf []byte) *IndexRootsPage { return &IndexRootsPage{buf: buf} }

// InitIndexRootsPage zeroes buf and writes an empty roots map.
func InitIndexRootsPage(buf []byte) *IndexRootsPage {
	for i := range buf {
		buf[i] = 0
	}
	return &IndexRootsPage{buf: buf}
}

func (rp *IndexRootsPage) count() int        { return int(binary.LittleEndian.Uint32(rp.buf[0:4])) }
func (rp *IndexRootsPage) setCount(v int)    { binary.LittleEndian.PutUint32(rp.buf[0:4], uint32(v)) }

func (rp *IndexRootsPage) indexIDAt(i int) int32 {
	off := rp.entryOffset(i)
	return int32(binary.LittleEndian.Uint32(rp.buf[off:]))
}

func (rp *IndexRootsPage) rootIDAt(i int) page.PageID {
	off := rp.entryOffset(i) + 4
	return page.PageID(int32(binary.LittleEndian.Uint32(rp.buf[off:])))
}

func (rp *IndexRootsPage) setEntryAt(i int, indexID int32, rootID page.PageID) {
	off := rp.entryOffset(i)
	binary.LittleEndian.PutUint32(rp.buf[off:], uint32(indexID))
	binary.LittleEndian.PutUint32(rp.buf[off+4:], uint32(int32(rootID)))
}

func (rp *IndexRootsPage) indexOf(indexID int32) int {
	for i := 0; i < rp.count(); i++ {
		if rp.indexIDAt(i) == indexID {
			return i
		}
	}
	return -1
}

// GetRootID returns the current root page for indexID, or InvalidID if
// the index is unknown.
func (rp *IndexRootsPage) GetRootID(indexID int32) page.PageID {
	i := rp.indexOf(indexID)
	if i < 0 {
		return page.InvalidID
	}
	return rp.rootIDAt(i)
}

// Insert adds a new index's root entry.
func (rp *IndexRootsPage) Insert(indexID int32, rootID page.PageID) {
	n := rp.count()
	rp.setEntryAt(n, indexID, rootID)
	rp.setCount(n + 1)
}

// Update rewrites an existing index's root entry, reporting whether it
// was found.
func (rp *IndexRootsPage) Update(indexID int32, rootID page.PageID) bool {
	i := rp.indexOf(indexID)
	if i < 0 {
		return false
	}
	rp.setEntryAt(i, indexID, rootID)
	return true
}

// Delete removes an index's root entry, reporting whether it was found.
func (rp *IndexRootsPage) Delete(indexID int32) bool {
	i := rp.indexOf(indexID)
	if i < 0 {
		return false
	}
	n := rp.count()
	for j := i; j < n-1; j++ {
		rp.setEntryAt(j, rp.indexIDAt(j+1), rp.rootIDAt(j+1))
	}
	rp.setCount(n - 1)
	return true
}
