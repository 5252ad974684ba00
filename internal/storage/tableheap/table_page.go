// Package tableheap implements the slotted table page and the table
// heap: a logical sequence of tuples threaded through a linked list of
// those pages.
package tableheap

import (
	"encoding/binary"
	"sync"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// TablePage wraps a raw page buffer as a slotted page of tuples.
//
// Header layout:
//
//	[0:4]   page_id              int32 LE
//	[4:8]   prev_page_id          int32 LE
//	[8:12]  next_page_id          int32 LE
//	[12:16] lsn                   uint32 LE (unused; reserved for a WAL this core does not implement)
//	[16:20] free_space_pointer    uint32 LE — byte offset where tuple data begins
//	[20:24] tuple_count           uint32 LE
//	[24:]   slot_array            slotCount entries of {offset uint32, size uint32}
//
// Tuples are packed from the end of the page backward, most recently
// inserted closest to free_space_pointer; slots grow forward from the
// header. A slot's size field has its high bit set to mark a tombstone
// (a logically deleted tuple whose bytes have not yet been reclaimed).
type TablePage struct {
	buf []byte

	// Latch serializes access to one page. The engine is single
	// threaded today, so nothing actually contends on it, but callers
	// that mutate a page take Latch.Lock() around the sequence so a
	// future concurrent executor has the hook it needs.
	Latch sync.RWMutex
}

const (
	tpOffPageID       = 0
	tpOffPrevPageID   = 4
	tpOffNextPageID   = 8
	tpOffLSN          = 12
	tpOffFreeSpace    = 16
	tpOffTupleCount   = 20
	tableHeaderSize   = 24
	tpSlotSize        = 8
	tombstoneSizeBit  = uint32(1) << 31
)

// WrapTablePage views an existing buffer as a TablePage without
// modifying it.
func WrapTablePage(buf []byte) *TablePage {
	return &TablePage{buf: buf}
}

// InitTablePage zeroes buf and writes a fresh table page header linking
// to prev (page.InvalidID for the chain head).
func InitTablePage(buf []byte, pageID, prevPageID page.PageID) *TablePage {
	for i := range buf {
		buf[i] = 0
	}
	tp := &TablePage{buf: buf}
	tp.setPageID(pageID)
	tp.setPrevPageID(prevPageID)
	tp.SetNextPageID(page.InvalidID)
	tp.setFreeSpacePointer(uint32(page.Size))
	tp.setTupleCount(0)
	return tp
}

func (tp *TablePage) Bytes() []byte { return tp.buf }

func (tp *TablePage) pageID() page.PageID {
	return page.PageID(int32(binary.LittleEndian.Uint32(tp.buf[tpOffPageID:])))
}
func (tp *TablePage) setPageID(id page.PageID) {
	binary.LittleEndian.PutUint32(tp.buf[tpOffPageID:], uint32(int32(id)))
}

// PageID returns this page's own logical id.
func (tp *TablePage) PageID() page.PageID { return tp.pageID() }

// PrevPageID returns the previous page in the chain, or page.InvalidID.
func (tp *TablePage) PrevPageID() page.PageID {
	return page.PageID(int32(binary.LittleEndian.Uint32(tp.buf[tpOffPrevPageID:])))
}
func (tp *TablePage) setPrevPageID(id page.PageID) {
	binary.LittleEndian.PutUint32(tp.buf[tpOffPrevPageID:], uint32(int32(id)))
}

// NextPageID returns the next page in the chain, or page.InvalidID.
func (tp *TablePage) NextPageID() page.PageID {
	return page.PageID(int32(binary.LittleEndian.Uint32(tp.buf[tpOffNextPageID:])))
}

// SetNextPageID links this page to the next page in the chain.
func (tp *TablePage) SetNextPageID(id page.PageID) {
	binary.LittleEndian.PutUint32(tp.buf[tpOffNextPageID:], uint32(int32(id)))
}

func (tp *TablePage) freeSpacePointer() uint32 {
	return binary.LittleEndian.Uint32(tp.buf[tpOffFreeSpace:])
}
func (tp *TablePage) setFreeSpacePointer(v uint32) {
	binary.LittleEndian.PutUint32(tp.buf[tpOffFreeSpace:], v)
}

// TupleCount returns the number of slots ever allocated on this page
// (including tombstoned and reclaimed ones).
func (tp *TablePage) TupleCount() uint32 {
	return binary.LittleEndian.Uint32(tp.buf[tpOffTupleCount:])
}
func (tp *TablePage) setTupleCount(v uint32) {
	binary.LittleEndian.PutUint32(tp.buf[tpOffTupleCount:], v)
}

func (tp *TablePage) slotOffsetFieldOffset(slot uint32) int {
	return tableHeaderSize + int(slot)*tpSlotSize
}

func (tp *TablePage) slotRaw(slot uint32) (offset, size uint32) {
	o := tp.slotOffsetFieldOffset(slot)
	return binary.LittleEndian.Uint32(tp.buf[o:]), binary.LittleEndian.Uint32(tp.buf[o+4:])
}

func (tp *TablePage) setSlotRaw(slot, offset, size uint32) {
	o := tp.slotOffsetFieldOffset(slot)
	binary.LittleEndian.PutUint32(tp.buf[o:], offset)
	binary.LittleEndian.PutUint32(tp.buf[o+4:], size)
}

func isTombstoned(rawSize uint32) bool { return rawSize&tombstoneSizeBit != 0 }
func tupleSizeOf(rawSize uint32) uint32 { return rawSize &^ tombstoneSizeBit }

// slotLive reports whether slot holds a readable tuple: not beyond the
// highest inserted slot, not tombstoned, and not yet reclaimed (size 0).
func (tp *TablePage) slotLive(slot uint32) bool {
	if slot >= tp.TupleCount() {
		return false
	}
	_, raw := tp.slotRaw(slot)
	return !isTombstoned(raw) && tupleSizeOf(raw) > 0
}

// freeSpaceRemaining is the number of bytes available for a new tuple's
// payload, reserving room for one more slot entry.
func (tp *TablePage) freeSpaceRemaining() int {
	headerEnd := tableHeaderSize + int(tp.TupleCount())*tpSlotSize
	return int(tp.freeSpacePointer()) - headerEnd - tpSlotSize
}

// InsertTuple serializes row per schema and appends it as a new slot.
// Returns the assigned RowID and false if there is insufficient free
// space (required > free_space_pointer - header_end - sizeof(slot)).
func (tp *TablePage) InsertTuple(row page.Row, schema page.Schema) (page.RowID, bool) {
	size := row.SerializedSize(schema)
	if size > tp.freeSpaceRemaining() {
		return page.InvalidRowID, false
	}
	buf := make([]byte, 0, size)
	buf = row.Marshal(buf, schema)

	newOffset := tp.freeSpacePointer() - uint32(size)
	copy(tp.buf[newOffset:newOffset+uint32(size)], buf)
	tp.setFreeSpacePointer(newOffset)

	slot := tp.TupleCount()
	tp.setSlotRaw(slot, newOffset, uint32(size))
	tp.setTupleCount(slot + 1)

	return page.RowID{PageID: tp.pageID(), Slot: slot}, true
}

// MarkDelete sets the tombstone bit on rid's slot. False if the slot is
// out of range or already tombstoned/reclaimed.
func (tp *TablePage) MarkDelete(rid page.RowID) bool {
	if !tp.slotLive(rid.Slot) {
		return false
	}
	offset, size := tp.slotRaw(rid.Slot)
	tp.setSlotRaw(rid.Slot, offset, size|tombstoneSizeBit)
	return true
}

// RollbackDelete clears the tombstone bit, undoing a MarkDelete that was
// never followed by ApplyDelete.
func (tp *TablePage) RollbackDelete(rid page.RowID) bool {
	if rid.Slot >= tp.TupleCount() {
		return false
	}
	offset, raw := tp.slotRaw(rid.Slot)
	if !isTombstoned(raw) {
		return false
	}
	tp.setSlotRaw(rid.Slot, offset, tupleSizeOf(raw))
	return true
}

// ApplyDelete physically reclaims a tombstoned tuple's space: the bytes
// between the current free_space_pointer and the deleted tuple's offset
// (everything packed more recently) are shifted up to close the gap,
// every slot pointing into that shifted region has its offset adjusted,
// and the deleted slot is cleared to {0,0} so it is permanently dead.
func (tp *TablePage) ApplyDelete(rid page.RowID) bool {
	if rid.Slot >= tp.TupleCount() {
		return false
	}
	offset, raw := tp.slotRaw(rid.Slot)
	size := tupleSizeOf(raw)
	if size == 0 {
		return false
	}
	fsp := tp.freeSpacePointer()
	copy(tp.buf[fsp+size:offset+size], tp.buf[fsp:offset])
	tp.setFreeSpacePointer(fsp + size)
	tp.setSlotRaw(rid.Slot, 0, 0)

	for i := uint32(0); i < tp.TupleCount(); i++ {
		iOffset, iRaw := tp.slotRaw(i)
		iSize := tupleSizeOf(iRaw)
		if iSize > 0 && iOffset < offset {
			if isTombstoned(iRaw) {
				tp.setSlotRaw(i, iOffset+size, iSize|tombstoneSizeBit)
			} else {
				tp.setSlotRaw(i, iOffset+size, iSize)
			}
		}
	}
	return true
}

// UpdateTuple overwrites rid's tuple in place when the new row's
// serialized size does not exceed the old one's. Fails (returns false)
// otherwise, leaving the caller to delete-then-insert.
func (tp *TablePage) UpdateTuple(row page.Row, rid page.RowID, schema page.Schema) bool {
	if !tp.slotLive(rid.Slot) {
		return false
	}
	offset, raw := tp.slotRaw(rid.Slot)
	oldSize := tupleSizeOf(raw)
	newSize := row.SerializedSize(schema)
	if uint32(newSize) > oldSize {
		return false
	}
	buf := make([]byte, 0, newSize)
	buf = row.Marshal(buf, schema)
	copy(tp.buf[offset:offset+uint32(newSize)], buf)
	for i := offset + uint32(newSize); i < offset+oldSize; i++ {
		tp.buf[i] = 0
	}
	tp.setSlotRaw(rid.Slot, offset, uint32(newSize))
	return true
}

// GetTuple reads rid's row using schema. False if the slot is dead.
func (tp *TablePage) GetTuple(rid page.RowID, schema page.Schema) (page.Row, bool) {
	if !tp.slotLive(rid.Slot) {
		return page.Row{}, false
	}
	offset, raw := tp.slotRaw(rid.Slot)
	size := tupleSizeOf(raw)
	row, n := page.UnmarshalRow(tp.buf[offset:offset+size], schema)
	if n == 0 {
		return page.Row{}, false
	}
	row.RID = rid
	return row, true
}

// GetFirstTupleRid returns the first live slot's RowID on this page.
func (tp *TablePage) GetFirstTupleRid() (page.RowID, bool) {
	for i := uint32(0); i < tp.TupleCount(); i++ {
		if tp.slotLive(i) {
			return page.RowID{PageID: tp.pageID(), Slot: i}, true
		}
	}
	return page.InvalidRowID, false
}

// GetNextTupleRid returns the next live slot after cur on this page.
func (tp *TablePage) GetNextTupleRid(cur page.RowID) (page.RowID, bool) {
	for i := cur.Slot + 1; i < tp.TupleCount(); i++ {
		if tp.slotLive(i) {
			return page.RowID{PageID: tp.pageID(), Slot: i}, true
		}
	}
	return page.InvalidRowID, false
}
