package diskmgr

import (
	"encoding/binary"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// ───────────────────────────────────────────────────────────────────────────
// Bitmap page — one per extent, tracks allocation of the BITMAP_SIZE data
// pages that follow it.
// ───────────────────────────────────────────────────────────────────────────
//
// Layout:
//   [0:4]   PageAllocated   uint32 LE — count of set bits
//   [4:8]   NextFreeHint    uint32 LE — advisory offset to start scanning from
//   [8:PageSize]            byte array, MaxChars = PageSize - 8 bytes

const (
	bitmapAllocatedOff = 0
	bitmapHintOff       = 4
	bitmapDataOff       = 8

	// MaxChars is the number of tracking bytes in a bitmap page.
	MaxChars = page.Size - bitmapDataOff

	// BitmapSize is the number of data pages one bitmap page can track.
	BitmapSize = MaxChars * 8
)

// BitmapPage wraps a page buffer as a bitmap page.
type BitmapPage struct {
	buf []byte
}

// WrapBitmapPage wraps an existing bitmap buffer (must be page.Size bytes).
func WrapBitmapPage(buf []byte) *BitmapPage {
	return &BitmapPage{buf: buf}
}

// InitBitmapPage zeroes buf and returns it wrapped as a fresh, empty
// bitmap page.
func InitBitmapPage(buf []byte) *BitmapPage {
	for i := range buf {
		buf[i] = 0
	}
	return &BitmapPage{buf: buf}
}

func (b *BitmapPage) PageAllocated() uint32 {
	return binary.LittleEndian.Uint32(b.buf[bitmapAllocatedOff:])
}

func (b *BitmapPage) setPageAllocated(v uint32) {
	binary.LittleEndian.PutUint32(b.buf[bitmapAllocatedOff:], v)
}

func (b *BitmapPage) NextFreeHint() uint32 {
	return binary.LittleEndian.Uint32(b.buf[bitmapHintOff:])
}

func (b *BitmapPage) setNextFreeHint(v uint32) {
	binary.LittleEndian.PutUint32(b.buf[bitmapHintOff:], v)
}

func (b *BitmapPage) bitSet(offset uint32) bool {
	byteIdx := bitmapDataOff + offset/8
	bit := byte(1) << (offset % 8)
	return b.buf[byteIdx]&bit != 0
}

func (b *BitmapPage) setBit(offset uint32, v bool) {
	byteIdx := bitmapDataOff + offset/8
	bit := byte(1) << (offset % 8)
	if v {
		b.buf[byteIdx] |= bit
	} else {
		b.buf[byteIdx] &^= bit
	}
}

// IsPageFree reports whether the data page at offset within this extent
// is unallocated.
func (b *BitmapPage) IsPageFree(offset uint32) bool {
	return !b.bitSet(offset)
}

// AllocatePage finds the lowest-numbered free offset, marks it allocated,
// and returns it. Returns (0, false) when the extent is full. The scan
// starts at NextFreeHint and wraps, but never trusts the hint blindly: a
// stale hint after a concurrent deallocation elsewhere cannot cause an
// incorrect allocation because the bit itself is always checked.
func (b *BitmapPage) AllocatePage() (uint32, bool) {
	if b.PageAllocated() >= BitmapSize {
		return 0, false
	}
	start := b.NextFreeHint()
	for i := uint32(0); i < BitmapSize; i++ {
		off := (start + i) % BitmapSize
		if b.IsPageFree(off) {
			b.setBit(off, true)
			b.setPageAllocated(b.PageAllocated() + 1)
			b.setNextFreeHint((off + 1) % BitmapSize)
			return off, true
		}
	}
	return 0, false
}

// DeAllocatePage clears the bit at offset and lowers the hint to it when
// it lies below the hint. Returns false if it was already free.
func (b *BitmapPage) DeAllocatePage(offset uint32) bool {
	if b.IsPageFree(offset) {
		return false
	}
	b.setBit(offset, false)
	b.setPageAllocated(b.PageAllocated() - 1)
	if offset < b.NextFreeHint() {
		b.setNextFreeHint(offset)
	}
	return true
}

// Bytes returns the underlying page buffer.
func (b *BitmapPage) Bytes() []byte { return b.buf }
