package diskmgr

import (
	"encoding/binary"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// ───────────────────────────────────────────────────────────────────────────
// Disk meta page — physical page 0.
// ───────────────────────────────────────────────────────────────────────────
//
// Layout:
//   [0:4]   NumAllocatedPages        uint32 LE
//   [4:8]   NumExtents               uint32 LE
//   [8:8+4*MaxExtents]  ExtentUsedPage[i]   uint32 LE each
//
// Invariant: sum(ExtentUsedPage[0..NumExtents)) == NumAllocatedPages.

const (
	metaAllocatedOff = 0
	metaExtentsOff   = 4
	metaUsedOff      = 8

	// MaxExtents bounds how many extents a single meta page can track.
	MaxExtents = (page.Size - metaUsedOff) / 4
)

// MetaPage wraps a page buffer as the disk meta page.
type MetaPage struct {
	buf []byte
}

func WrapMetaPage(buf []byte) *MetaPage {
	return &MetaPage{buf: buf}
}

func InitMetaPage(buf []byte) *MetaPage {
	for i := range buf {
		buf[i] = 0
	}
	return &MetaPage{buf: buf}
}

func (m *MetaPage) NumAllocatedPages() uint32 {
	return binary.LittleEndian.Uint32(m.buf[metaAllocatedOff:])
}

func (m *MetaPage) setNumAllocatedPages(v uint32) {
	binary.LittleEndian.PutUint32(m.buf[metaAllocatedOff:], v)
}

func (m *MetaPage) NumExtents() uint32 {
	return binary.LittleEndian.Uint32(m.buf[metaExtentsOff:])
}

func (m *MetaPage) setNumExtents(v uint32) {
	binary.LittleEndian.PutUint32(m.buf[metaExtentsOff:], v)
}

func (m *MetaPage) ExtentUsedPage(i uint32) uint32 {
	off := metaUsedOff + i*4
	return binary.LittleEndian.Uint32(m.buf[off:])
}

func (m *MetaPage) setExtentUsedPage(i, v uint32) {
	off := metaUsedOff + i*4
	binary.LittleEndian.PutUint32(m.buf[off:], v)
}

func (m *MetaPage) Bytes() []byte { return m.buf }
