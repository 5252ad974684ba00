// Package index implements the B+ tree used by secondary and primary
// key indexes: fixed-capacity internal/leaf pages sharing a common
// header, the index roots page, and the tree algorithm itself
// (point lookup, range iteration, insert-with-split,
// remove-with-redistribute-or-coalesce).
package index

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// Key is a fixed-width, order-preserving byte encoding of one or more
// Field values — the comparable unit stored in B+ tree pages. Its width
// is fixed per tree at construction time, chosen from KeyWidths based on
// the combined serialized size of the index's key columns, collapsing
// the five generic-key-width instantiations of the source implementation
// into one dynamically-sized key type.
type Key []byte

// KeyWidths are the only widths a tree may be constructed with.
var KeyWidths = [...]int{4, 8, 16, 32, 64}

// ChooseKeyWidth returns the smallest supported width that fits
// combinedSize bytes, or the largest supported width if combinedSize
// exceeds it.
func ChooseKeyWidth(combinedSize int) int {
	for _, w := range KeyWidths {
		if combinedSize <= w {
			return w
		}
	}
	return KeyWidths[len(KeyWidths)-1]
}

// CompareKeys orders two equal-width keys by unsigned lexicographic byte
// comparison. EncodeFields arranges for this to match the natural
// ordering of the underlying Field values.
func CompareKeys(a, b Key) int {
	return bytes.Compare(a, b)
}

// EncodeFields concatenates the order-preserving encoding of each field,
// in order, then zero-pads to exactly width bytes. Callers should choose
// width via ChooseKeyWidth so the combined encoding never needs
// truncating.
func EncodeFields(fields []page.Field, width int) Key {
	var buf []byte
	for _, f := range fields {
		buf = append(buf, encodeField(f)...)
	}
	out := make(Key, width)
	copy(out, buf)
	return out
}

func encodeField(f page.Field) []byte {
	switch f.Type {
	case page.TypeInt:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(f.Int))
		b[0] ^= 0x80 // flip sign bit: two's-complement ints then sort as unsigned bytes
		return b
	case page.TypeFloat:
		bits := math.Float32bits(f.Float)
		if bits&0x80000000 != 0 {
			bits = ^bits
		} else {
			bits |= 0x80000000
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, bits)
		return b
	case page.TypeChar:
		return f.Char
	default:
		return nil
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Common node header, shared by InternalPage and LeafPage.
// ───────────────────────────────────────────────────────────────────────────
//
//	[0:1]   page_type      byte (1 = internal, 2 = leaf)
//	[1:5]   lsn            uint32 LE (reserved; this core has no WAL)
//	[5:9]   size           uint32 LE
//	[9:13]  max_size       uint32 LE
//	[13:17] parent_page_id int32 LE
//	[17:21] page_id        int32 LE

type nodeKind byte

const (
	nodeKindInternal nodeKind = 1
	nodeKindLeaf     nodeKind = 2
)

const nodeHeaderSize = 21

func nodePageType(buf []byte) nodeKind        { return nodeKind(buf[0]) }
func setNodePageType(buf []byte, k nodeKind)  { buf[0] = byte(k) }
func nodeSize(buf []byte) int                 { return int(binary.LittleEndian.Uint32(buf[5:])) }
func setNodeSize(buf []byte, v int)           { binary.LittleEndian.PutUint32(buf[5:], uint32(v)) }
func nodeMaxSize(buf []byte) int              { return int(binary.LittleEndian.Uint32(buf[9:])) }
func setNodeMaxSize(buf []byte, v int)        { binary.LittleEndian.PutUint32(buf[9:], uint32(v)) }

func nodeParentPageID(buf []byte) page.PageID {
	return page.PageID(int32(binary.LittleEndian.Uint32(buf[13:])))
}
func setNodeParentPageID(buf []byte, id page.PageID) {
	binary.LittleEndian.PutUint32(buf[13:], uint32(int32(id)))
}

func nodePageID(buf []byte) page.PageID {
	return page.PageID(int32(binary.LittleEndian.Uint32(buf[17:])))
}
func setNodePageID(buf []byte, id page.PageID) {
	binary.LittleEndian.PutUint32(buf[17:], uint32(int32(id)))
}
