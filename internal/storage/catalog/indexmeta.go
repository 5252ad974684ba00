package catalog

import (
	"encoding/binary"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// IndexMetadata is the persisted description of one index: its id, name,
// the table it covers, and the ordinals of that table's columns forming
// the key, in key order. The index's current root page id is NOT stored
// here — it lives on the fixed index roots page, because the root moves
// on every structural change and the metadata page should not.
//
// Wire format:
//
//	[0:4]   magic       page.MagicIndexMeta
//	[4:8]   index id    int32 LE
//	[8:12]  name length uint32 LE
//	[12:n]  name        UTF-8 bytes
//	[n:n+4] table id    int32 LE
//	[n+4:n+8] key count uint32 LE
//	then key count × column ordinal, uint32 LE each.
type IndexMetadata struct {
	ID         int32
	Name       string
	TableID    int32
	KeyColumns []uint32
}

// SerializedSize returns the exact byte length Marshal writes.
func (m IndexMetadata) SerializedSize() int {
	return 4 + 4 + 4 + len(m.Name) + 4 + 4 + 4*len(m.KeyColumns)
}

// Marshal appends the index metadata's wire representation to buf.
func (m IndexMetadata) Marshal(buf []byte) []byte {
	start := len(buf)
	buf = append(buf, make([]byte, m.SerializedSize())...)
	w := buf[start:]
	binary.LittleEndian.PutUint32(w[0:4], page.MagicIndexMeta)
	binary.LittleEndian.PutUint32(w[4:8], uint32(m.ID))
	binary.LittleEndian.PutUint32(w[8:12], uint32(len(m.Name)))
	copy(w[12:12+len(m.Name)], m.Name)
	off := 12 + len(m.Name)
	binary.LittleEndian.PutUint32(w[off:off+4], uint32(m.TableID))
	off += 4
	binary.LittleEndian.PutUint32(w[off:off+4], uint32(len(m.KeyColumns)))
	off += 4
	for _, c := range m.KeyColumns {
		binary.LittleEndian.PutUint32(w[off:off+4], c)
		off += 4
	}
	return buf
}

// UnmarshalIndexMetadata reads an IndexMetadata from buf, returning it
// and the number of bytes consumed (0 on magic mismatch or truncation).
func UnmarshalIndexMetadata(buf []byte) (IndexMetadata, int) {
	if len(buf) < 12 || binary.LittleEndian.Uint32(buf[0:4]) != page.MagicIndexMeta {
		return IndexMetadata{}, 0
	}
	id := int32(binary.LittleEndian.Uint32(buf[4:8]))
	nameLen := int(binary.LittleEndian.Uint32(buf[8:12]))
	off := 12
	if len(buf) < off+nameLen+8 {
		return IndexMetadata{}, 0
	}
	name := string(buf[off : off+nameLen])
	off += nameLen
	tableID := int32(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	keyCount := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if len(buf) < off+4*keyCount {
		return IndexMetadata{}, 0
	}
	keys := make([]uint32, keyCount)
	for i := range keys {
		keys[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return IndexMetadata{ID: id, Name: name, TableID: tableID, KeyColumns: keys}, off
}
