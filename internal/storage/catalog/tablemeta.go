package catalog

import (
	"encoding/binary"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// TableMetadata is the persisted description of one table: its id, name,
// schema, and the chain head of its table heap.
//
// Wire format:
//
//	[0:4]   magic          page.MagicTableMeta
//	[4:8]   table id       int32 LE
//	[8:12]  name length    uint32 LE
//	[12:n]  name           UTF-8 bytes
//	[n:n+4] first_page_id  int32 LE
//	then the schema, in its own Marshal format.
type TableMetadata struct {
	ID          int32
	Name        string
	Schema      page.Schema
	FirstPageID page.PageID
}

// SerializedSize returns the exact byte length Marshal writes.
func (m TableMetadata) SerializedSize() int {
	return 4 + 4 + 4 + len(m.Name) + 4 + m.Schema.SerializedSize()
}

// Marshal appends the table metadata's wire representation to buf.
func (m TableMetadata) Marshal(buf []byte) []byte {
	start := len(buf)
	head := 4 + 4 + 4 + len(m.Name) + 4
	buf = append(buf, make([]byte, head)...)
	w := buf[start:]
	binary.LittleEndian.PutUint32(w[0:4], page.MagicTableMeta)
	binary.LittleEndian.PutUint32(w[4:8], uint32(m.ID))
	binary.LittleEndian.PutUint32(w[8:12], uint32(len(m.Name)))
	copy(w[12:12+len(m.Name)], m.Name)
	off := 12 + len(m.Name)
	binary.LittleEndian.PutUint32(w[off:off+4], uint32(int32(m.FirstPageID)))
	return m.Schema.Marshal(buf)
}

// UnmarshalTableMetadata reads a TableMetadata from buf, returning it and
// the number of bytes consumed (0 on magic mismatch or truncation).
func UnmarshalTableMetadata(buf []byte) (TableMetadata, int) {
	if len(buf) < 12 || binary.LittleEndian.Uint32(buf[0:4]) != page.MagicTableMeta {
		return TableMetadata{}, 0
	}
	id := int32(binary.LittleEndian.Uint32(buf[4:8]))
	nameLen := int(binary.LittleEndian.Uint32(buf[8:12]))
	off := 12
	if len(buf) < off+nameLen+4 {
		return TableMetadata{}, 0
	}
	name := string(buf[off : off+nameLen])
	off += nameLen
	firstPageID := page.PageID(int32(binary.LittleEndian.Uint32(buf[off : off+4])))
	off += 4

	schema, n := page.UnmarshalSchema(buf[off:])
	if n == 0 {
		return TableMetadata{}, 0
	}
	off += n

	return TableMetadata{ID: id, Name: name, Schema: schema, FirstPageID: firstPageID}, off
}
