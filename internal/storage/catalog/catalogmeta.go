package catalog

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/RamonZhou/MiniSQL/internal/storage/page"
)

// CatalogMeta is the content of the fixed page.CatalogMetaPageID page:
// a database instance id minted at create time, the map from table id
// to that table's metadata page id, and from index id to that index's
// metadata page id. The instance id is an integrity aid beyond the
// magic number: a meta page copied between database files no longer
// claims to belong to its new host.
//
// Wire format:
//
//	[0:4]   magic              page.MagicCatalogMeta
//	[4:20]  instance id        16 raw UUID bytes
//	[20:24] table count        uint32 LE
//	        table count × {id int32 LE, meta_page_id int32 LE}
//	[*:*+4] index count        uint32 LE
//	        index count × {id int32 LE, meta_page_id int32 LE}
type CatalogMeta struct {
	InstanceID uuid.UUID
	Tables     map[int32]page.PageID
	Indexes    map[int32]page.PageID
}

// SerializedSize returns the exact byte length Marshal writes.
func (m CatalogMeta) SerializedSize() int {
	return 4 + 16 + 4 + 8*len(m.Tables) + 4 + 8*len(m.Indexes)
}

// Marshal appends the catalog meta's wire representation to buf.
func (m CatalogMeta) Marshal(buf []byte) []byte {
	start := len(buf)
	buf = append(buf, make([]byte, 4+16+4)...)
	binary.LittleEndian.PutUint32(buf[start:start+4], page.MagicCatalogMeta)
	copy(buf[start+4:start+20], m.InstanceID[:])
	binary.LittleEndian.PutUint32(buf[start+20:start+24], uint32(len(m.Tables)))
	buf = marshalIDMap(buf, m.Tables)
	idxStart := len(buf)
	buf = append(buf, make([]byte, 4)...)
	binary.LittleEndian.PutUint32(buf[idxStart:idxStart+4], uint32(len(m.Indexes)))
	buf = marshalIDMap(buf, m.Indexes)
	return buf
}

func marshalIDMap(buf []byte, m map[int32]page.PageID) []byte {
	for id, pid := range m {
		start := len(buf)
		buf = append(buf, make([]byte, 8)...)
		binary.LittleEndian.PutUint32(buf[start:start+4], uint32(id))
		binary.LittleEndian.PutUint32(buf[start+4:start+8], uint32(int32(pid)))
	}
	return buf
}

// UnmarshalCatalogMeta reads a CatalogMeta from buf, returning it and the
// number of bytes consumed (0 on magic mismatch or truncation).
func UnmarshalCatalogMeta(buf []byte) (CatalogMeta, int) {
	if len(buf) < 24 || binary.LittleEndian.Uint32(buf[0:4]) != page.MagicCatalogMeta {
		return CatalogMeta{}, 0
	}
	var instanceID uuid.UUID
	copy(instanceID[:], buf[4:20])
	off := 20
	tableCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	tables, n, ok := unmarshalIDMap(buf[off:], tableCount)
	if !ok {
		return CatalogMeta{}, 0
	}
	off += n

	if len(buf) < off+4 {
		return CatalogMeta{}, 0
	}
	indexCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	indexes, n, ok := unmarshalIDMap(buf[off:], indexCount)
	if !ok {
		return CatalogMeta{}, 0
	}
	off += n

	return CatalogMeta{InstanceID: instanceID, Tables: tables, Indexes: indexes}, off
}

func unmarshalIDMap(buf []byte, count int) (map[int32]page.PageID, int, bool) {
	need := count * 8
	if len(buf) < need {
		return nil, 0, false
	}
	m := make(map[int32]page.PageID, count)
	for i := 0; i < count; i++ {
		off := i * 8
		id := int32(binary.LittleEndian.Uint32(buf[off:]))
		pid := page.PageID(int32(binary.LittleEndian.Uint32(buf[off+4:])))
		m[id] = pid
	}
	return m, need, true
}

// NewCatalogMeta builds an empty catalog meta with a fresh instance id,
// as written to a freshly created database file.
func NewCatalogMeta() CatalogMeta {
	return CatalogMeta{
		InstanceID: uuid.New(),
		Tables:     make(map[int32]page.PageID),
		Indexes:    make(map[int32]page.PageID),
	}
}
