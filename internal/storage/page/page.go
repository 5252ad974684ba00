// Package page defines the on-disk and in-memory shapes shared by every
// layer of the storage engine: page identifiers, row identifiers, and the
// self-describing binary formats used to serialize columns, schemas, and
// rows. Nothing in this package performs I/O; it only marshals and
// unmarshals byte slices so that the disk manager, buffer pool, table
// heap, and B+ tree can agree on layouts without importing each other.
package page

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Sizes and identifiers
// ───────────────────────────────────────────────────────────────────────────

const (
	// Size is the fixed physical page size in bytes.
	Size = 4096

	// InvalidID is the sentinel PageID denoting "no page".
	InvalidID PageID = -1

	// CatalogMetaPageID is the fixed logical page holding the catalog's
	// table/index id -> metadata-page-id maps. Pre-allocated when a new
	// database file is created, before any table or index exists.
	CatalogMetaPageID PageID = 0

	// IndexRootsPageID is the fixed logical page holding the map from
	// index id to that index's current B+ tree root page id.
	IndexRootsPageID PageID = 1
)

// PageID is a 32-bit signed logical page identifier. -1 means invalid;
// logical ids assigned by the disk manager's allocator are dense and
// non-negative.
type PageID int32

func (id PageID) Valid() bool { return id >= 0 }

func (id PageID) String() string {
	if id == InvalidID {
		return "<invalid>"
	}
	return fmt.Sprintf("%d", int32(id))
}

// RowID locates a tuple within a table heap: the slotted page it lives on
// and its slot number within that page.
type RowID struct {
	PageID PageID
	Slot   uint32
}

// InvalidRowID is the RowID sentinel used by End() iterators and empty
// lookups.
var InvalidRowID = RowID{PageID: InvalidID, Slot: 0}

func (r RowID) Valid() bool { return r.PageID.Valid() }

func (r RowID) String() string {
	return fmt.Sprintf("(%s,%d)", r.PageID, r.Slot)
}

// MarshalRowID writes a RowID in its external wire shape: page_id as a
// signed 4-byte int, slot as an unsigned 4-byte int, both little-endian.
func MarshalRowID(r RowID, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.PageID))
	binary.LittleEndian.PutUint32(buf[4:8], r.Slot)
}

// UnmarshalRowID reads a RowID from its wire shape.
func UnmarshalRowID(buf []byte) RowID {
	return RowID{
		PageID: PageID(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		Slot:   binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// RowIDSize is the serialized width of a RowID: (page_id int32, slot uint32).
const RowIDSize = 8
