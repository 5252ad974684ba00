package page

import (
	"encoding/binary"
	"fmt"
)

// Column describes one field of a Schema: its name, declared type and
// length, and its nullable/unique flags, which are persisted with the
// schema.
//
// Wire format (magic-number-prefixed, self-describing):
//
//	[0:4]   magic            MagicColumn
//	[4:8]   name length      uint32 LE
//	[8:n]   name             UTF-8 bytes
//	[n:n+1] type             TypeKind
//	[n+1:n+5] length         uint32 LE (declared length; the fixed width for char)
//	[n+5:n+6] nullable       bool (0/1)
//	[n+6:n+7] unique         bool (0/1)
//	[n+7:n+11] tableIndex    uint32 LE — ordinal position within its Schema
type Column struct {
	Name       string
	Type       TypeKind
	Length     int
	Nullable   bool
	Unique     bool
	TableIndex int
}

// SerializedSize returns the exact number of bytes Marshal writes.
func (c Column) SerializedSize() int {
	return 4 + 4 + len(c.Name) + 1 + 4 + 1 + 1 + 4
}

// Marshal appends the column's wire representation to buf and returns
// the result.
func (c Column) Marshal(buf []byte) []byte {
	start := len(buf)
	out := append(buf, make([]byte, c.SerializedSize())...)
	w := out[start:]
	binary.LittleEndian.PutUint32(w[0:4], MagicColumn)
	binary.LittleEndian.PutUint32(w[4:8], uint32(len(c.Name)))
	n := copy(w[8:], c.Name)
	off := 8 + n
	w[off] = byte(c.Type)
	off++
	binary.LittleEndian.PutUint32(w[off:off+4], uint32(c.Length))
	off += 4
	w[off] = boolByte(c.Nullable)
	off++
	w[off] = boolByte(c.Unique)
	off++
	binary.LittleEndian.PutUint32(w[off:off+4], uint32(c.TableIndex))
	return out
}

// UnmarshalColumn reads a Column from buf, returning the column and the
// number of bytes consumed. Consumed is 0 and the Column is zero-valued
// if the magic does not match or buf is too short.
func UnmarshalColumn(buf []byte) (Column, int) {
	if len(buf) < 8 || binary.LittleEndian.Uint32(buf[0:4]) != MagicColumn {
		return Column{}, 0
	}
	nameLen := int(binary.LittleEndian.Uint32(buf[4:8]))
	need := 8 + nameLen + 1 + 4 + 1 + 1 + 4
	if len(buf) < need {
		return Column{}, 0
	}
	var c Column
	c.Name = string(buf[8 : 8+nameLen])
	off := 8 + nameLen
	c.Type = TypeKind(buf[off])
	off++
	c.Length = int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	c.Nullable = buf[off] != 0
	off++
	c.Unique = buf[off] != 0
	off++
	c.TableIndex = int(binary.LittleEndian.Uint32(buf[off : off+4]))
	return c, need
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (c Column) String() string {
	return fmt.Sprintf("%s %s(%d)", c.Name, c.Type, c.Length)
}
