package page

import "encoding/binary"

// Schema is an ordered list of Columns describing the shape of every Row
// in a table.
//
// Wire format:
//
//	[0:4]  magic          MagicSchema
//	[4:8]  column count   uint32 LE
//	then each Column, back to back, in its own Marshal format.
type Schema struct {
	Columns []Column
}

// NewSchema builds a Schema, stamping TableIndex on each column to match
// its position.
func NewSchema(cols []Column) Schema {
	s := Schema{Columns: make([]Column, len(cols))}
	copy(s.Columns, cols)
	for i := range s.Columns {
		s.Columns[i].TableIndex = i
	}
	return s
}

// ColumnIndex returns the position of a named column, or -1 if absent.
func (s Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// SerializedSize returns the exact byte length Marshal writes.
func (s Schema) SerializedSize() int {
	n := 8
	for _, c := range s.Columns {
		n += c.SerializedSize()
	}
	return n
}

// Marshal appends the schema's wire representation to buf.
func (s Schema) Marshal(buf []byte) []byte {
	start := len(buf)
	buf = append(buf, make([]byte, 8)...)
	binary.LittleEndian.PutUint32(buf[start:start+4], MagicSchema)
	binary.LittleEndian.PutUint32(buf[start+4:start+8], uint32(len(s.Columns)))
	for _, c := range s.Columns {
		buf = c.Marshal(buf)
	}
	return buf
}

// UnmarshalSchema reads a Schema from buf, returning it and the number of
// bytes consumed (0 on a magic mismatch or truncated buffer).
func UnmarshalSchema(buf []byte) (Schema, int) {
	if len(buf) < 8 || binary.LittleEndian.Uint32(buf[0:4]) != MagicSchema {
		return Schema{}, 0
	}
	count := int(binary.LittleEndian.Uint32(buf[4:8]))
	off := 8
	cols := make([]Column, 0, count)
	for i := 0; i < count; i++ {
		c, n := UnmarshalColumn(buf[off:])
		if n == 0 {
			return Schema{}, 0
		}
		cols = append(cols, c)
		off += n
	}
	return Schema{Columns: cols}, off
}
