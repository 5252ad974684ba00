package page

import "encoding/binary"

// Row is an ordered sequence of Fields matching some Schema.
//
// Wire format:
//
//	[0:4]     magic          MagicRow
//	[4:8]     field count    uint32 LE
//	[8:8+k]   null bitmap    k = ceil(count/8) bytes, bit i set => field i is null
//	then each non-bitmap field's value bytes, back to back, each sized per
//	the corresponding Schema column (int/float fixed at 4 bytes, char at
//	its declared length). Null fields still occupy their slot, zero-filled,
//	so the row's serialized size only depends on the schema, not on which
//	fields happen to be null.
type Row struct {
	Fields []Field
	RID    RowID
}

// NullBitmapSize returns ceil(n/8).
func NullBitmapSize(n int) int {
	return (n + 7) / 8
}

// SerializedSize returns the exact byte length Marshal writes, given the
// row's schema (needed for char column widths).
func (r Row) SerializedSize(s Schema) int {
	n := 8 + NullBitmapSize(len(r.Fields))
	for i, f := range r.Fields {
		n += f.SerializedSize(s.Columns[i].Length)
	}
	return n
}

// Marshal appends the row's wire representation to buf.
func (r Row) Marshal(buf []byte, s Schema) []byte {
	start := len(buf)
	bmSize := NullBitmapSize(len(r.Fields))
	buf = append(buf, make([]byte, 8+bmSize)...)
	binary.LittleEndian.PutUint32(buf[start:start+4], MagicRow)
	binary.LittleEndian.PutUint32(buf[start+4:start+8], uint32(len(r.Fields)))
	bitmap := buf[start+8 : start+8+bmSize]
	for i, f := range r.Fields {
		if f.Null {
			bitmap[i/8] |= 1 << uint(i%8)
		}
	}
	for i, f := range r.Fields {
		length := s.Columns[i].Length
		valStart := len(buf)
		buf = append(buf, make([]byte, f.SerializedSize(length))...)
		f.GetData(buf[valStart:], length)
	}
	return buf
}

// UnmarshalRow reads a Row from buf using the given schema to know each
// field's type and width. Returns the row and bytes consumed, or (Row{}, 0)
// on a magic mismatch or truncated buffer.
func UnmarshalRow(buf []byte, s Schema) (Row, int) {
	if len(buf) < 8 || binary.LittleEndian.Uint32(buf[0:4]) != MagicRow {
		return Row{}, 0
	}
	count := int(binary.LittleEndian.Uint32(buf[4:8]))
	if count != len(s.Columns) {
		return Row{}, 0
	}
	bmSize := NullBitmapSize(count)
	off := 8 + bmSize
	if len(buf) < off {
		return Row{}, 0
	}
	bitmap := buf[8:off]
	fields := make([]Field, count)
	for i := 0; i < count; i++ {
		col := s.Columns[i]
		isNull := bitmap[i/8]&(1<<uint(i%8)) != 0
		width := (Field{Type: col.Type}).SerializedSize(col.Length)
		if len(buf) < off+width {
			return Row{}, 0
		}
		fields[i] = ParseField(col.Type, col.Length, isNull, buf[off:off+width])
		off += width
	}
	return Row{Fields: fields}, off
}
