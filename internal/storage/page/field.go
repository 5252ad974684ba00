package page

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ───────────────────────────────────────────────────────────────────────────
// Field types
// ───────────────────────────────────────────────────────────────────────────

// TypeKind tags the runtime type carried by a Field.
type TypeKind uint8

const (
	TypeInt TypeKind = iota + 1
	TypeFloat
	TypeChar
)

func (t TypeKind) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeChar:
		return "char"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Field is a single typed, possibly-null value within a Row. Char values
// are stored at their declared fixed length (zero-padded on write,
// trimmed on read by the caller if desired).
type Field struct {
	Type    TypeKind
	Null    bool
	Int     int32
	Float   float32
	Char    []byte
}

// NewIntField builds a non-null integer field.
func NewIntField(v int32) Field { return Field{Type: TypeInt, Int: v} }

// NewFloatField builds a non-null float field.
func NewFloatField(v float32) Field { return Field{Type: TypeFloat, Float: v} }

// NewCharField builds a non-null fixed-length char field. buf is copied.
func NewCharField(buf []byte) Field {
	c := make([]byte, len(buf))
	copy(c, buf)
	return Field{Type: TypeChar, Char: c}
}

// NewNullField builds a null field of the given type; length is the
// declared column length, needed so the serialized width matches
// non-null fields of the same column.
func NewNullField(t TypeKind, length int) Field {
	f := Field{Type: t, Null: true}
	if t == TypeChar {
		f.Char = make([]byte, length)
	}
	return f
}

// SerializedSize returns the number of bytes GetData writes for this
// field's value (excluding the null bitmap bit, which lives in the Row
// header). length is the column's declared length; only meaningful for
// TypeChar.
func (f Field) SerializedSize(length int) int {
	switch f.Type {
	case TypeInt:
		return 4
	case TypeFloat:
		return 4
	case TypeChar:
		return length
	default:
		return 0
	}
}

// GetData writes the field's value bytes (not the null flag) into buf,
// which must be at least SerializedSize(length) bytes.
func (f Field) GetData(buf []byte, length int) {
	if f.Null {
		for i := range buf[:f.SerializedSize(length)] {
			buf[i] = 0
		}
		return
	}
	switch f.Type {
	case TypeInt:
		binary.LittleEndian.PutUint32(buf[0:4], uint32(f.Int))
	case TypeFloat:
		binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(f.Float))
	case TypeChar:
		n := copy(buf[:length], f.Char)
		for i := n; i < length; i++ {
			buf[i] = 0
		}
	}
}

// ParseField reads a value of the given type/length from buf (isNull
// supplies the null bit, already extracted from the row's bitmap).
func ParseField(t TypeKind, length int, isNull bool, buf []byte) Field {
	f := Field{Type: t, Null: isNull}
	if isNull {
		if t == TypeChar {
			f.Char = make([]byte, length)
		}
		return f
	}
	switch t {
	case TypeInt:
		f.Int = int32(binary.LittleEndian.Uint32(buf[0:4]))
	case TypeFloat:
		f.Float = math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
	case TypeChar:
		f.Char = make([]byte, length)
		copy(f.Char, buf[:length])
	}
	return f
}

// Equal compares two fields of matching type for equality, including
// nullness. Index uniqueness is decided by the B+ tree on encoded keys,
// not by this method.
func (f Field) Equal(o Field) bool {
	if f.Type != o.Type || f.Null != o.Null {
		return false
	}
	if f.Null {
		return true
	}
	switch f.Type {
	case TypeInt:
		return f.Int == o.Int
	case TypeFloat:
		return f.Float == o.Float
	case TypeChar:
		return string(f.Char) == string(o.Char)
	}
	return false
}

// Compare orders two in-memory fields of matching type. B+ tree keys are
// not compared with it: the tree compares encoded key bytes with
// index.CompareKeys.
func (f Field) Compare(o Field) int {
	switch f.Type {
	case TypeInt:
		switch {
		case f.Int < o.Int:
			return -1
		case f.Int > o.Int:
			return 1
		default:
			return 0
		}
	case TypeFloat:
		switch {
		case f.Float < o.Float:
			return -1
		case f.Float > o.Float:
			return 1
		default:
			return 0
		}
	case TypeChar:
		a, b := string(f.Char), string(o.Char)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	return 0
}
