// Package document implements the self-describing document value codec of
// spec.md §4.9: a tagged union over null, double, string, sub-document,
// homogeneous array, binary data, boolean, datetime, int32, int64, and
// uint64, serialized to and from the bytes stored as an entry payload by
// internal/btree.
package document

import (
	"fmt"
	"time"
)

// Tag identifies a Value's kind, and doubles as its wire-format tag byte.
type Tag byte

const (
	TagNull       Tag = 0
	TagDouble     Tag = 1
	TagString     Tag = 2
	TagDocument   Tag = 3
	TagArray      Tag = 4
	TagBinaryData Tag = 5
	TagBoolean    Tag = 6
	TagDateTime   Tag = 7
	TagInt32      Tag = 8
	TagInt64      Tag = 9
	TagUInt64     Tag = 10
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagDouble:
		return "double"
	case TagString:
		return "string"
	case TagDocument:
		return "document"
	case TagArray:
		return "array"
	case TagBinaryData:
		return "binary"
	case TagBoolean:
		return "bool"
	case TagDateTime:
		return "datetime"
	case TagInt32:
		return "int32"
	case TagInt64:
		return "int64"
	case TagUInt64:
		return "uint64"
	default:
		return fmt.Sprintf("tag(%d)", byte(t))
	}
}

// Value is one document value of any kind. Exactly one of the typed
// fields is meaningful, selected by Tag; this mirrors the reference
// implementation's polymorphic DocumentValue hierarchy as a Go sum type
// instead of a class hierarchy, per the "prefer data over inheritance"
// design note.
type Value struct {
	Tag      Tag
	Double   float64
	Str      string
	Doc      *Document
	Array    []Value
	ArrayTag Tag // element tag, meaningful only when Tag == TagArray
	Binary   []byte
	Bool     bool
	DateTime time.Time
	Int32    int32
	Int64    int64
	UInt64   uint64
}

// Null is the shared null value.
var Null = Value{Tag: TagNull}

func NewDouble(v float64) Value   { return Value{Tag: TagDouble, Double: v} }
func NewString(v string) Value    { return Value{Tag: TagString, Str: v} }
func NewDocument(v *Document) Value { return Value{Tag: TagDocument, Doc: v} }
func NewBinary(v []byte) Value    { return Value{Tag: TagBinaryData, Binary: v} }
func NewBool(v bool) Value        { return Value{Tag: TagBoolean, Bool: v} }
func NewDateTime(v time.Time) Value { return Value{Tag: TagDateTime, DateTime: v} }
func NewInt32(v int32) Value      { return Value{Tag: TagInt32, Int32: v} }
func NewInt64(v int64) Value      { return Value{Tag: TagInt64, Int64: v} }
func NewUInt64(v uint64) Value    { return Value{Tag: TagUInt64, UInt64: v} }

// NewArray builds an array value; every element must carry elemTag, since
// arrays are homogeneous and store only one shared tag on the wire.
func NewArray(elemTag Tag, elems []Value) Value {
	return Value{Tag: TagArray, ArrayTag: elemTag, Array: elems}
}

// Field is one named entry in a Document, in insertion order (Document
// preserves field order rather than sorting, matching how the reference
// implementation's Document iterates its backing vector).
type Field struct {
	Name  string
	Value Value
}

// Document is an ordered collection of named values: the sub-document
// body, and also the shape of a top-level stored entry.
type Document struct {
	Fields []Field
}

// With appends a field and returns d, for chained construction.
func (d *Document) With(name string, v Value) *Document {
	d.Fields = append(d.Fields, Field{Name: name, Value: v})
	return d
}

// Get returns the named field's value, or (Null, false) if absent.
func (d *Document) Get(name string) (Value, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Null, false
}
