package document

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Encode serializes a top-level document with its leading tag byte, the
// form spec.md §4.9 calls the default entry payload shape.
func Encode(d *Document) []byte {
	var buf []byte
	buf = append(buf, byte(TagDocument))
	buf = appendDocumentBody(buf, d)
	return buf
}

// EncodeUntagged serializes a document's body only, without the leading
// tag byte, for contexts (per §4.9) that already know the shape.
func EncodeUntagged(d *Document) []byte {
	return appendDocumentBody(nil, d)
}

// Decode parses a top-level tagged document produced by Encode.
func Decode(buf []byte) (*Document, error) {
	if len(buf) == 0 {
		return nil, errors.New("document: empty buffer")
	}
	if Tag(buf[0]) != TagDocument {
		return nil, errors.Errorf("document: expected top-level tag %s, got %s", TagDocument, Tag(buf[0]))
	}
	d, _, err := readDocumentBody(buf[1:])
	return d, err
}

func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Tag))
	return appendValueBody(buf, v)
}

func appendValueBody(buf []byte, v Value) []byte {
	switch v.Tag {
	case TagNull:
		return buf
	case TagDouble:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.Double))
		return append(buf, b[:]...)
	case TagString:
		return appendLenPrefixed(buf, []byte(v.Str))
	case TagDocument:
		return appendDocumentBody(buf, v.Doc)
	case TagArray:
		buf = append(buf, byte(v.ArrayTag))
		var countBuf [4]byte
		binary.LittleEndian.PutUint32(countBuf[:], uint32(len(v.Array)))
		buf = append(buf, countBuf[:]...)
		for _, elem := range v.Array {
			buf = appendValueBody(buf, Value{Tag: v.ArrayTag, Double: elem.Double, Str: elem.Str, Doc: elem.Doc,
				Array: elem.Array, ArrayTag: elem.ArrayTag, Binary: elem.Binary, Bool: elem.Bool,
				DateTime: elem.DateTime, Int32: elem.Int32, Int64: elem.Int64, UInt64: elem.UInt64})
		}
		return buf
	case TagBinaryData:
		return appendLenPrefixed(buf, v.Binary)
	case TagBoolean:
		if v.Bool {
			return append(buf, 1)
		}
		return append(buf, 0)
	case TagDateTime:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.DateTime.UnixNano()))
		return append(buf, b[:]...)
	case TagInt32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.Int32))
		return append(buf, b[:]...)
	case TagInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.Int64))
		return append(buf, b[:]...)
	case TagUInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v.UInt64)
		return append(buf, b[:]...)
	default:
		panic(fmt.Sprintf("document: unknown tag %d", v.Tag))
	}
}

func appendLenPrefixed(buf []byte, data []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}

func appendDocumentBody(buf []byte, d *Document) []byte {
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(d.Fields)))
	buf = append(buf, countBuf[:]...)
	for _, f := range d.Fields {
		var nameLenBuf [2]byte
		binary.LittleEndian.PutUint16(nameLenBuf[:], uint16(len(f.Name)))
		buf = append(buf, nameLenBuf[:]...)
		buf = append(buf, f.Name...)
		buf = appendValue(buf, f.Value)
	}
	return buf
}

func readValue(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, errors.New("document: truncated value tag")
	}
	tag := Tag(buf[0])
	v, n, err := readValueBody(tag, buf[1:])
	if err != nil {
		return Value{}, 0, err
	}
	v.Tag = tag
	return v, n + 1, nil
}

func readValueBody(tag Tag, buf []byte) (Value, int, error) {
	switch tag {
	case TagNull:
		return Value{}, 0, nil
	case TagDouble:
		if len(buf) < 8 {
			return Value{}, 0, errors.New("document: truncated double")
		}
		return Value{Double: math.Float64frombits(binary.LittleEndian.Uint64(buf))}, 8, nil
	case TagString:
		s, n, err := readLenPrefixed(buf)
		return Value{Str: string(s)}, n, err
	case TagDocument:
		d, n, err := readDocumentBody(buf)
		return Value{Doc: d}, n, err
	case TagArray:
		if len(buf) < 5 {
			return Value{}, 0, errors.New("document: truncated array header")
		}
		elemTag := Tag(buf[0])
		count := binary.LittleEndian.Uint32(buf[1:5])
		pos := 5
		elems := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			ev, n, err := readValueBody(elemTag, buf[pos:])
			if err != nil {
				return Value{}, 0, err
			}
			ev.Tag = elemTag
			elems = append(elems, ev)
			pos += n
		}
		return Value{ArrayTag: elemTag, Array: elems}, pos, nil
	case TagBinaryData:
		b, n, err := readLenPrefixed(buf)
		return Value{Binary: b}, n, err
	case TagBoolean:
		if len(buf) < 1 {
			return Value{}, 0, errors.New("document: truncated bool")
		}
		return Value{Bool: buf[0] != 0}, 1, nil
	case TagDateTime:
		if len(buf) < 8 {
			return Value{}, 0, errors.New("document: truncated datetime")
		}
		nanos := int64(binary.LittleEndian.Uint64(buf[:8]))
		return Value{DateTime: time.Unix(0, nanos).UTC()}, 8, nil
	case TagInt32:
		if len(buf) < 4 {
			return Value{}, 0, errors.New("document: truncated int32")
		}
		return Value{Int32: int32(binary.LittleEndian.Uint32(buf))}, 4, nil
	case TagInt64:
		if len(buf) < 8 {
			return Value{}, 0, errors.New("document: truncated int64")
		}
		return Value{Int64: int64(binary.LittleEndian.Uint64(buf))}, 8, nil
	case TagUInt64:
		if len(buf) < 8 {
			return Value{}, 0, errors.New("document: truncated uint64")
		}
		return Value{UInt64: binary.LittleEndian.Uint64(buf)}, 8, nil
	default:
		return Value{}, 0, errors.Errorf("document: unknown tag %d", tag)
	}
}

func readLenPrefixed(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, errors.New("document: truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	if len(buf) < 4+int(n) {
		return nil, 0, errors.New("document: truncated length-prefixed data")
	}
	out := make([]byte, n)
	copy(out, buf[4:4+n])
	return out, 4 + int(n), nil
}

func readDocumentBody(buf []byte) (*Document, int, error) {
	if len(buf) < 8 {
		return nil, 0, errors.New("document: truncated field count")
	}
	count := binary.LittleEndian.Uint64(buf[:8])
	pos := 8
	d := &Document{Fields: make([]Field, 0, count)}
	for i := uint64(0); i < count; i++ {
		if len(buf) < pos+2 {
			return nil, 0, errors.New("document: truncated field name length")
		}
		nameLen := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
		pos += 2
		if len(buf) < pos+nameLen {
			return nil, 0, errors.New("document: truncated field name")
		}
		name := string(buf[pos : pos+nameLen])
		pos += nameLen
		v, n, err := readValue(buf[pos:])
		if err != nil {
			return nil, 0, errors.Wrapf(err, "document: field %q", name)
		}
		pos += n
		d.Fields = append(d.Fields, Field{Name: name, Value: v})
	}
	return d, pos, nil
}
