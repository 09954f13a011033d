package btree

import (
	"bytes"
	"encoding/binary"
)

// KeyType identifies which of the two key encodings a tree uses, fixed for
// the tree's lifetime and recorded in the root page's reserved tail.
type KeyType byte

const (
	KeyTypeUInt64 KeyType = 1
	KeyTypeString KeyType = 2
)

// GeneralKey is the encoded byte form of a key, regardless of KeyType.
type GeneralKey []byte

// EncodeUInt64Key encodes a fixed 8-byte little-endian key.
func EncodeUInt64Key(v uint64) GeneralKey {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return GeneralKey(buf)
}

// DecodeUInt64Key decodes a fixed 8-byte little-endian key.
func DecodeUInt64Key(k GeneralKey) uint64 {
	return binary.LittleEndian.Uint64(k)
}

// EncodeStringKey encodes a variable-length key verbatim; the length prefix
// is carried by the cell, not the key bytes themselves.
func EncodeStringKey(s string) GeneralKey {
	return GeneralKey([]byte(s))
}

// DecodeStringKey decodes a variable-length key verbatim.
func DecodeStringKey(k GeneralKey) string {
	return string(k)
}

// Compare orders two keys of the same KeyType. UInt64 keys compare
// numerically; string keys compare lexicographically by byte value.
func Compare(kt KeyType, a, b GeneralKey) int {
	if kt == KeyTypeUInt64 {
		av, bv := DecodeUInt64Key(a), DecodeUInt64Key(b)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	}
	return bytes.Compare(a, b)
}
