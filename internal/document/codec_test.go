package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundTripScalarFields(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	d := (&Document{}).
		With("name", NewString("alice")).
		With("age", NewInt32(30)).
		With("balance", NewDouble(12.5)).
		With("active", NewBool(true)).
		With("created", NewDateTime(now)).
		With("id", NewUInt64(42)).
		With("delta", NewInt64(-7)).
		With("tag", Null)

	encoded := Encode(d)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Fields, len(d.Fields))

	v, ok := decoded.Get("name")
	require.True(t, ok)
	require.Equal(t, "alice", v.Str)

	v, ok = decoded.Get("age")
	require.True(t, ok)
	require.Equal(t, int32(30), v.Int32)

	v, ok = decoded.Get("balance")
	require.True(t, ok)
	require.Equal(t, 12.5, v.Double)

	v, ok = decoded.Get("active")
	require.True(t, ok)
	require.True(t, v.Bool)

	v, ok = decoded.Get("created")
	require.True(t, ok)
	require.True(t, now.Equal(v.DateTime))

	v, ok = decoded.Get("id")
	require.True(t, ok)
	require.Equal(t, uint64(42), v.UInt64)

	v, ok = decoded.Get("delta")
	require.True(t, ok)
	require.Equal(t, int64(-7), v.Int64)

	v, ok = decoded.Get("tag")
	require.True(t, ok)
	require.Equal(t, TagNull, v.Tag)
}

func TestRoundTripNestedDocumentAndArray(t *testing.T) {
	inner := (&Document{}).With("city", NewString("Lagos"))
	arr := NewArray(TagInt32, []Value{NewInt32(1), NewInt32(2), NewInt32(3)})
	d := (&Document{}).With("address", NewDocument(inner)).With("scores", arr).With("blob", NewBinary([]byte{1, 2, 3, 4}))

	decoded, err := Decode(Encode(d))
	require.NoError(t, err)

	addr, ok := decoded.Get("address")
	require.True(t, ok)
	require.Equal(t, TagDocument, addr.Tag)
	city, ok := addr.Doc.Get("city")
	require.True(t, ok)
	require.Equal(t, "Lagos", city.Str)

	scores, ok := decoded.Get("scores")
	require.True(t, ok)
	require.Equal(t, TagInt32, scores.ArrayTag)
	require.Len(t, scores.Array, 3)
	require.Equal(t, int32(2), scores.Array[1].Int32)

	blob, ok := decoded.Get("blob")
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4}, blob.Binary)
}

func TestDecodeRejectsWrongTopLevelTag(t *testing.T) {
	_, err := Decode([]byte{byte(TagInt32), 1, 2, 3, 4})
	require.Error(t, err)
}
