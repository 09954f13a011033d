package neversql_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nrupprecht/NeverSQL/internal/btree"
	"github.com/nrupprecht/NeverSQL/internal/datamgr"
	"github.com/nrupprecht/NeverSQL/internal/document"
)

func tempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "neversql-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// TestCreateThenReopen covers spec.md §8 scenario 1.
func TestCreateThenReopen(t *testing.T) {
	dir := tempDir(t)

	mgr, err := datamgr.Open(dir, datamgr.Options{})
	require.NoError(t, err)
	ok, err := mgr.AddCollection("elements", btree.KeyTypeUInt64)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mgr.Close())

	mgr2, err := datamgr.Open(dir, datamgr.Options{})
	require.NoError(t, err)
	defer mgr2.Close()

	names, err := mgr2.CollectionNames()
	require.NoError(t, err)
	require.Equal(t, []string{"elements"}, names)
}

// TestSequentialInsertsAndSpotRetrieve covers spec.md §8 scenario 2.
func TestSequentialInsertsAndSpotRetrieve(t *testing.T) {
	dir := tempDir(t)
	mgr, err := datamgr.Open(dir, datamgr.Options{})
	require.NoError(t, err)
	defer mgr.Close()

	_, err = mgr.AddCollection("elements", btree.KeyTypeUInt64)
	require.NoError(t, err)

	for i := uint64(0); i < 1000; i++ {
		doc := (&document.Document{}).
			With("pk", document.NewUInt64(i)).
			With("data", document.NewString(fmt.Sprintf("Entry %d", i)))
		inserted, err := mgr.AddValue("elements", i, doc)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	for _, i := range []uint64{0, 499, 999} {
		doc, found, err := mgr.Retrieve("elements", i)
		require.NoError(t, err)
		require.True(t, found)
		pk, _ := doc.Get("pk")
		require.Equal(t, i, pk.UInt64)
		data, _ := doc.Get("data")
		require.Equal(t, fmt.Sprintf("Entry %d", i), data.Str)
	}
}

// TestStringKeyedFilteredIteration covers spec.md §8 scenario 3.
func TestStringKeyedFilteredIteration(t *testing.T) {
	dir := tempDir(t)
	mgr, err := datamgr.Open(dir, datamgr.Options{})
	require.NoError(t, err)
	defer mgr.Close()

	_, err = mgr.AddCollection("people", btree.KeyTypeString)
	require.NoError(t, err)

	insertPerson := func(key, name string, age int32) {
		doc := (&document.Document{}).With("name", document.NewString(name)).With("age", document.NewInt32(age))
		inserted, err := mgr.AddValue("people", key, doc)
		require.NoError(t, err)
		require.True(t, inserted)
	}
	insertPerson("George", "George", 24)
	insertPerson("Helen", "Helen", 25)

	countUnder41 := func() int {
		it, err := mgr.IterWhere("people", func(d *document.Document) bool {
			age, _ := d.Get("age")
			return age.Int32 <= 40
		})
		require.NoError(t, err)
		n := 0
		for it.Valid() {
			n++
			it.Next()
		}
		return n
	}

	require.Equal(t, 2, countUnder41())

	insertPerson("Carson", "Carson", 44)
	require.Equal(t, 2, countUnder41())
}

// TestOverflowPayload covers spec.md §8 scenario 4.
func TestOverflowPayload(t *testing.T) {
	dir := tempDir(t)
	mgr, err := datamgr.Open(dir, datamgr.Options{MaxEntrySize: 256})
	require.NoError(t, err)
	defer mgr.Close()

	_, err = mgr.AddCollection("big", btree.KeyTypeUInt64)
	require.NoError(t, err)

	payload := make([]byte, 4950)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	doc := (&document.Document{}).With("blob", document.NewBinary(payload))

	inserted, err := mgr.AddValue("big", uint64(1), doc)
	require.NoError(t, err)
	require.True(t, inserted)

	got, found, err := mgr.Retrieve("big", uint64(1))
	require.NoError(t, err)
	require.True(t, found)
	blob, ok := got.Get("blob")
	require.True(t, ok)
	require.Equal(t, payload, blob.Binary)
}

// TestRootSplit covers spec.md §8 scenario 5.
func TestRootSplit(t *testing.T) {
	dir := tempDir(t)
	mgr, err := datamgr.Open(dir, datamgr.Options{PageSizePower: 9})
	require.NoError(t, err)
	defer mgr.Close()

	_, err = mgr.AddCollection("tiny", btree.KeyTypeUInt64)
	require.NoError(t, err)

	for i := uint64(0); i < 60; i++ {
		doc := (&document.Document{}).With("pk", document.NewUInt64(i))
		_, err := mgr.AddValue("tiny", i, doc)
		require.NoError(t, err)
	}

	for i := uint64(0); i < 60; i++ {
		_, found, err := mgr.Retrieve("tiny", i)
		require.NoError(t, err)
		require.True(t, found)
	}
}

// TestDuplicateKeyRejected covers spec.md §8 scenario 6.
func TestDuplicateKeyRejected(t *testing.T) {
	dir := tempDir(t)
	mgr, err := datamgr.Open(dir, datamgr.Options{})
	require.NoError(t, err)
	defer mgr.Close()

	_, err = mgr.AddCollection("elements", btree.KeyTypeUInt64)
	require.NoError(t, err)

	doc1 := (&document.Document{}).With("data", document.NewString("first"))
	inserted, err := mgr.AddValue("elements", uint64(7), doc1)
	require.NoError(t, err)
	require.True(t, inserted)

	doc2 := (&document.Document{}).With("data", document.NewString("second"))
	inserted, err = mgr.AddValue("elements", uint64(7), doc2)
	require.NoError(t, err)
	require.False(t, inserted)

	got, found, err := mgr.Retrieve("elements", uint64(7))
	require.NoError(t, err)
	require.True(t, found)
	data, _ := got.Get("data")
	require.Equal(t, "first", data.Str)
}
