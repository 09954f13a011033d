package btree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/nrupprecht/NeverSQL/internal/cache"
	"github.com/nrupprecht/NeverSQL/internal/pager"
	"github.com/nrupprecht/NeverSQL/internal/walog"
)

func newTestManager(t *testing.T, keyType KeyType, pageSizePower uint8, numFrames int) *Manager {
	t.Helper()
	dir := t.TempDir()
	f, err := pager.Open(dir, pager.Options{PageSizePower: pageSizePower})
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	c := cache.New(f, numFrames, nil)
	wal, err := walog.Open(dir, walog.DefaultFlushThreshold, nil)
	if err != nil {
		t.Fatalf("walog.Open: %v", err)
	}
	t.Cleanup(func() { wal.Close() })

	m, err := Create(Config{Cache: c, Wal: wal}, keyType)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return m
}

func TestSequentialUInt64InsertAndRetrieve(t *testing.T) {
	m := newTestManager(t, KeyTypeUInt64, pager.DefaultPageSizePower, 64)
	txn := m.NewTransaction()

	for i := uint64(0); i < 1000; i++ {
		ok, err := m.AddValue(txn, EncodeUInt64Key(i), []byte(fmt.Sprintf("value-%d", i)))
		if err != nil {
			t.Fatalf("AddValue(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("AddValue(%d): expected insertion, got duplicate", i)
		}
	}

	for _, i := range []uint64{0, 499, 999} {
		v, ok, err := m.Retrieve(EncodeUInt64Key(i))
		if err != nil {
			t.Fatalf("Retrieve(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("Retrieve(%d): expected to find key", i)
		}
		want := fmt.Sprintf("value-%d", i)
		if string(v) != want {
			t.Fatalf("Retrieve(%d): got %q want %q", i, v, want)
		}
	}
}

func TestDuplicateKeyRejected(t *testing.T) {
	m := newTestManager(t, KeyTypeUInt64, pager.DefaultPageSizePower, 32)
	txn := m.NewTransaction()

	ok, err := m.AddValue(txn, EncodeUInt64Key(7), []byte("first"))
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	ok, err = m.AddValue(txn, EncodeUInt64Key(7), []byte("second"))
	if err != nil {
		t.Fatalf("duplicate insert: unexpected error %v", err)
	}
	if ok {
		t.Fatalf("duplicate insert: expected ok=false")
	}

	v, found, err := m.Retrieve(EncodeUInt64Key(7))
	if err != nil || !found {
		t.Fatalf("Retrieve: found=%v err=%v", found, err)
	}
	if string(v) != "first" {
		t.Fatalf("duplicate insert must not overwrite: got %q", v)
	}
}

func TestStringKeyedCollectionIteration(t *testing.T) {
	m := newTestManager(t, KeyTypeString, pager.DefaultPageSizePower, 32)
	txn := m.NewTransaction()

	keys := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for _, k := range keys {
		ok, err := m.AddValue(txn, EncodeStringKey(k), []byte("v-"+k))
		if err != nil || !ok {
			t.Fatalf("AddValue(%q): ok=%v err=%v", k, ok, err)
		}
	}

	it, err := m.Iterate(nil)
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	var got []string
	for it.Valid() {
		got = append(got, DecodeStringKey(it.Key()))
		it.Next()
	}
	want := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	if len(got) != len(want) {
		t.Fatalf("iteration length: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("iteration order mismatch at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestOverflowEntryRoundTrips(t *testing.T) {
	m := newTestManager(t, KeyTypeUInt64, pager.DefaultPageSizePower, 32)
	txn := m.NewTransaction()

	big := bytes.Repeat([]byte("x"), 5000)
	ok, err := m.AddValue(txn, EncodeUInt64Key(1), big)
	if err != nil {
		t.Fatalf("AddValue: %v", err)
	}
	if !ok {
		t.Fatalf("expected insertion to succeed")
	}

	v, found, err := m.Retrieve(EncodeUInt64Key(1))
	if err != nil || !found {
		t.Fatalf("Retrieve: found=%v err=%v", found, err)
	}
	if !bytes.Equal(v, big) {
		t.Fatalf("overflow entry round-trip mismatch: got %d bytes, want %d", len(v), len(big))
	}
}

func TestRootSplitAtSmallPageSize(t *testing.T) {
	m := newTestManager(t, KeyTypeUInt64, pager.MinPageSizePower, 64) // 512-byte pages
	txn := m.NewTransaction()

	const n = 40
	for i := uint64(0); i < n; i++ {
		ok, err := m.AddValue(txn, EncodeUInt64Key(i), []byte(fmt.Sprintf("v%02d", i)))
		if err != nil {
			t.Fatalf("AddValue(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("AddValue(%d): expected insertion", i)
		}
	}

	for i := uint64(0); i < n; i++ {
		v, found, err := m.Retrieve(EncodeUInt64Key(i))
		if err != nil {
			t.Fatalf("Retrieve(%d): %v", i, err)
		}
		if !found {
			t.Fatalf("Retrieve(%d): expected to find key after root split", i)
		}
		want := fmt.Sprintf("v%02d", i)
		if string(v) != want {
			t.Fatalf("Retrieve(%d): got %q want %q", i, v, want)
		}
	}

	h, err := m.pinPage(m.RootPage)
	if err != nil {
		t.Fatalf("pinPage(root): %v", err)
	}
	root := Wrap(h)
	if !root.IsPointersPage() {
		h.Release()
		t.Fatalf("expected root to become a pointers page after split")
	}
	additional := root.AdditionalData()
	h.Release()
	if additional == 0 {
		t.Fatalf("expected root's AdditionalData to point at a live child")
	}
	ch, err := m.pinPage(additional)
	if err != nil {
		t.Fatalf("pinPage(root.AdditionalData=%d): %v", additional, err)
	}
	if err := Wrap(ch).CheckIdentity(); err != nil {
		ch.Release()
		t.Fatalf("root.AdditionalData child failed identity check: %v", err)
	}
	ch.Release()
}

// pageCellCount pins pn and returns the number of live cells on it.
func pageCellCount(t *testing.T, m *Manager, pn uint64) int {
	t.Helper()
	h, err := m.pinPage(pn)
	if err != nil {
		t.Fatalf("pinPage(%d): %v", pn, err)
	}
	defer h.Release()
	cells, err := Wrap(h).AllCells(m.KeyType)
	if err != nil {
		t.Fatalf("AllCells(%d): %v", pn, err)
	}
	return len(cells)
}

// TestUnbalancedSplitForUInt64Keys covers spec.md §4.7's "unbalanced
// splits are used when key_type == uint64": the first root split should
// move only the single highest-keyed cell to the new sibling
// (root.AdditionalData), not half the entries. The insert that provoked
// the split then lands on that sibling too, so it ends up with two cells.
func TestUnbalancedSplitForUInt64Keys(t *testing.T) {
	m := newTestManager(t, KeyTypeUInt64, pager.MinPageSizePower, 64)
	txn := m.NewTransaction()

	var inserted uint64
	for {
		ok, err := m.AddValue(txn, EncodeUInt64Key(inserted), []byte(fmt.Sprintf("v%02d", inserted)))
		if err != nil {
			t.Fatalf("AddValue(%d): %v", inserted, err)
		}
		if !ok {
			t.Fatalf("AddValue(%d): expected insertion", inserted)
		}
		inserted++

		h, err := m.pinPage(m.RootPage)
		if err != nil {
			t.Fatalf("pinPage(root): %v", err)
		}
		isPointers := Wrap(h).IsPointersPage()
		h.Release()
		if isPointers {
			break
		}
		if inserted > 1000 {
			t.Fatalf("root never split after %d inserts", inserted)
		}
	}

	h, err := m.pinPage(m.RootPage)
	if err != nil {
		t.Fatalf("pinPage(root): %v", err)
	}
	root := Wrap(h)
	cells, err := root.AllCells(m.KeyType)
	if err != nil {
		h.Release()
		t.Fatalf("AllCells(root): %v", err)
	}
	if len(cells) != 1 {
		h.Release()
		t.Fatalf("expected exactly one separator cell on a freshly split root, got %d", len(cells))
	}
	leftPage := cells[0].ChildPage
	rightPage := root.AdditionalData()
	h.Release()

	leftCount := pageCellCount(t, m, leftPage)
	rightCount := pageCellCount(t, m, rightPage)
	if rightCount != 2 {
		t.Fatalf("unbalanced split: expected sibling to hold exactly 2 cells (the split-off highest cell and the provoking insert), got %d", rightCount)
	}
	if leftCount != int(inserted)-2 {
		t.Fatalf("unbalanced split: expected original page to keep %d cells, got %d", inserted-2, leftCount)
	}
}

// TestBalancedSplitForStringKeys contrasts with the uint64 case: string-
// keyed trees split roughly down the middle, per spec.md §4.7.
func TestBalancedSplitForStringKeys(t *testing.T) {
	m := newTestManager(t, KeyTypeString, pager.MinPageSizePower, 64)
	txn := m.NewTransaction()

	var inserted int
	for {
		key := fmt.Sprintf("key-%04d", inserted)
		ok, err := m.AddValue(txn, EncodeStringKey(key), []byte("v"))
		if err != nil {
			t.Fatalf("AddValue(%q): %v", key, err)
		}
		if !ok {
			t.Fatalf("AddValue(%q): expected insertion", key)
		}
		inserted++

		h, err := m.pinPage(m.RootPage)
		if err != nil {
			t.Fatalf("pinPage(root): %v", err)
		}
		isPointers := Wrap(h).IsPointersPage()
		h.Release()
		if isPointers {
			break
		}
		if inserted > 1000 {
			t.Fatalf("root never split after %d inserts", inserted)
		}
	}

	h, err := m.pinPage(m.RootPage)
	if err != nil {
		t.Fatalf("pinPage(root): %v", err)
	}
	root := Wrap(h)
	cells, err := root.AllCells(m.KeyType)
	if err != nil {
		h.Release()
		t.Fatalf("AllCells(root): %v", err)
	}
	leftPage := cells[0].ChildPage
	rightPage := root.AdditionalData()
	h.Release()

	leftCount := pageCellCount(t, m, leftPage)
	rightCount := pageCellCount(t, m, rightPage)
	diff := leftCount - rightCount
	if diff < 0 {
		diff = -diff
	}
	if diff > 1 {
		t.Fatalf("balanced split: expected left/right cell counts within 1 of each other, got %d/%d", leftCount, rightCount)
	}
	if rightCount <= 1 {
		t.Fatalf("balanced split: expected sibling to hold more than a single leftover cell, got %d", rightCount)
	}
}

func TestLTEFindsClosestKeyBelow(t *testing.T) {
	m := newTestManager(t, KeyTypeUInt64, pager.DefaultPageSizePower, 32)
	txn := m.NewTransaction()

	for _, i := range []uint64{10, 20, 30} {
		if _, err := m.AddValue(txn, EncodeUInt64Key(i), []byte("v")); err != nil {
			t.Fatalf("AddValue(%d): %v", i, err)
		}
	}

	key, _, ok, err := m.LTE(EncodeUInt64Key(25))
	if err != nil {
		t.Fatalf("LTE: %v", err)
	}
	if !ok || DecodeUInt64Key(key) != 20 {
		t.Fatalf("LTE(25): got ok=%v key=%v, want 20", ok, key)
	}

	_, _, ok, err = m.LTE(EncodeUInt64Key(5))
	if err != nil {
		t.Fatalf("LTE: %v", err)
	}
	if ok {
		t.Fatalf("LTE(5): expected no match below the smallest key")
	}
}
