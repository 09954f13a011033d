package pagehandle

import (
	"testing"

	"github.com/nrupprecht/NeverSQL/internal/cache"
	"github.com/nrupprecht/NeverSQL/internal/pager"
	"github.com/nrupprecht/NeverSQL/internal/walog"
)

func newTestRig(t *testing.T) (*pager.File, *cache.Cache, *walog.Manager) {
	t.Helper()
	dir := t.TempDir()
	f, err := pager.Open(dir, pager.Options{})
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	c := cache.New(f, 8, nil)
	wal, err := walog.Open(dir, walog.DefaultFlushThreshold, nil)
	if err != nil {
		t.Fatalf("walog.Open: %v", err)
	}
	t.Cleanup(func() { wal.Close() })
	return f, c, wal
}

func TestWriteBytesLogsUpdateAndMutatesPage(t *testing.T) {
	_, c, wal := newTestRig(t)

	frame, pn, err := c.GetNew()
	if err != nil {
		t.Fatalf("GetNew: %v", err)
	}
	h := New(c, frame)
	defer h.Release()

	txn := NewTransaction(wal, 1)
	next, err := txn.WriteUint64(h, 10, 0xDEADBEEF)
	if err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	if next != 18 {
		t.Fatalf("expected next offset 18, got %d", next)
	}
	if got := h.ReadUint64(10); got != 0xDEADBEEF {
		t.Fatalf("expected written value to read back, got %x", got)
	}
	if !frame.Dirty() {
		t.Fatalf("expected frame to be marked dirty")
	}
	if got := wal.CurrentLSN(); got != 2 {
		t.Fatalf("expected one UPDATE record to be logged (next LSN 2), got next LSN %d", got)
	}
	_ = pn
}

func TestMoveInPageLogsDestinationOnly(t *testing.T) {
	_, c, wal := newTestRig(t)

	frame, _, err := c.GetNew()
	if err != nil {
		t.Fatalf("GetNew: %v", err)
	}
	h := New(c, frame)
	defer h.Release()

	txn := NewTransaction(wal, 1)
	if _, err := txn.WriteBytes(h, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	before := wal.CurrentLSN()
	if _, err := txn.MoveInPage(h, 100, 0, 4); err != nil {
		t.Fatalf("MoveInPage: %v", err)
	}
	if got := wal.CurrentLSN(); got != before+1 {
		t.Fatalf("expected MoveInPage to log exactly one UPDATE record, next LSN went from %d to %d", before, got)
	}
	moved := h.ReadSpan(100, 4)
	for i, b := range []byte{1, 2, 3, 4} {
		if moved[i] != b {
			t.Fatalf("moved bytes mismatch at %d: got %d want %d", i, moved[i], b)
		}
	}
}

func TestUnloggedTransactionDoesNotTouchWAL(t *testing.T) {
	_, c, _ := newTestRig(t)

	frame, _, err := c.GetNew()
	if err != nil {
		t.Fatalf("GetNew: %v", err)
	}
	h := New(c, frame)
	defer h.Release()

	txn := NewUnloggedTransaction(0)
	if _, err := txn.WriteByte(h, 0, 7); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
	if h.ReadByte(0) != 7 {
		t.Fatalf("expected write to apply even when unlogged")
	}
}
