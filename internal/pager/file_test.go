package pager

import (
	"os"
	"testing"
)

func TestOpenCreatesMetaAndFreeList(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	meta := f.Meta()
	if meta.Magic != Magic {
		t.Fatalf("bad magic: %v", meta.Magic)
	}
	if meta.FreeListPage != 1 {
		t.Fatalf("expected free list page 1, got %d", meta.FreeListPage)
	}
	if f.PageSize() != 1<<DefaultPageSizePower {
		t.Fatalf("unexpected page size %d", f.PageSize())
	}
}

func TestAllocateReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	pn, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if pn != 2 {
		t.Fatalf("expected first allocated page to be 2, got %d", pn)
	}

	buf := make([]byte, f.PageSize())
	for i := range buf {
		buf[i] = byte(i)
	}
	if err := f.WritePage(pn, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	readBuf := make([]byte, f.PageSize())
	if err := f.ReadPage(pn, readBuf); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for i := range buf {
		if buf[i] != readBuf[i] {
			t.Fatalf("mismatch at byte %d: wrote %d, read %d", i, buf[i], readBuf[i])
		}
	}
}

func TestReleaseThenReallocate(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	a, _ := f.AllocatePage()
	b, _ := f.AllocatePage()
	if err := f.ReleasePage(a); err != nil {
		t.Fatalf("ReleasePage: %v", err)
	}
	c, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if c != a {
		t.Fatalf("expected FIFO reuse of released page %d, got %d", a, c)
	}
	_ = b
}

func TestReopenPersistsMetaAndFreeList(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pn, _ := f.AllocatePage()
	f.SetIndexPage(pn)
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f2, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f2.Close()
	if f2.Meta().IndexPage != pn {
		t.Fatalf("expected index page %d to persist, got %d", pn, f2.Meta().IndexPage)
	}
	if f2.NumPages() != f.NumPages() {
		t.Fatalf("page count did not persist")
	}
}

func TestReadPageOutOfRange(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, f.PageSize())
	if err := f.ReadPage(999, buf); err == nil {
		t.Fatalf("expected InvalidPage error")
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
