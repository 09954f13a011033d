// Package pager implements the paged file abstraction: the Pager/DAL
// (spec.md §4.1), the free list (§4.2), and the meta page (§3, §6). It owns
// the on-disk file, allocates and releases fixed-size pages through a
// persistent free list, and knows nothing about what a page's bytes mean.
package pager

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/nrupprecht/NeverSQL/internal/nserr"
)

// DatabaseFileName is the fixed file name of the paged file within a
// database directory, per spec.md §6's directory layout.
const DatabaseFileName = "neversql.db"

// Options configures Open.
type Options struct {
	// PageSizePower sets 2^PageSizePower as the page size for a newly
	// created database. Ignored when opening an existing database (the
	// on-disk value wins). Zero selects DefaultPageSizePower.
	PageSizePower uint8
	// ReadOnly opens the file under a shared lock and rejects writes.
	ReadOnly bool
}

// File is the pager: it owns the database file, the free list, and the
// meta page, and is the only writer allowed to extend the file.
type File struct {
	mu       sync.RWMutex
	f        *os.File
	path     string
	pageSize int
	meta     Meta
	freeList *FreeList
	readOnly bool
}

// Open opens or creates the paged file at <dbDir>/neversql.db.
func Open(dbDir string, opts Options) (*File, error) {
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}
	path := filepath.Join(dbDir, DatabaseFileName)

	flags := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, nserr.IO("open database file", err)
	}
	if err := flock(f, opts.ReadOnly); err != nil {
		f.Close()
		return nil, err
	}

	d := &File{f: f, path: path, readOnly: opts.ReadOnly}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nserr.IO("stat database file", err)
	}

	if info.Size() == 0 {
		if opts.ReadOnly {
			f.Close()
			return nil, errors.New("cannot initialize a new database read-only")
		}
		if err := d.initializeEmpty(opts); err != nil {
			f.Close()
			return nil, err
		}
		return d, nil
	}
	if err := d.loadExisting(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

func (d *File) initializeEmpty(opts Options) error {
	power := opts.PageSizePower
	if power == 0 {
		power = DefaultPageSizePower
	}
	if power < MinPageSizePower || power > MaxPageSizePower {
		return errors.Errorf("page size power %d out of range [%d,%d]", power, MinPageSizePower, MaxPageSizePower)
	}
	d.pageSize = 1 << power

	// Pages 0 (meta) and 1 (free list) are always present; the first
	// allocatable page is 2.
	d.freeList = NewAllocatingFreeList(2)
	d.meta = Meta{
		Magic:         Magic,
		PageSizePower: power,
		FreeListPage:  1,
		IndexPage:     0,
	}

	if err := d.growFileTo(2); err != nil {
		return err
	}
	if err := d.writeMetaLocked(); err != nil {
		return err
	}
	return d.writeFreeListLocked()
}

func (d *File) loadExisting() error {
	// Bootstrap read of the meta page: we don't know the page size yet,
	// so read a generously sized prefix and decode from that.
	buf := make([]byte, 1<<MaxPageSizePower)
	n, err := d.f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nserr.IO("read meta page", err)
	}
	meta, err := decodeMeta(buf[:n])
	if err != nil {
		return err
	}
	d.meta = meta
	d.pageSize = meta.PageSize()

	flBuf := make([]byte, d.pageSize)
	if err := d.readPageRaw(meta.FreeListPage, flBuf); err != nil {
		return errors.Wrap(err, "reading free list page")
	}
	d.freeList = decodeFreeListPage(flBuf)
	return nil
}

// AllocatePage pops a page number from the free list (or grows the file by
// one page if the free list is exhausted) and returns it. It is the only
// path by which the file grows.
func (d *File) AllocatePage() (uint64, error) {
	if d.readOnly {
		return 0, errors.New("database opened read-only")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	n, _ := d.freeList.GetNext()
	if err := d.growFileTo(n + 1); err != nil {
		return 0, err
	}
	return n, nil
}

// ReleasePage pushes pageNumber onto the free list. A page already present
// in the free list is left untouched (fails silently), per spec.md §4.1.
func (d *File) ReleasePage(pageNumber uint64) error {
	if d.readOnly {
		return errors.New("database opened read-only")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freeList.Release(pageNumber)
	return nil
}

// ReadPage reads exactly one page into buf, which must be PageSize() bytes.
// It fails with InvalidPage if pageNumber is outside the allocated range.
func (d *File) ReadPage(pageNumber uint64, buf []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if pageNumber >= d.freeList.HighWater() {
		return nserr.InvalidPage(pageNumber, d.freeList.HighWater())
	}
	return d.readPageRaw(pageNumber, buf)
}

// ReadPageUnsafe bypasses the allocated-range check, for bootstrap reads of
// the meta and free list pages before the free list itself is available.
func (d *File) ReadPageUnsafe(pageNumber uint64, buf []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.readPageRaw(pageNumber, buf)
}

func (d *File) readPageRaw(pageNumber uint64, buf []byte) error {
	offset := int64(pageNumber) * int64(d.pageSize)
	n, err := d.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nserr.IO("read page", err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// WritePage writes exactly one page under an exclusive lock.
func (d *File) WritePage(pageNumber uint64, buf []byte) error {
	if d.readOnly {
		return errors.New("database opened read-only")
	}
	if len(buf) != d.pageSize {
		return errors.Errorf("write page: buffer is %d bytes, page size is %d", len(buf), d.pageSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if pageNumber >= d.freeList.HighWater() {
		return nserr.InvalidPage(pageNumber, d.freeList.HighWater())
	}
	offset := int64(pageNumber) * int64(d.pageSize)
	if _, err := d.f.WriteAt(buf, offset); err != nil {
		return nserr.IO("write page", err)
	}
	return nil
}

// growFileTo ensures the file is large enough to hold numPages pages,
// zero-filling any newly added space.
func (d *File) growFileTo(numPages uint64) error {
	size := int64(numPages) * int64(d.pageSize)
	info, err := d.f.Stat()
	if err != nil {
		return nserr.IO("stat database file", err)
	}
	if info.Size() >= size {
		return nil
	}
	if err := d.f.Truncate(size); err != nil {
		return nserr.IO("grow database file", err)
	}
	return nil
}

// PageSize returns the page size in bytes.
func (d *File) PageSize() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pageSize
}

// NumPages returns the number of pages that have ever been allocated
// (including pages currently on the free list).
func (d *File) NumPages() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.freeList.HighWater()
}

// Meta returns a copy of the current meta record.
func (d *File) Meta() Meta {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.meta
}

// SetIndexPage updates meta.IndexPage (the data manager's root collection
// index) and marks the meta page for re-serialization.
func (d *File) SetIndexPage(pageNumber uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meta.IndexPage = pageNumber
}

func (d *File) writeMetaLocked() error {
	buf := make([]byte, d.pageSize)
	encodeMeta(buf, d.meta)
	offset := int64(MetaPageNumber) * int64(d.pageSize)
	if _, err := d.f.WriteAt(buf, offset); err != nil {
		return nserr.IO("write meta page", err)
	}
	return nil
}

func (d *File) writeFreeListLocked() error {
	buf := make([]byte, d.pageSize)
	d.freeList.encodeFreeListPage(buf)
	offset := int64(d.meta.FreeListPage) * int64(d.pageSize)
	if _, err := d.f.WriteAt(buf, offset); err != nil {
		return nserr.IO("write free list page", err)
	}
	d.freeList.ClearDirty()
	return nil
}

// Flush re-serializes the free list page if it has changed, always rewrites
// the meta page, and syncs the file.
// Called on clean shutdown, matching spec.md §3's "updated on clean
// shutdown" and §4.1's "meta and free list are re-serialized on drop".
func (d *File) Flush() error {
	if d.readOnly {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.freeList.Dirty() {
		if err := d.writeFreeListLocked(); err != nil {
			return err
		}
	}
	if err := d.writeMetaLocked(); err != nil {
		return err
	}
	return nserr.IO("sync database file", d.f.Sync())
}

// Close flushes and releases the file lock.
func (d *File) Close() error {
	if err := d.Flush(); err != nil {
		funlock(d.f)
		d.f.Close()
		return err
	}
	if err := funlock(d.f); err != nil {
		d.f.Close()
		return err
	}
	return nserr.IO("close database file", d.f.Close())
}
