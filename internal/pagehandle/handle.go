// Package pagehandle implements the page handle and transaction
// abstraction of spec.md §4.4: a handle exposes read-only typed access
// directly, and mutating access only through a Transaction, which mirrors
// every write into the write-ahead log. All access is byte-wise via
// encoding/binary — never an unsafe cast of the page buffer to a target
// type — per the "alignment-free memory access" design note.
package pagehandle

import (
	"encoding/binary"
	"sync"

	"github.com/nrupprecht/NeverSQL/internal/cache"
)

// Handle is a pinned reference to one page's bytes. Its pin is released by
// calling Release (there is no GC finalizer: Go has no reliable "drop").
type Handle struct {
	mu       sync.Mutex
	c        *cache.Cache
	frame    *cache.Frame
	released bool
}

// New wraps a pinned frame in a Handle. The caller transfers ownership of
// the pin: the Handle's Release call will unpin it exactly once.
func New(c *cache.Cache, f *cache.Frame) *Handle {
	return &Handle{c: c, frame: f}
}

// PageNumber returns the page number this handle is pinned to.
func (h *Handle) PageNumber() uint64 {
	return h.frame.PageNumber()
}

// Frame exposes the underlying cache frame for packages (btree, datamgr)
// that need direct byte access beyond the typed helpers below.
func (h *Handle) Frame() *cache.Frame {
	return h.frame
}

// ReadByte reads a single byte at offset.
func (h *Handle) ReadByte(offset int) byte {
	return h.frame.Data()[offset]
}

// ReadUint16 reads a little-endian uint16 at offset.
func (h *Handle) ReadUint16(offset int) uint16 {
	return binary.LittleEndian.Uint16(h.frame.Data()[offset : offset+2])
}

// ReadUint32 reads a little-endian uint32 at offset.
func (h *Handle) ReadUint32(offset int) uint32 {
	return binary.LittleEndian.Uint32(h.frame.Data()[offset : offset+4])
}

// ReadUint64 reads a little-endian uint64 at offset.
func (h *Handle) ReadUint64(offset int) uint64 {
	return binary.LittleEndian.Uint64(h.frame.Data()[offset : offset+8])
}

// ReadSpan returns a copy of length bytes starting at offset, so the
// caller can't accidentally alias (and mutate without logging) the frame's
// live buffer.
func (h *Handle) ReadSpan(offset, length int) []byte {
	out := make([]byte, length)
	copy(out, h.frame.Data()[offset:offset+length])
	return out
}

// NewHandle returns another pinned handle to the same page, bumping the
// cache's pin count, per spec.md §4.4: "the handle's new_handle() returns
// another pinned handle to the same page."
func (h *Handle) NewHandle() (*Handle, error) {
	f, err := h.c.Get(h.frame.PageNumber())
	if err != nil {
		return nil, err
	}
	return New(h.c, f), nil
}

// Release unpins the handle. Safe to call more than once.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.c.Unpin(h.frame)
}
