// Package cache implements the fixed-capacity page cache with clock
// (second-chance) eviction described in spec.md §4.3. It is deliberately
// not LRU: the clock hand sweeps frames clearing second-chance bits until
// it finds one already clear with a zero pin count, which becomes the
// eviction victim.
package cache

import "sync"

// Frame is a (page_number, usage_count, flags) descriptor backing one
// slot's bytes, per spec.md §3's Cache frame data model.
type Frame struct {
	mu sync.RWMutex

	pageNumber uint64
	data       []byte

	valid        bool
	dirty        bool
	secondChance bool
	pinCount     int32
}

// PageNumber returns the page number currently backing this frame.
func (f *Frame) PageNumber() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pageNumber
}

// Data returns the frame's backing byte slice. Callers must hold a pin;
// mutation must go through a Transaction (see internal/pagehandle) so
// writes are logged, per the "alignment-free, transaction-mediated
// mutation" design note.
func (f *Frame) Data() []byte {
	return f.data
}

// Dirty reports whether the frame has unflushed writes.
func (f *Frame) Dirty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dirty
}

// MarkDirty sets the frame's dirty bit. Called by the write path (a
// Transaction), per spec.md §4.4.
func (f *Frame) MarkDirty() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

// PinCount returns the current pin count.
func (f *Frame) PinCount() int32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pinCount
}
