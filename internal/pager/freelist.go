package pager

import (
	"encoding/binary"
	"sync"
)

// FreeList is an ordered sequence of released page numbers plus a
// next-allocatable high-water mark. It backs both the DAL's on-disk free
// list (allocating: grows the high-water mark, and therefore the file,
// when the queue is empty) and the page cache's in-memory slot free list
// (non-allocating: a fixed pool of slot indices that never grows).
type FreeList struct {
	mu         sync.Mutex
	queue      []uint64
	present    map[uint64]bool // membership test backing "fails silently if already present"
	highWater  uint64
	allocating bool
	dirty      bool
}

// NewAllocatingFreeList returns a FreeList that grows its high-water mark
// (and therefore, via the caller, the underlying file) once its queue is
// exhausted. startHighWater is the first page number that has not yet been
// handed out.
func NewAllocatingFreeList(startHighWater uint64) *FreeList {
	return &FreeList{
		present:    make(map[uint64]bool),
		highWater:  startHighWater,
		allocating: true,
	}
}

// NewFixedFreeList returns a non-allocating FreeList pre-filled with the
// given slot numbers. GetNext returns ok=false once exhausted; it never
// grows.
func NewFixedFreeList(slots []uint64) *FreeList {
	present := make(map[uint64]bool, len(slots))
	queue := make([]uint64, 0, len(slots))
	for _, s := range slots {
		if !present[s] {
			present[s] = true
			queue = append(queue, s)
		}
	}
	return &FreeList{
		queue:   queue,
		present: present,
	}
}

// GetNext pops the next available number. For a non-allocating list, ok is
// false once the queue is empty. For an allocating list, GetNext always
// succeeds: it pops from the queue, or else mints highWater and advances
// it. A caller backing an allocating list with a growable file should
// unconditionally ensure the file covers the returned number (cheap to do
// idempotently) rather than trying to infer whether a mint happened.
func (f *FreeList) GetNext() (n uint64, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) > 0 {
		n = f.queue[0]
		f.queue = f.queue[1:]
		delete(f.present, n)
		f.dirty = true
		return n, true
	}
	if !f.allocating {
		return 0, false
	}
	n = f.highWater
	f.highWater++
	f.dirty = true
	return n, true
}

// Release pushes n onto the free list. It is a no-op if n is already
// present, preserving the "no page number appears twice" invariant.
func (f *FreeList) Release(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.present[n] {
		return
	}
	f.present[n] = true
	f.queue = append(f.queue, n)
	f.dirty = true
}

// Contains reports whether n is currently recorded as free.
func (f *FreeList) Contains(n uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[n]
}

// Len returns the number of free entries currently queued.
func (f *FreeList) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// HighWater returns the next page number that would be minted if the queue
// were empty.
func (f *FreeList) HighWater() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.highWater
}

// Dirty reports whether the list has changed since the last ClearDirty.
func (f *FreeList) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

// ClearDirty resets the dirty bit after a successful serialization.
func (f *FreeList) ClearDirty() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty = false
}

// freeListHeaderSize is the size of the next_page_number + freed_count
// prefix of an on-disk free list page.
const freeListHeaderSize = 16

// encodeFreeListPage serializes f as [next_page_number:8][freed_count:8]
// [freed_count x page_number:8] into page, which must be large enough.
func (f *FreeList) encodeFreeListPage(page []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	binary.LittleEndian.PutUint64(page[0:8], f.highWater)
	binary.LittleEndian.PutUint64(page[8:16], uint64(len(f.queue)))
	offset := freeListHeaderSize
	for _, n := range f.queue {
		binary.LittleEndian.PutUint64(page[offset:offset+8], n)
		offset += 8
	}
}

// decodeFreeListPage reconstructs an allocating FreeList from a page
// previously written by encodeFreeListPage.
func decodeFreeListPage(page []byte) *FreeList {
	highWater := binary.LittleEndian.Uint64(page[0:8])
	count := binary.LittleEndian.Uint64(page[8:16])
	queue := make([]uint64, 0, count)
	present := make(map[uint64]bool, count)
	offset := freeListHeaderSize
	for i := uint64(0); i < count; i++ {
		n := binary.LittleEndian.Uint64(page[offset : offset+8])
		offset += 8
		if !present[n] {
			present[n] = true
			queue = append(queue, n)
		}
	}
	return &FreeList{
		queue:      queue,
		present:    present,
		highWater:  highWater,
		allocating: true,
	}
}
