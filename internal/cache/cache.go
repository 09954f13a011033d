package cache

import (
	"sync"

	"github.com/nrupprecht/NeverSQL/internal/nserr"
	"github.com/nrupprecht/NeverSQL/internal/pager"
	"github.com/nrupprecht/NeverSQL/internal/telemetry"
)

// Pager is the narrow slice of the DAL the cache needs, so this package
// doesn't import the whole pager surface — the same narrow-interface idiom
// the teacher uses for its WALFlushedLSNGetter.
type Pager interface {
	ReadPage(pageNumber uint64, buf []byte) error
	WritePage(pageNumber uint64, buf []byte) error
	AllocatePage() (uint64, error)
	ReleasePage(pageNumber uint64) error
	PageSize() int
}

// Cache is a fixed pool of frames backed by one contiguous set of buffers,
// per spec.md §4.3. Eviction is clock/second-chance, not LRU.
type Cache struct {
	mu sync.Mutex

	backing  Pager
	pageSize int

	frames    []*Frame
	index     map[uint64]int
	freeSlots *pager.FreeList // non-allocating, pre-filled with slot indices
	clockHand int

	sink telemetry.Sink
}

// New builds a Cache of numFrames frames over backing.
func New(backing Pager, numFrames int, sink telemetry.Sink) *Cache {
	if sink == nil {
		sink = telemetry.Noop
	}
	frames := make([]*Frame, numFrames)
	slots := make([]uint64, numFrames)
	pageSize := backing.PageSize()
	buf := make([]byte, numFrames*pageSize)
	for i := range frames {
		frames[i] = &Frame{data: buf[i*pageSize : (i+1)*pageSize : (i+1)*pageSize]}
		slots[i] = uint64(i)
	}
	return &Cache{
		backing:   backing,
		pageSize:  backing.PageSize(),
		frames:    frames,
		index:     make(map[uint64]int),
		freeSlots: pager.NewFixedFreeList(slots),
		sink:      sink,
	}
}

// Get returns a pinned frame for pageNumber, loading it from the backing
// pager if it isn't already cached.
func (c *Cache) Get(pageNumber uint64) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot, ok := c.index[pageNumber]; ok {
		f := c.frames[slot]
		f.mu.Lock()
		f.pinCount++
		f.secondChance = true
		f.mu.Unlock()
		return f, nil
	}

	slot, err := c.acquireSlotLocked()
	if err != nil {
		return nil, err
	}
	f := c.frames[slot]
	if err := c.backing.ReadPage(pageNumber, f.data); err != nil {
		c.freeSlots.Release(uint64(slot))
		return nil, err
	}
	f.mu.Lock()
	f.pageNumber = pageNumber
	f.valid = true
	f.dirty = false
	f.secondChance = true
	f.pinCount = 1
	f.mu.Unlock()
	c.index[pageNumber] = slot
	return f, nil
}

// GetNew allocates a fresh page from the backing pager and returns a
// pinned, zeroed frame for it.
func (c *Cache) GetNew() (*Frame, uint64, error) {
	pageNumber, err := c.backing.AllocatePage()
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	slot, err := c.acquireSlotLocked()
	if err != nil {
		return nil, 0, err
	}
	f := c.frames[slot]
	f.mu.Lock()
	for i := range f.data {
		f.data[i] = 0
	}
	f.pageNumber = pageNumber
	f.valid = true
	f.dirty = true
	f.secondChance = true
	f.pinCount = 1
	f.mu.Unlock()
	c.index[pageNumber] = slot
	return f, pageNumber, nil
}

// Unpin decrements a frame's pin count. The page handle (internal/
// pagehandle) calls this when a handle is released, per "handles that
// release their pin on drop".
func (c *Cache) Unpin(f *Frame) {
	f.mu.Lock()
	if f.pinCount > 0 {
		f.pinCount--
	}
	f.mu.Unlock()
}

// acquireSlotLocked must be called with c.mu held.
func (c *Cache) acquireSlotLocked() (int, error) {
	if slot, ok := c.freeSlots.GetNext(); ok {
		return int(slot), nil
	}
	return c.evictLocked()
}

// evictLocked runs the clock algorithm: starting at the hand, clear the
// second-chance bit of every unpinned frame it passes and advance; the
// first unpinned frame whose second-chance bit was already clear becomes
// the victim. Pinned frames are skipped without being touched. If every
// frame is pinned, CacheExhausted is returned.
func (c *Cache) evictLocked() (int, error) {
	n := len(c.frames)
	for swept := 0; swept < 2*n; swept++ {
		slot := c.clockHand
		c.clockHand = (c.clockHand + 1) % n
		f := c.frames[slot]

		f.mu.Lock()
		if !f.valid {
			f.mu.Unlock()
			return slot, nil
		}
		if f.pinCount > 0 {
			f.mu.Unlock()
			continue
		}
		if f.secondChance {
			f.secondChance = false
			f.mu.Unlock()
			continue
		}

		pageNumber := f.pageNumber
		dirty := f.dirty
		var dataCopy []byte
		if dirty {
			dataCopy = append([]byte(nil), f.data...)
		}
		f.valid = false
		f.mu.Unlock()

		if dirty {
			if err := c.backing.WritePage(pageNumber, dataCopy); err != nil {
				f.mu.Lock()
				f.valid = true
				f.dirty = true
				f.mu.Unlock()
				return 0, err
			}
		}
		delete(c.index, pageNumber)
		c.sink.OnEvict(pageNumber, dirty)
		return slot, nil
	}
	return 0, nserr.CacheExhausted(n)
}

// Flush writes back every dirty frame without evicting it.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.frames {
		f.mu.Lock()
		if !f.valid || !f.dirty {
			f.mu.Unlock()
			continue
		}
		pageNumber := f.pageNumber
		data := append([]byte(nil), f.data...)
		f.mu.Unlock()

		if err := c.backing.WritePage(pageNumber, data); err != nil {
			return err
		}
		f.mu.Lock()
		f.dirty = false
		f.mu.Unlock()
	}
	return nil
}

// PageSize returns the cache's page size, mirroring the backing pager's.
func (c *Cache) PageSize() int {
	return c.pageSize
}
