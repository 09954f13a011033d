package btree

// Iterator walks a tree's leaves in ascending key order. It copies each
// leaf's decoded cells when it moves onto that leaf and keeps no page
// pinned between calls, so there is nothing to close.
type Iterator struct {
	m        *Manager
	leafPage uint64
	idx      int
	cells    []Cell
	done     bool
}

// Iterate returns an Iterator positioned at the first key >= from (or at
// the very first key if from is nil).
func (m *Manager) Iterate(from GeneralKey) (*Iterator, error) {
	it := &Iterator{m: m}
	if from == nil {
		if err := it.seekFirstLeaf(); err != nil {
			return nil, err
		}
	} else {
		leaf, err := m.Search(from)
		if err != nil {
			return nil, err
		}
		it.leafPage = leaf
		if err := it.loadLeaf(); err != nil {
			return nil, err
		}
		idx, _, err := func() (int, bool, error) {
			h, err := m.pinPage(leaf)
			if err != nil {
				return 0, false, err
			}
			defer h.Release()
			return Wrap(h).LowerBound(m.KeyType, from)
		}()
		if err != nil {
			return nil, err
		}
		it.idx = idx
	}
	it.advanceAcrossLeaves()
	return it, nil
}

func (it *Iterator) seekFirstLeaf() error {
	page := it.m.RootPage
	for {
		h, err := it.m.pinPage(page)
		if err != nil {
			return err
		}
		node := Wrap(h)
		if !node.IsPointersPage() {
			h.Release()
			it.leafPage = page
			return it.loadLeaf()
		}
		ptrs := node.GetPointers()
		var next uint64
		if len(ptrs) > 0 {
			c, err := node.GetCell(0, it.m.KeyType)
			if err != nil {
				h.Release()
				return err
			}
			next = c.ChildPage
		} else {
			next = node.AdditionalData()
		}
		h.Release()
		page = next
	}
}

func (it *Iterator) loadLeaf() error {
	h, err := it.m.pinPage(it.leafPage)
	if err != nil {
		return err
	}
	defer h.Release()
	cells, err := Wrap(h).AllCells(it.m.KeyType)
	if err != nil {
		return err
	}
	it.cells = cells
	it.idx = 0
	return nil
}

// advanceAcrossLeaves skips forward to the next non-empty leaf if the
// current one is exhausted. This implementation does not thread
// leaf-to-leaf sibling pointers (none are kept in the node header), so it
// re-descends from the root using the last-seen key each time a leaf runs
// out, trading some redundant work for not needing a right-sibling field.
func (it *Iterator) advanceAcrossLeaves() {
	for it.idx >= len(it.cells) {
		if len(it.cells) == 0 {
			it.done = true
			return
		}
		lastKey := it.cells[len(it.cells)-1].Key
		next, ok, err := it.m.nextLeafAfter(lastKey)
		if err != nil || !ok {
			it.done = true
			return
		}
		it.leafPage = next
		if err := it.loadLeaf(); err != nil {
			it.done = true
			return
		}
	}
}

// nextLeafAfter finds the leaf page holding the smallest key strictly
// greater than after, by descending from the root with a key just past
// after's encoding (there is no "next key" operation on raw bytes in
// general, so this walks the tree structurally instead of synthesizing
// one).
func (m *Manager) nextLeafAfter(after GeneralKey) (uint64, bool, error) {
	return m.descendStrictlyAfter(m.RootPage, after)
}

func (m *Manager) descendStrictlyAfter(page uint64, after GeneralKey) (uint64, bool, error) {
	h, err := m.pinPage(page)
	if err != nil {
		return 0, false, err
	}
	node := Wrap(h)
	if !node.IsPointersPage() {
		cells, err := node.AllCells(m.KeyType)
		h.Release()
		if err != nil {
			return 0, false, err
		}
		for _, c := range cells {
			if Compare(m.KeyType, c.Key, after) > 0 {
				return page, true, nil
			}
		}
		return 0, false, nil
	}

	cells, err := node.AllCells(m.KeyType)
	h.Release()
	if err != nil {
		return 0, false, err
	}
	for _, c := range cells {
		if Compare(m.KeyType, c.Key, after) > 0 {
			if leaf, ok, err := m.descendStrictlyAfter(c.ChildPage, after); err == nil && ok {
				return leaf, true, nil
			} else if err != nil {
				return 0, false, err
			}
		}
	}
	h2, err := m.pinPage(page)
	if err != nil {
		return 0, false, err
	}
	additional := Wrap(h2).AdditionalData()
	h2.Release()
	if additional == 0 {
		return 0, false, nil
	}
	return m.descendStrictlyAfter(additional, after)
}

// Valid reports whether the iterator is positioned at a usable entry.
func (it *Iterator) Valid() bool { return !it.done }

// Key returns the current entry's key.
func (it *Iterator) Key() GeneralKey { return it.cells[it.idx].Key }

// Value returns the current entry's value, reassembling an overflow chain
// if needed.
func (it *Iterator) Value() ([]byte, error) {
	c := it.cells[it.idx]
	if c.IsOverflowHeader {
		return it.m.readOverflowChain(c.OverflowKey, c.FirstOverflowPage)
	}
	out := make([]byte, len(c.Payload))
	copy(out, c.Payload)
	return out, nil
}

// Next advances the iterator by one entry.
func (it *Iterator) Next() {
	if it.done {
		return
	}
	it.idx++
	it.advanceAcrossLeaves()
}

// LTE returns the largest key <= target present in the tree, and whether
// one exists. Grounded on spec.md §6's supplemental "lte" lookup helper.
func (m *Manager) LTE(target GeneralKey) (GeneralKey, []byte, bool, error) {
	leaf, err := m.Search(target)
	if err != nil {
		return nil, nil, false, err
	}
	h, err := m.pinPage(leaf)
	if err != nil {
		return nil, nil, false, err
	}
	defer h.Release()
	node := Wrap(h)

	idx, exact, err := node.LowerBound(m.KeyType, target)
	if err != nil {
		return nil, nil, false, err
	}
	if !exact {
		idx--
	}
	if idx < 0 {
		return nil, nil, false, nil
	}
	c, err := node.GetCell(idx, m.KeyType)
	if err != nil {
		return nil, nil, false, err
	}
	var value []byte
	if c.IsOverflowHeader {
		value, err = m.readOverflowChain(c.OverflowKey, c.FirstOverflowPage)
	} else {
		value = make([]byte, len(c.Payload))
		copy(value, c.Payload)
	}
	if err != nil {
		return nil, nil, false, err
	}
	return c.Key, value, true, nil
}
