package btree

import (
	"github.com/nrupprecht/NeverSQL/internal/nserr"
	"github.com/nrupprecht/NeverSQL/internal/pagehandle"
)

// splitPath is entered when a leaf (the last element of path) has no room
// for an insert. It splits the leaf, then propagates the resulting
// separator up through path's ancestors, splitting any of them that also
// lack room, all the way to the root if necessary. Page numbers of
// existing pages never change across a split (only the root's contents
// do, on a root split), so every other stored reference into this tree
// stays valid.
func (m *Manager) splitPath(txn *pagehandle.Transaction, path []uint64) error {
	leafPage := path[len(path)-1]
	h, err := m.pinPage(leafPage)
	if err != nil {
		return err
	}
	node := Wrap(h)
	if node.IsRootPage() {
		err := m.splitRoot(txn, h, 0, nil, 0)
		h.Release()
		return err
	}

	sepKey, siblingPage, err := m.splitNode(txn, h)
	h.Release()
	if err != nil {
		return err
	}
	return m.propagateSplit(txn, path[:len(path)-1], leafPage, sepKey, siblingPage)
}

// propagateSplit installs a (sepKey -> originalChild) / (oldRef -> newSibling)
// pair into ancestors[len-1] (originalChild's direct parent), splitting
// that parent (and so on up ancestors) first if it has no room.
func (m *Manager) propagateSplit(txn *pagehandle.Transaction, ancestors []uint64, originalChild uint64, sepKey GeneralKey, siblingPage uint64) error {
	parentPage := ancestors[len(ancestors)-1]
	ph, err := m.pinPage(parentPage)
	if err != nil {
		return err
	}
	parent := Wrap(ph)

	newCellSpan := cellSpan(m.KeyType, sepKey, kindPointers, nil)
	if parent.HasRoomFor(newCellSpan) {
		err := installChildSplit(txn, ph, parent, m.KeyType, originalChild, sepKey, siblingPage)
		ph.Release()
		return err
	}

	if parent.IsRootPage() {
		err := m.splitRoot(txn, ph, originalChild, sepKey, siblingPage)
		ph.Release()
		return err
	}

	pSep, pSibling, err := m.splitNode(txn, ph)
	ph.Release()
	if err != nil {
		return err
	}
	if err := m.propagateSplit(txn, ancestors[:len(ancestors)-1], parentPage, pSep, pSibling); err != nil {
		return err
	}

	target := parentPage
	if Compare(m.KeyType, sepKey, pSep) > 0 {
		target = pSibling
	}
	th, err := m.pinPage(target)
	if err != nil {
		return err
	}
	targetNode := Wrap(th)
	err = installChildSplit(txn, th, targetNode, m.KeyType, originalChild, sepKey, siblingPage)
	th.Release()
	return err
}

// installChildSplit repoints whichever of parent's references used to name
// originalChild so that it instead names siblingPage (the upper half of
// what originalChild used to cover), then inserts a fresh cell
// (sepKey -> originalChild) covering the lower half.
func installChildSplit(txn *pagehandle.Transaction, ph *pagehandle.Handle, parent *Node, keyType KeyType, originalChild uint64, sepKey GeneralKey, siblingPage uint64) error {
	idx, isAdditional, err := locateChild(parent, keyType, originalChild)
	if err != nil {
		return err
	}
	if isAdditional {
		if err := SetAdditionalData(txn, ph, siblingPage); err != nil {
			return err
		}
	} else if err := parent.setCellChildPage(txn, idx, siblingPage); err != nil {
		return err
	}
	return parent.InsertPointerEntry(txn, keyType, sepKey, originalChild)
}

// locateChild finds where, among parent's cells and its AdditionalData
// extension slot, childPage is currently referenced.
func locateChild(parent *Node, keyType KeyType, childPage uint64) (cellIndex int, isAdditional bool, err error) {
	cells, err := parent.AllCells(keyType)
	if err != nil {
		return 0, false, err
	}
	for i, c := range cells {
		if c.ChildPage == childPage {
			return i, false, nil
		}
	}
	if parent.AdditionalData() == childPage {
		return 0, true, nil
	}
	return 0, false, nserr.CorruptPage(parent.Handle.PageNumber(), "child page not referenced by its claimed parent")
}

// setCellChildPage overwrites a pointers cell's trailing child-page field
// in place, without touching the pointer array or cell heap layout.
func (n *Node) setCellChildPage(txn *pagehandle.Transaction, cellIndex int, newChild uint64) error {
	ptrs := n.GetPointers()
	off := int(ptrs[cellIndex])
	flags := n.Handle.ReadByte(off)
	pos := off + 1
	if flags&CellKeySizeSerialized != 0 {
		size := n.Handle.ReadUint16(pos)
		pos += 2 + int(size)
	} else {
		pos += 8
	}
	_, err := txn.WriteUint64(n.Handle, pos, newChild)
	return err
}

// splitNode splits a non-root node at splitIndex, moving everything from
// that index onward into a freshly allocated sibling page, and returns the
// separator key together with the sibling's page number. For a pointers
// page, the cell at the split index has its child become the original
// page's new AdditionalData (it covers the range immediately below the
// separator), and the sibling inherits the original page's old
// AdditionalData (it covers everything above the separator). For a leaf,
// the separator is the largest key left on the original page, so a lookup
// of exactly that key descends to the original page.
func (m *Manager) splitNode(txn *pagehandle.Transaction, h *pagehandle.Handle) (GeneralKey, uint64, error) {
	node := Wrap(h)
	cells, err := node.AllCells(m.KeyType)
	if err != nil {
		return nil, 0, err
	}
	n := len(cells)
	mid := splitIndex(m.KeyType, n)
	isPointers := node.IsPointersPage()
	originalAdditional := node.AdditionalData()

	f, _, err := m.cache.GetNew()
	if err != nil {
		return nil, 0, err
	}
	sibling := pagehandle.New(m.cache, f)
	defer sibling.Release()
	if err := InitializePage(txn, sibling, InitOptions{
		PointersPage:  isPointers,
		KeySerialized: m.KeyType == KeyTypeString,
		OverflowPage:  node.IsOverflowPage(),
	}); err != nil {
		return nil, 0, err
	}
	siblingNode := Wrap(sibling)

	var sepKey GeneralKey
	var rightCells []Cell
	if isPointers {
		sepKey = cells[mid].Key
		rightCells = cells[mid+1:]
	} else {
		sepKey = cells[mid-1].Key
		rightCells = cells[mid:]
	}

	for _, c := range rightCells {
		if err := reinsertCell(txn, siblingNode, m.KeyType, c); err != nil {
			return nil, 0, err
		}
	}
	if isPointers {
		if err := SetAdditionalData(txn, sibling, originalAdditional); err != nil {
			return nil, 0, err
		}
	}

	// Shrink the original node to its lower half, deleting from the tail
	// backward so earlier indices stay valid, then vacuum to compact. For
	// a pointers page cells[mid] itself is also removed (its key was
	// promoted to the separator, its child moved to AdditionalData).
	for i := n - 1; i >= mid; i-- {
		if err := node.DeleteCellAt(txn, i); err != nil {
			return nil, 0, err
		}
	}
	if err := node.Vacuum(txn, m.KeyType); err != nil {
		return nil, 0, err
	}
	if isPointers {
		if err := SetAdditionalData(txn, h, cells[mid].ChildPage); err != nil {
			return nil, 0, err
		}
	}

	m.sink.OnSplit(h.PageNumber(), sibling.PageNumber(), "node")
	return sepKey, sibling.PageNumber(), nil
}

// splitIndex chooses where to cut a node being split. uint64-keyed trees
// get an unbalanced N-1 split (the original's new sibling gets only the
// single highest cell), optimized for sequential auto-increment inserts
// that always land above everything already present; every other key
// type gets a balanced N/2 split.
func splitIndex(keyType KeyType, n int) int {
	if keyType == KeyTypeUInt64 {
		return n - 1
	}
	return n / 2
}

// reinsertCell writes a previously-decoded cell (from a page being split)
// into dst, preserving its exact kind.
func reinsertCell(txn *pagehandle.Transaction, dst *Node, keyType KeyType, c Cell) error {
	switch {
	case dst.IsPointersPage():
		return dst.InsertPointerEntry(txn, keyType, c.Key, c.ChildPage)
	case c.IsOverflowHeader:
		_, err := dst.InsertOverflowHeaderEntry(txn, keyType, c.Key, c.OverflowKey, c.FirstOverflowPage)
		return err
	default:
		_, err := dst.InsertSinglePageEntry(txn, keyType, c.Key, c.Payload)
		return err
	}
}

// splitRoot handles the case where the root page itself must split: its
// contents are pushed down into two fresh child pages and the root page
// is reinitialized in place as a two-child pointers page. The root's page
// number is invariant, so the collection registry's stored reference
// stays valid. If pendingChild is nonzero, it names a child of the root
// (from a split one level below) whose upper half (pendingSibling) must
// be installed into whichever of the two new halves inherits it.
func (m *Manager) splitRoot(txn *pagehandle.Transaction, root *pagehandle.Handle, pendingChild uint64, pendingSepKey GeneralKey, pendingSibling uint64) error {
	rootNode := Wrap(root)
	wasPointers := rootNode.IsPointersPage()
	rootAdditional := rootNode.AdditionalData()

	cells, err := rootNode.AllCells(m.KeyType)
	if err != nil {
		return err
	}
	n := len(cells)
	mid := splitIndex(m.KeyType, n)

	tailSize := reservedTailSize(m.KeyType)
	base := int(rootNode.reservedStart())
	tail := root.ReadSpan(base, tailSize)

	leftF, _, err := m.cache.GetNew()
	if err != nil {
		return err
	}
	left := pagehandle.New(m.cache, leftF)
	defer left.Release()
	rightF, _, err := m.cache.GetNew()
	if err != nil {
		return err
	}
	right := pagehandle.New(m.cache, rightF)
	defer right.Release()

	if err := InitializePage(txn, left, InitOptions{PointersPage: wasPointers, KeySerialized: m.KeyType == KeyTypeString}); err != nil {
		return err
	}
	if err := InitializePage(txn, right, InitOptions{PointersPage: wasPointers, KeySerialized: m.KeyType == KeyTypeString}); err != nil {
		return err
	}
	leftNode, rightNode := Wrap(left), Wrap(right)

	var separator GeneralKey
	var leftCells, rightCells []Cell
	if wasPointers {
		separator = cells[mid].Key
		leftCells = cells[:mid]
		rightCells = cells[mid+1:]
	} else {
		separator = cells[mid-1].Key
		leftCells = cells[:mid]
		rightCells = cells[mid:]
	}

	for _, c := range leftCells {
		if err := reinsertCell(txn, leftNode, m.KeyType, c); err != nil {
			return err
		}
	}
	for _, c := range rightCells {
		if err := reinsertCell(txn, rightNode, m.KeyType, c); err != nil {
			return err
		}
	}
	if wasPointers {
		if err := SetAdditionalData(txn, left, cells[mid].ChildPage); err != nil {
			return err
		}
		if err := SetAdditionalData(txn, right, rootAdditional); err != nil {
			return err
		}
	}

	if pendingChild != 0 {
		target := leftNode
		targetHandle := left
		if Compare(m.KeyType, pendingSepKey, separator) > 0 {
			target, targetHandle = rightNode, right
		}
		if err := installChildSplit(txn, targetHandle, target, m.KeyType, pendingChild, pendingSepKey, pendingSibling); err != nil {
			return err
		}
	}

	if err := InitializePage(txn, root, InitOptions{
		PointersPage:  true,
		RootPage:      true,
		KeySerialized: m.KeyType == KeyTypeString,
		ReservedTail:  tailSize,
	}); err != nil {
		return err
	}
	rootNode2 := Wrap(root)
	if _, err := txn.WriteBytes(root, int(rootNode2.reservedStart()), tail); err != nil {
		return err
	}
	if err := rootNode2.InsertPointerEntry(txn, m.KeyType, separator, left.PageNumber()); err != nil {
		return err
	}
	if err := SetAdditionalData(txn, root, right.PageNumber()); err != nil {
		return err
	}
	m.sink.OnSplit(root.PageNumber(), right.PageNumber(), "root")
	return nil
}
