package btree

import (
	"sort"

	"github.com/nrupprecht/NeverSQL/internal/nserr"
	"github.com/nrupprecht/NeverSQL/internal/pagehandle"
)

// SpaceRequirements reports what it would cost to insert a cell of the
// given encoded span: 2 bytes for the new pointer array slot plus the
// cell's own bytes.
func SpaceRequirements(cellBytes int) int {
	return 2 + cellBytes
}

// HasRoomFor reports whether n currently has enough defragmented free space
// to hold a cell of cellBytes encoded bytes.
func (n *Node) HasRoomFor(cellBytes int) bool {
	return n.DefragmentedFreeSpace() >= SpaceRequirements(cellBytes)
}

// insertPointerCell writes a raw cell into the heap at the given sorted
// pointer-array position, growing the pointer array and shrinking
// free_end. Caller must have already verified HasRoomFor.
func (n *Node) insertPointerCell(txn *pagehandle.Transaction, at int, raw []byte) error {
	h := n.Handle
	newFreeEnd := n.freeEnd() - uint16(len(raw))
	if _, err := txn.WriteBytes(h, int(newFreeEnd), raw); err != nil {
		return err
	}

	num := n.NumPointers()
	// Shift pointer-array entries at and after `at` up by one slot, highest
	// index first so no slot is overwritten before it's read.
	for i := num; i > at; i-- {
		v := h.ReadUint16(pointerOffset(i - 1))
		if _, err := txn.WriteUint16(h, pointerOffset(i), v); err != nil {
			return err
		}
	}
	if _, err := txn.WriteUint16(h, pointerOffset(at), newFreeEnd); err != nil {
		return err
	}

	if err := setFreeBegin(txn, h, n.freeBegin()+2); err != nil {
		return err
	}
	return setFreeEnd(txn, h, newFreeEnd)
}

// InsertPointerEntry inserts a key->childPage cell into a pointers-page
// node, keeping the pointer array sorted by key. It returns an Overflow
// error if the page lacks room and a CorruptPage error if key is already
// present on the page.
func (n *Node) InsertPointerEntry(txn *pagehandle.Transaction, keyType KeyType, key GeneralKey, childPage uint64) error {
	raw := encodeCell(keyType, key, kindPointers, childPage, nil)
	if !n.HasRoomFor(len(raw)) {
		return nserr.Overflow("pointers page insert", len(raw), n.DefragmentedFreeSpace())
	}
	at, exact, err := n.LowerBound(keyType, key)
	if err != nil {
		return err
	}
	if exact {
		return nserr.CorruptPage(n.Handle.PageNumber(), "duplicate separator key in pointers page")
	}
	return n.insertPointerCell(txn, at, raw)
}

// InsertOverflowHeaderEntry inserts a data cell recording the head of an
// overflow chain for key.
func (n *Node) InsertOverflowHeaderEntry(txn *pagehandle.Transaction, keyType KeyType, key GeneralKey, overflowKey, firstOverflowPage uint64) (bool, error) {
	tail := make([]byte, 16)
	putUint64(tail, overflowKey)
	putUint64(tail[8:], firstOverflowPage)
	raw := encodeCell(keyType, key, kindOverflowHeader, 0, tail)
	return n.insertDataCell(txn, keyType, key, raw)
}

// InsertSinglePageEntry inserts a data cell whose entire payload fits in
// this page.
func (n *Node) InsertSinglePageEntry(txn *pagehandle.Transaction, keyType KeyType, key GeneralKey, payload []byte) (bool, error) {
	raw := encodeCell(keyType, key, kindSinglePage, 0, payload)
	return n.insertDataCell(txn, keyType, key, raw)
}

// insertDataCell inserts raw at the sorted position for key. Returns
// (false, nil) without mutating if key already exists (duplicate key:
// callers surface this as the boolean insertion-result per spec.md §6)
// and (false, err) if there's insufficient room.
func (n *Node) insertDataCell(txn *pagehandle.Transaction, keyType KeyType, key GeneralKey, raw []byte) (bool, error) {
	at, exact, err := n.LowerBound(keyType, key)
	if err != nil {
		return false, err
	}
	if exact {
		return false, nil
	}
	if !n.HasRoomFor(len(raw)) {
		return false, nserr.Overflow("data page insert", len(raw), n.DefragmentedFreeSpace())
	}
	if err := n.insertPointerCell(txn, at, raw); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteCellAt removes the cell at pointer-array index i. The cell's heap
// bytes become fragmented free space, reclaimed only by Vacuum.
func (n *Node) DeleteCellAt(txn *pagehandle.Transaction, i int) error {
	h := n.Handle
	num := n.NumPointers()
	if i < 0 || i >= num {
		return nserr.CorruptPage(h.PageNumber(), "delete index out of range")
	}
	for j := i; j < num-1; j++ {
		v := h.ReadUint16(pointerOffset(j + 1))
		if _, err := txn.WriteUint16(h, pointerOffset(j), v); err != nil {
			return err
		}
	}
	return setFreeBegin(txn, h, n.freeBegin()-2)
}

// Vacuum compacts the cell heap, eliminating fragmentation left behind by
// deletions, by moving every live cell up against reserved_start in
// descending-offset order and rewriting the pointer array to match. This
// is the only way fragmented space is reclaimed (see spec.md §4.5's
// DefragmentedFreeSpace note).
//
// Cells are moved with Transaction.MoveInPage rather than a read-then-
// WriteBytes snapshot, matching the original's vacuum. Processing them in
// descending order of their current offset (the cell nearest
// reserved_start first) guarantees each move's destination range lands
// at or above its own previous offset and therefore never reaches down
// into a not-yet-moved cell's still-live bytes, so a single pass of
// direct in-place moves is safe without a separate snapshot copy.
func (n *Node) Vacuum(txn *pagehandle.Transaction, keyType KeyType) error {
	h := n.Handle
	ptrs := n.GetPointers()
	isPointers := n.IsPointersPage()

	type liveCell struct {
		index  int
		offset uint16
		length int
	}
	spans := make([]liveCell, len(ptrs))
	for i, off := range ptrs {
		c, err := n.readCellAt(off, keyType)
		if err != nil {
			return err
		}
		spans[i] = liveCell{index: i, offset: off, length: cellLengthOnPage(c, isPointers)}
	}
	sort.Slice(spans, func(a, b int) bool { return spans[a].offset > spans[b].offset })

	cursor := n.reservedStart()
	newOffsets := make([]uint16, len(ptrs))
	for _, s := range spans {
		cursor -= uint16(s.length)
		if s.offset != cursor {
			if _, err := txn.MoveInPage(h, int(cursor), int(s.offset), s.length); err != nil {
				return err
			}
		}
		newOffsets[s.index] = cursor
	}
	for i, off := range newOffsets {
		if _, err := txn.WriteUint16(h, pointerOffset(i), off); err != nil {
			return err
		}
	}
	return setFreeEnd(txn, h, cursor)
}

// cellLengthOnPage computes a cell's exact encoded span length, given its
// already-decoded form, the same way encodeCell would have sized it.
func cellLengthOnPage(c Cell, isPointers bool) int {
	keyLen := len(c.Key)
	base := 1 + keyLen
	if c.Flags&CellKeySizeSerialized != 0 {
		base += 2
	}
	switch {
	case isPointers:
		return base + 8
	case c.IsOverflowHeader:
		return base + 16
	default:
		return base + 2 + len(c.Payload)
	}
}
