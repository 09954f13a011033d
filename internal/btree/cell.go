package btree

import (
	"sort"

	"github.com/nrupprecht/NeverSQL/internal/nserr"
)

// Cell flag bits, distinct from the page-level flag bits in header.go.
const (
	CellActive            byte = 0x1
	CellKeySizeSerialized byte = 0x2
	CellNoteFlag          byte = 0x4
	CellSinglePageEntry   byte = 0x8
)

// Cell is the decoded form of one slotted-page cell, covering both the
// pointers-page shape (key + child page) and the data-page shape (key +
// payload, where an overflow header cell's payload is the fixed
// [overflow_key][first_overflow_page] pair).
type Cell struct {
	Offset    uint16
	Flags     byte
	Key       GeneralKey
	ChildPage uint64 // pointers page only
	IsOverflowHeader bool
	OverflowKey       uint64 // overflow header only
	FirstOverflowPage uint64 // overflow header only
	Payload   []byte // single-page data cell only
}

// readCellAt decodes the cell at the given byte offset. When the cell's
// KeySizeSerialized bit is clear the key is read as a fixed 8 bytes;
// keyType does not affect the decoding.
func (n *Node) readCellAt(offset uint16, keyType KeyType) (Cell, error) {
	h := n.Handle
	pos := int(offset)
	flags := h.ReadByte(pos)
	pos++

	var key GeneralKey
	if flags&CellKeySizeSerialized != 0 {
		size := h.ReadUint16(pos)
		pos += 2
		key = GeneralKey(h.ReadSpan(pos, int(size)))
		pos += int(size)
	} else {
		key = GeneralKey(h.ReadSpan(pos, 8))
		pos += 8
	}

	c := Cell{Offset: offset, Flags: flags, Key: key}

	if n.IsPointersPage() {
		c.ChildPage = h.ReadUint64(pos)
		return c, nil
	}

	if flags&CellNoteFlag != 0 && flags&CellSinglePageEntry == 0 {
		c.IsOverflowHeader = true
		c.OverflowKey = h.ReadUint64(pos)
		c.FirstOverflowPage = h.ReadUint64(pos + 8)
		return c, nil
	}

	if flags&CellSinglePageEntry != 0 {
		size := h.ReadUint16(pos)
		pos += 2
		c.Payload = h.ReadSpan(pos, int(size))
		return c, nil
	}

	return Cell{}, nserr.CorruptPage(h.PageNumber(), "cell has neither overflow-header nor single-page-entry flag")
}

// cellKind selects which of the three cell shapes to encode.
type cellKind int

const (
	kindPointers cellKind = iota
	kindOverflowHeader
	kindSinglePage
)

// keyFieldSize returns how many bytes the key field occupies, including a
// size prefix for string keys.
func keyFieldSize(keyType KeyType, key GeneralKey) int {
	if keyType == KeyTypeString {
		return 2 + len(key)
	}
	return 8
}

// cellSpan computes the encoded byte length of a cell about to be written,
// so callers can check it fits before writing.
func cellSpan(keyType KeyType, key GeneralKey, kind cellKind, tail []byte) int {
	size := 1 + keyFieldSize(keyType, key) // flags + key
	switch kind {
	case kindPointers:
		return size + 8
	case kindOverflowHeader:
		return size + 16
	default:
		return size + 2 + len(tail)
	}
}

// encodeCell encodes a cell's bytes. tail is kind-specific: for
// kindPointers it is ignored (childPage is used instead); for
// kindOverflowHeader it is the 16 raw bytes [overflow_key][first_overflow_page];
// for kindSinglePage it is the entry payload (a length prefix is added).
func encodeCell(keyType KeyType, key GeneralKey, kind cellKind, childPage uint64, tail []byte) []byte {
	buf := make([]byte, cellSpan(keyType, key, kind, tail))
	pos := 0

	var flags byte = CellActive
	if keyType == KeyTypeString {
		flags |= CellKeySizeSerialized
	}
	switch kind {
	case kindOverflowHeader:
		flags |= CellNoteFlag
	case kindSinglePage:
		flags |= CellNoteFlag | CellSinglePageEntry
	}
	buf[pos] = flags
	pos++

	if keyType == KeyTypeString {
		putUint16(buf[pos:], uint16(len(key)))
		pos += 2
		copy(buf[pos:], key)
		pos += len(key)
	} else {
		copy(buf[pos:], key)
		pos += 8
	}

	switch kind {
	case kindPointers:
		putUint64(buf[pos:], childPage)
	case kindOverflowHeader:
		copy(buf[pos:], tail)
	case kindSinglePage:
		putUint16(buf[pos:], uint16(len(tail)))
		pos += 2
		copy(buf[pos:], tail)
	}
	return buf
}

func putUint16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// GetCell decodes the i'th cell in pointer-array order.
func (n *Node) GetCell(i int, keyType KeyType) (Cell, error) {
	ptrs := n.GetPointers()
	if i < 0 || i >= len(ptrs) {
		return Cell{}, nserr.CorruptPage(n.Handle.PageNumber(), "cell index out of range")
	}
	return n.readCellAt(ptrs[i], keyType)
}

// AllCells decodes every cell in pointer-array (sorted) order.
func (n *Node) AllCells(keyType KeyType) ([]Cell, error) {
	ptrs := n.GetPointers()
	cells := make([]Cell, len(ptrs))
	for i, off := range ptrs {
		c, err := n.readCellAt(off, keyType)
		if err != nil {
			return nil, err
		}
		cells[i] = c
	}
	return cells, nil
}

// LowerBound returns the index of the first cell whose key is >= target,
// and whether an exact match was found at that index. Keys are kept sorted
// in the pointer array, so this is a binary search.
func (n *Node) LowerBound(keyType KeyType, target GeneralKey) (int, bool, error) {
	ptrs := n.GetPointers()
	var decodeErr error
	idx := sort.Search(len(ptrs), func(i int) bool {
		c, err := n.readCellAt(ptrs[i], keyType)
		if err != nil {
			decodeErr = err
			return true
		}
		return Compare(keyType, c.Key, target) >= 0
	})
	if decodeErr != nil {
		return 0, false, decodeErr
	}
	if idx < len(ptrs) {
		c, err := n.readCellAt(ptrs[idx], keyType)
		if err != nil {
			return 0, false, err
		}
		if Compare(keyType, c.Key, target) == 0 {
			return idx, true, nil
		}
	}
	return idx, false, nil
}

// NextPageInPointers returns the child page to descend into for target on
// a pointers page: the child of the lower-bound cell if target sorts
// before some key, else the header's AdditionalData rightmost pointer.
func (n *Node) NextPageInPointers(keyType KeyType, target GeneralKey) (uint64, error) {
	idx, exact, err := n.LowerBound(keyType, target)
	if err != nil {
		return 0, err
	}
	ptrs := n.GetPointers()
	if exact {
		c, err := n.readCellAt(ptrs[idx], keyType)
		if err != nil {
			return 0, err
		}
		return c.ChildPage, nil
	}
	if idx < len(ptrs) {
		c, err := n.readCellAt(ptrs[idx], keyType)
		if err != nil {
			return 0, err
		}
		return c.ChildPage, nil
	}
	return n.AdditionalData(), nil
}

// LargestKey returns the greatest key stored in this node (the last cell in
// pointer-array order), or ok=false if the node is empty.
func (n *Node) LargestKey(keyType KeyType) (GeneralKey, bool, error) {
	num := n.NumPointers()
	if num == 0 {
		return nil, false, nil
	}
	c, err := n.GetCell(num-1, keyType)
	if err != nil {
		return nil, false, err
	}
	return c.Key, true, nil
}
