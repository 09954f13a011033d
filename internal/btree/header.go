// Package btree implements the slotted-page B+ tree node (spec.md §4.5),
// the entry codec (§4.6), and the B+ tree manager (§4.7). Byte layout is
// grounded on the original implementation's BTreePageHeader.h and
// BTreeNodeMap.cpp, since spec.md's prose leaves some of the exact offsets
// implicit.
package btree

import (
	"encoding/binary"

	"github.com/nrupprecht/NeverSQL/internal/nserr"
	"github.com/nrupprecht/NeverSQL/internal/pagehandle"
)

// NodeMagic tags every slotted node page, distinct from the database file's
// own magic tag, so a corrupted or misinterpreted page is caught early.
var NodeMagic = [8]byte{'N', 'S', 'Q', 'L', 'N', 'O', 'D', 'E'}

// Header field offsets, per spec.md §3's 31-byte slotted node header.
const (
	headerOffsetMagic          = 0
	headerOffsetFlags          = 8
	headerOffsetFreeBegin      = 9
	headerOffsetFreeEnd        = 11
	headerOffsetReservedStart  = 13
	headerOffsetPageNumber     = 15
	headerOffsetAdditionalData = 23
	HeaderSize                 = 31
)

// Page-level flag bits.
const (
	FlagPointersPage        byte = 0x1
	FlagRootPage            byte = 0x2
	FlagKeySizesSerialized  byte = 0x4
	FlagOverflowPage        byte = 0x8
)

// Node wraps a pinned page handle with slotted-node semantics.
type Node struct {
	Handle *pagehandle.Handle
}

// Wrap adapts an already-pinned handle into a Node view.
func Wrap(h *pagehandle.Handle) *Node {
	return &Node{Handle: h}
}

func (n *Node) flags() byte                { return n.Handle.ReadByte(headerOffsetFlags) }
func (n *Node) freeBegin() uint16          { return n.Handle.ReadUint16(headerOffsetFreeBegin) }
func (n *Node) freeEnd() uint16            { return n.Handle.ReadUint16(headerOffsetFreeEnd) }
func (n *Node) reservedStart() uint16      { return n.Handle.ReadUint16(headerOffsetReservedStart) }

// PageNumber returns the header's redundant self-reference, which must
// equal the handle's actual page number (checked by CheckIdentity).
func (n *Node) PageNumber() uint64 { return n.Handle.ReadUint64(headerOffsetPageNumber) }

// AdditionalData returns the header's extension slot: the rightmost child
// pointer on a pointers page.
func (n *Node) AdditionalData() uint64 { return n.Handle.ReadUint64(headerOffsetAdditionalData) }

func (n *Node) IsPointersPage() bool       { return n.flags()&FlagPointersPage != 0 }
func (n *Node) IsRootPage() bool           { return n.flags()&FlagRootPage != 0 }
func (n *Node) IsOverflowPage() bool       { return n.flags()&FlagOverflowPage != 0 }
func (n *Node) AreKeySizesSerialized() bool { return n.flags()&FlagKeySizesSerialized != 0 }
func (n *Node) IsDataPage() bool           { return !n.IsPointersPage() }

// NumPointers returns the number of entries in the pointer array.
func (n *Node) NumPointers() int {
	return int(n.freeBegin()-HeaderSize) / 2
}

// DefragmentedFreeSpace returns the contiguous gap between the pointer
// array's end and the cell heap's start. Bytes left behind by deleted
// cells inside the heap are not counted; Vacuum moves them into this gap.
func (n *Node) DefragmentedFreeSpace() int {
	return int(n.freeEnd()) - int(n.freeBegin())
}

// CheckIdentity verifies the node's magic tag and self-referential page
// number, surfacing CorruptPage on mismatch per spec.md §7.
func (n *Node) CheckIdentity() error {
	data := n.Handle.Frame().Data()
	var magic [8]byte
	copy(magic[:], data[headerOffsetMagic:headerOffsetMagic+8])
	if magic != NodeMagic {
		return nserr.CorruptPage(n.Handle.PageNumber(), "bad node magic")
	}
	if n.PageNumber() != n.Handle.PageNumber() {
		return nserr.CorruptPage(n.Handle.PageNumber(), "header page_number does not match handle")
	}
	return nil
}

// InitOptions controls InitializePage.
type InitOptions struct {
	PointersPage   bool
	RootPage       bool
	KeySerialized  bool
	OverflowPage   bool
	ReservedTail   int // bytes reserved at the end of the page (root only)
}

// InitializePage writes a fresh header into a newly allocated page.
func InitializePage(txn *pagehandle.Transaction, h *pagehandle.Handle, opts InitOptions) error {
	pageSize := len(h.Frame().Data())
	reservedStart := pageSize - opts.ReservedTail

	var flags byte
	if opts.PointersPage {
		flags |= FlagPointersPage
	}
	if opts.RootPage {
		flags |= FlagRootPage
	}
	if opts.KeySerialized {
		flags |= FlagKeySizesSerialized
	}
	if opts.OverflowPage {
		flags |= FlagOverflowPage
	}

	if _, err := txn.WriteBytes(h, headerOffsetMagic, NodeMagic[:]); err != nil {
		return err
	}
	if _, err := txn.WriteByte(h, headerOffsetFlags, flags); err != nil {
		return err
	}
	if _, err := txn.WriteUint16(h, headerOffsetFreeBegin, HeaderSize); err != nil {
		return err
	}
	if _, err := txn.WriteUint16(h, headerOffsetFreeEnd, uint16(reservedStart)); err != nil {
		return err
	}
	if _, err := txn.WriteUint16(h, headerOffsetReservedStart, uint16(reservedStart)); err != nil {
		return err
	}
	if _, err := txn.WriteUint64(h, headerOffsetPageNumber, h.PageNumber()); err != nil {
		return err
	}
	if _, err := txn.WriteUint64(h, headerOffsetAdditionalData, 0); err != nil {
		return err
	}
	return nil
}

// SetAdditionalData writes the rightmost-child / extension slot.
func SetAdditionalData(txn *pagehandle.Transaction, h *pagehandle.Handle, v uint64) error {
	_, err := txn.WriteUint64(h, headerOffsetAdditionalData, v)
	return err
}

// setFreeBegin/setFreeEnd are internal bookkeeping writes used while adding
// or vacuuming cells.
func setFreeBegin(txn *pagehandle.Transaction, h *pagehandle.Handle, v uint16) error {
	_, err := txn.WriteUint16(h, headerOffsetFreeBegin, v)
	return err
}

func setFreeEnd(txn *pagehandle.Transaction, h *pagehandle.Handle, v uint16) error {
	_, err := txn.WriteUint16(h, headerOffsetFreeEnd, v)
	return err
}

// pointerOffset returns the byte offset of the i'th pointer array slot.
func pointerOffset(i int) int {
	return HeaderSize + 2*i
}

// GetPointers returns the raw cell offsets in pointer-array order (which is
// sorted by key).
func (n *Node) GetPointers() []uint16 {
	num := n.NumPointers()
	out := make([]uint16, num)
	for i := 0; i < num; i++ {
		out[i] = n.Handle.ReadUint16(pointerOffset(i))
	}
	return out
}

// encodeUint16 returns v as two little-endian bytes.
func encodeUint16(v uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return buf
}
