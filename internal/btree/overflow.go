package btree

import (
	"encoding/binary"

	"github.com/nrupprecht/NeverSQL/internal/nserr"
	"github.com/nrupprecht/NeverSQL/internal/pagehandle"
)

// minOverflowChunk is the smallest payload an overflow continuation page
// is allowed to hold, other than the final chunk of a chain that is
// naturally shorter. Below this a chain would waste most of a page on
// header overhead for a trivial amount of data.
//
// This resolves Open Question #2 in spec.md §9: the reference
// implementation's min_overflow_entry_capacity_ tuning constant is kept as
// a named constant rather than derived from page size (see DESIGN.md).
const minOverflowChunk = 16

// overflowCellOverhead is the fixed per-cell cost of an overflow
// continuation cell: 2 (pointer slot) + 1 (flags) + 8 (uint64 key, no size
// prefix) + 2 (entry_size prefix).
const overflowCellOverhead = 2 + 1 + 8 + 2

// overflowChunkHeader is the fixed cost of the [next_page:8][chunk_size:2]
// pair inside a continuation cell's payload, ahead of the chunk bytes.
const overflowChunkHeader = 8 + 2

func maxOverflowChunkPayload(freeSpace int) int {
	return freeSpace - overflowCellOverhead - overflowChunkHeader
}

// newOverflowPage allocates and initializes a fresh overflow page.
func (m *Manager) newOverflowPage(txn *pagehandle.Transaction) (*Node, error) {
	f, _, err := m.cache.GetNew()
	if err != nil {
		return nil, err
	}
	h := pagehandle.New(m.cache, f)
	node := Wrap(h)
	if err := InitializePage(txn, h, InitOptions{OverflowPage: true}); err != nil {
		h.Release()
		return nil, err
	}
	return node, nil
}

// writeOverflowChunk recursively writes data across as many overflow pages
// as needed, returning the page number of the first page in the chain.
// Chain links point forward (page i's continuation cell names page i+1),
// so pages are filled back-to-front: the tail is written first so its page
// number is known when the preceding chunk's next_page field is written.
func (m *Manager) writeOverflowChunk(txn *pagehandle.Transaction, overflowKey uint64, data []byte) (uint64, error) {
	node, err := m.newOverflowPage(txn)
	if err != nil {
		return 0, err
	}
	defer node.Handle.Release()

	capacity := maxOverflowChunkPayload(node.DefragmentedFreeSpace())
	chunkSize := chooseChunkSize(len(data), capacity)
	rest := data[chunkSize:]

	var nextPage uint64
	if len(rest) > 0 {
		nextPage, err = m.writeOverflowChunk(txn, overflowKey, rest)
		if err != nil {
			return 0, err
		}
	}

	payload := make([]byte, overflowChunkHeader+chunkSize)
	putUint64(payload, nextPage)
	putUint16(payload[8:], uint16(chunkSize))
	copy(payload[10:], data[:chunkSize])

	if _, err := node.InsertSinglePageEntry(txn, KeyTypeUInt64, EncodeUInt64Key(overflowKey), payload); err != nil {
		return 0, err
	}
	return node.Handle.PageNumber(), nil
}

// chooseChunkSize splits off a chunk no larger than capacity, but never
// leaves a nonzero remainder smaller than minOverflowChunk.
func chooseChunkSize(total, capacity int) int {
	if total <= capacity {
		return total
	}
	tail := total - capacity
	if tail < minOverflowChunk {
		return total - minOverflowChunk
	}
	return capacity
}

// readOverflowChain follows next_page links starting at firstPage,
// concatenating chunk bytes until a chain terminator (next_page == 0).
func (m *Manager) readOverflowChain(overflowKey uint64, firstPage uint64) ([]byte, error) {
	var out []byte
	page := firstPage
	for page != 0 {
		h, err := m.pinPage(page)
		if err != nil {
			return nil, err
		}
		node := Wrap(h)
		_, exact, err := node.LowerBound(KeyTypeUInt64, EncodeUInt64Key(overflowKey))
		if err != nil {
			h.Release()
			return nil, err
		}
		if !exact {
			h.Release()
			return nil, nserr.CorruptPage(page, "overflow continuation cell missing")
		}
		idx, _, _ := node.LowerBound(KeyTypeUInt64, EncodeUInt64Key(overflowKey))
		cell, err := node.GetCell(idx, KeyTypeUInt64)
		h.Release()
		if err != nil {
			return nil, err
		}
		nextPage := binary.LittleEndian.Uint64(cell.Payload[0:8])
		chunkSize := binary.LittleEndian.Uint16(cell.Payload[8:10])
		out = append(out, cell.Payload[10:10+int(chunkSize)]...)
		page = nextPage
	}
	return out, nil
}
