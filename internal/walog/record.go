// Package walog implements the write-ahead log (spec.md §4's WAL and §6's
// WAL file format): a single append-only wal.log file with an in-memory
// buffer flushed on a size threshold or an explicit Flush call.
package walog

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Kind is the one-byte record type tag written to the log.
type Kind byte

const (
	KindBegin      Kind = 'b'
	KindCommit     Kind = 'c'
	KindUpdate     Kind = 'u'
	KindAbort      Kind = 'a'
	// KindCheckpoint and KindCLR occupy tag space reserved by spec.md §6 for
	// a future checkpoint/rollback layer; this core never emits them, since
	// WAL replay is explicitly out of scope (spec.md §1).
	KindCheckpoint Kind = 'p'
	KindCLR        Kind = 'l'
)

// Record is one entry in the log. LSN is only meaningful (and only
// serialized) for UPDATE records; spec.md's monotonicity invariant is
// scoped to UPDATE records specifically.
type Record struct {
	Kind     Kind
	TxnID    uint64
	LSN      uint64
	Page     uint64
	Offset   uint16
	OldBytes []byte
	NewBytes []byte
}

// encode serializes r per spec.md §6:
//
//	[kind:1][txn:8]                                            BEGIN/COMMIT/ABORT
//	[kind:1][txn:8][lsn:8][page:8][offset:2][size:4][old][new] UPDATE
func (r Record) encode() []byte {
	switch r.Kind {
	case KindBegin, KindCommit, KindAbort:
		buf := make([]byte, 9)
		buf[0] = byte(r.Kind)
		binary.LittleEndian.PutUint64(buf[1:9], r.TxnID)
		return buf
	case KindUpdate:
		size := len(r.NewBytes)
		buf := make([]byte, 9+8+8+2+4+size+size)
		buf[0] = byte(r.Kind)
		off := 1
		binary.LittleEndian.PutUint64(buf[off:off+8], r.TxnID)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:off+8], r.LSN)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:off+8], r.Page)
		off += 8
		binary.LittleEndian.PutUint16(buf[off:off+2], r.Offset)
		off += 2
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(size))
		off += 4
		copy(buf[off:off+size], r.OldBytes)
		off += size
		copy(buf[off:off+size], r.NewBytes)
		return buf
	default:
		panic("walog: encode of unsupported record kind")
	}
}

// decodeRecord reads one record starting at buf[0], returning the record
// and the number of bytes consumed.
func decodeRecord(buf []byte) (Record, int, error) {
	if len(buf) < 1 {
		return Record{}, 0, errors.New("walog: truncated record: missing tag")
	}
	kind := Kind(buf[0])
	switch kind {
	case KindBegin, KindCommit, KindAbort:
		if len(buf) < 9 {
			return Record{}, 0, errors.New("walog: truncated begin/commit/abort record")
		}
		return Record{
			Kind:  kind,
			TxnID: binary.LittleEndian.Uint64(buf[1:9]),
		}, 9, nil
	case KindUpdate:
		const headerLen = 1 + 8 + 8 + 8 + 2 + 4
		if len(buf) < headerLen {
			return Record{}, 0, errors.New("walog: truncated update record header")
		}
		off := 1
		txn := binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		lsn := binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		page := binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		offset := binary.LittleEndian.Uint16(buf[off : off+2])
		off += 2
		size := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		if len(buf) < off+2*size {
			return Record{}, 0, errors.New("walog: truncated update record payload")
		}
		old := make([]byte, size)
		copy(old, buf[off:off+size])
		off += size
		newb := make([]byte, size)
		copy(newb, buf[off:off+size])
		off += size
		return Record{
			Kind:     kind,
			TxnID:    txn,
			LSN:      lsn,
			Page:     page,
			Offset:   offset,
			OldBytes: old,
			NewBytes: newb,
		}, off, nil
	default:
		return Record{}, 0, errors.Errorf("walog: unknown record tag %q", byte(kind))
	}
}
