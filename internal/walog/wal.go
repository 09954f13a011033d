package walog

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/nrupprecht/NeverSQL/internal/nserr"
	"github.com/nrupprecht/NeverSQL/internal/telemetry"
)

// WalDirName and WalFileName match spec.md §6's directory layout:
// <db>/walfiles/wal.log.
const (
	WalDirName  = "walfiles"
	WalFileName = "wal.log"

	// DefaultFlushThreshold is the default in-memory buffer size, per
	// spec.md §6: "Flush granularity is the in-memory buffer (default
	// 16 KiB)".
	DefaultFlushThreshold = 16 * 1024
)

// Manager owns the single append-only wal.log file and the in-memory
// buffer of not-yet-flushed records.
type Manager struct {
	mu             sync.Mutex
	f              *os.File
	buf            []byte
	flushThreshold int
	nextLSN        uint64
	sink           telemetry.Sink
}

// Open opens (creating if necessary) <dbDir>/walfiles/wal.log. If
// flushThreshold is 0, DefaultFlushThreshold is used. A nil sink installs
// the no-op telemetry sink.
func Open(dbDir string, flushThreshold int, sink telemetry.Sink) (*Manager, error) {
	if flushThreshold <= 0 {
		flushThreshold = DefaultFlushThreshold
	}
	if sink == nil {
		sink = telemetry.Noop
	}
	dir := filepath.Join(dbDir, WalDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating wal directory")
	}
	path := filepath.Join(dir, WalFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nserr.IO("open wal file", err)
	}
	return &Manager{
		f:              f,
		flushThreshold: flushThreshold,
		nextLSN:        1,
		sink:           sink,
	}, nil
}

// Begin appends a BEGIN record for txnID.
func (m *Manager) Begin(txnID uint64) error {
	return m.append(Record{Kind: KindBegin, TxnID: txnID})
}

// Commit appends a COMMIT record for txnID and flushes the buffer, per
// spec.md §5's "the producer [calls] flush() before externalizing a
// commit; implicit commit-on-flush is acceptable" — this implementation
// chooses implicit commit-on-flush so callers never forget to durably
// externalize a commit.
func (m *Manager) Commit(txnID uint64) error {
	if err := m.append(Record{Kind: KindCommit, TxnID: txnID}); err != nil {
		return err
	}
	return m.Flush()
}

// Abort appends an ABORT record for txnID.
func (m *Manager) Abort(txnID uint64) error {
	return m.append(Record{Kind: KindAbort, TxnID: txnID})
}

// Update appends an UPDATE record and returns its LSN. old and new must be
// the same length, per spec.md §3's WAL record invariant.
func (m *Manager) Update(txnID, page uint64, offset uint16, old, newBytes []byte) (uint64, error) {
	if len(old) != len(newBytes) {
		return 0, errors.Errorf("walog: old_bytes (%d) and new_bytes (%d) length mismatch", len(old), len(newBytes))
	}
	m.mu.Lock()
	lsn := m.nextLSN
	m.nextLSN++
	m.mu.Unlock()

	rec := Record{
		Kind:     KindUpdate,
		TxnID:    txnID,
		LSN:      lsn,
		Page:     page,
		Offset:   offset,
		OldBytes: old,
		NewBytes: newBytes,
	}
	if err := m.append(rec); err != nil {
		return 0, err
	}
	return lsn, nil
}

func (m *Manager) append(rec Record) error {
	encoded := rec.encode()
	m.mu.Lock()
	m.buf = append(m.buf, encoded...)
	shouldFlush := len(m.buf) >= m.flushThreshold
	m.mu.Unlock()

	m.sink.OnWALAppend(rec.LSN, byte(rec.Kind))
	if shouldFlush {
		return m.Flush()
	}
	return nil
}

// Flush writes the in-memory buffer to the file and fsyncs it. Per
// spec.md §7, a flush failure is surfaced and the buffer is left intact so
// a retry can pick up where it left off.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buf) == 0 {
		return nil
	}
	n, err := m.f.Write(m.buf)
	if err != nil {
		// Keep only the unwritten tail so a retry doesn't duplicate bytes
		// that made it to disk.
		m.buf = m.buf[n:]
		return nserr.IO("write wal buffer", err)
	}
	if err := m.f.Sync(); err != nil {
		return nserr.IO("sync wal file", err)
	}
	written := len(m.buf)
	m.buf = m.buf[:0]
	m.sink.OnFlush(written)
	return nil
}

// CurrentLSN returns the LSN that will be assigned to the next UPDATE
// record.
func (m *Manager) CurrentLSN() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLSN
}

// Close flushes any buffered records and closes the underlying file. The
// file descriptor is released even when the flush fails; that flush error
// is then returned to the caller, and no sink event reports it.
func (m *Manager) Close() error {
	flushErr := m.Flush()
	closeErr := m.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return nserr.IO("close wal file", closeErr)
}
