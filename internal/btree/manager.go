package btree

import (
	"github.com/nrupprecht/NeverSQL/internal/cache"
	"github.com/nrupprecht/NeverSQL/internal/nserr"
	"github.com/nrupprecht/NeverSQL/internal/pagehandle"
	"github.com/nrupprecht/NeverSQL/internal/telemetry"
	"github.com/nrupprecht/NeverSQL/internal/walog"
)

// Reserved tail layout on a root page, relative to reserved_start. Every
// tree's root carries this tuple, sized 18 bytes for string-keyed trees
// and 26 for uint64-keyed trees (which additionally get an auto-increment
// counter), per spec.md §4.7.
const (
	tailOffsetKeyType      = 0
	tailOffsetFlags        = 1
	tailOffsetOverflowPage = 2
	tailOffsetOverflowKey  = 10
	tailOffsetAutoIncr     = 18

	tailSizeString = 18
	tailSizeUInt64 = 26
)

func reservedTailSize(kt KeyType) int {
	if kt == KeyTypeUInt64 {
		return tailSizeUInt64
	}
	return tailSizeString
}

// Manager owns one B+ tree rooted at RootPage, operating against a shared
// page cache and write-ahead log. A database opens one Manager per
// collection (plus one for the collection registry itself), per spec.md
// §4.7 / §6.
type Manager struct {
	cache        *cache.Cache
	wal          *walog.Manager
	sink         telemetry.Sink
	Name         string // label used in telemetry events
	RootPage     uint64
	KeyType      KeyType
	MaxEntrySize int // values larger than this are stored in an overflow chain
	nextTxnID    uint64
}

// Config configures a new or reopened tree.
type Config struct {
	Cache        *cache.Cache
	Wal          *walog.Manager
	Sink         telemetry.Sink
	MaxEntrySize int
	Name         string
}

// Create allocates a fresh root page and returns a Manager for a new,
// empty tree of the given key type.
func Create(cfg Config, keyType KeyType) (*Manager, error) {
	m := &Manager{cache: cfg.Cache, wal: cfg.Wal, sink: cfg.Sink, Name: cfg.Name, KeyType: keyType, MaxEntrySize: cfg.MaxEntrySize}
	if m.sink == nil {
		m.sink = telemetry.Noop
	}
	if m.MaxEntrySize == 0 {
		m.MaxEntrySize = cfg.Cache.PageSize() / 4
	}

	f, pn, err := m.cache.GetNew()
	if err != nil {
		return nil, err
	}
	h := pagehandle.New(m.cache, f)
	defer h.Release()

	txn := m.newBootstrapTxn()
	tailSize := reservedTailSize(keyType)
	if err := InitializePage(txn, h, InitOptions{
		RootPage:      true,
		KeySerialized: keyType == KeyTypeString,
		ReservedTail:  tailSize,
	}); err != nil {
		return nil, err
	}
	if err := m.writeRootTail(txn, h, keyType, 0, 1, 0); err != nil {
		return nil, err
	}

	m.RootPage = pn
	return m, nil
}

// Open returns a Manager for an already-initialized tree rooted at
// rootPage.
func Open(cfg Config, rootPage uint64) (*Manager, error) {
	m := &Manager{cache: cfg.Cache, wal: cfg.Wal, sink: cfg.Sink, Name: cfg.Name, RootPage: rootPage, MaxEntrySize: cfg.MaxEntrySize}
	if m.sink == nil {
		m.sink = telemetry.Noop
	}
	if m.MaxEntrySize == 0 {
		m.MaxEntrySize = cfg.Cache.PageSize() / 4
	}

	h, err := m.pinPage(rootPage)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	node := Wrap(h)
	if err := node.CheckIdentity(); err != nil {
		return nil, err
	}
	kt := KeyType(h.ReadByte(int(node.reservedStart()) + tailOffsetKeyType))
	m.KeyType = kt
	return m, nil
}

func (m *Manager) pinPage(pn uint64) (*pagehandle.Handle, error) {
	f, err := m.cache.Get(pn)
	if err != nil {
		return nil, err
	}
	return pagehandle.New(m.cache, f), nil
}

// newBootstrapTxn returns an unlogged transaction, used only for the root
// page's own creation (it predates any meaningful txn id).
func (m *Manager) newBootstrapTxn() *pagehandle.Transaction {
	return pagehandle.NewUnloggedTransaction(0)
}

// NewTransaction allocates a fresh monotonic transaction id and wraps it
// for use against this tree's WAL.
func (m *Manager) NewTransaction() *pagehandle.Transaction {
	m.nextTxnID++
	return pagehandle.NewTransaction(m.wal, m.nextTxnID)
}

func (m *Manager) writeRootTail(txn *pagehandle.Transaction, h *pagehandle.Handle, kt KeyType, overflowPage, nextOverflowKey, autoIncr uint64) error {
	node := Wrap(h)
	base := int(node.reservedStart())
	if _, err := txn.WriteByte(h, base+tailOffsetKeyType, byte(kt)); err != nil {
		return err
	}
	if _, err := txn.WriteByte(h, base+tailOffsetFlags, 0); err != nil {
		return err
	}
	if _, err := txn.WriteUint64(h, base+tailOffsetOverflowPage, overflowPage); err != nil {
		return err
	}
	if _, err := txn.WriteUint64(h, base+tailOffsetOverflowKey, nextOverflowKey); err != nil {
		return err
	}
	if kt == KeyTypeUInt64 {
		if _, err := txn.WriteUint64(h, base+tailOffsetAutoIncr, autoIncr); err != nil {
			return err
		}
	}
	return nil
}

// nextOverflowKey mints a fresh, tree-scoped overflow key by reading and
// incrementing the counter stored in the root's reserved tail.
func (m *Manager) nextOverflowKey(txn *pagehandle.Transaction) (uint64, error) {
	h, err := m.pinPage(m.RootPage)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	node := Wrap(h)
	base := int(node.reservedStart())
	cur := h.ReadUint64(base + tailOffsetOverflowKey)
	if _, err := txn.WriteUint64(h, base+tailOffsetOverflowKey, cur+1); err != nil {
		return 0, err
	}
	return cur, nil
}

// NextAutoIncrement mints the next primary key for a uint64-keyed tree
// that wants auto-assigned keys (spec.md §6's "allocate the next key").
func (m *Manager) NextAutoIncrement(txn *pagehandle.Transaction) (uint64, error) {
	if m.KeyType != KeyTypeUInt64 {
		return 0, nserr.CorruptPage(m.RootPage, "auto-increment requested on non-uint64 tree")
	}
	h, err := m.pinPage(m.RootPage)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	node := Wrap(h)
	base := int(node.reservedStart())
	cur := h.ReadUint64(base + tailOffsetAutoIncr)
	if _, err := txn.WriteUint64(h, base+tailOffsetAutoIncr, cur+1); err != nil {
		return 0, err
	}
	return cur, nil
}

// descend walks from the root to the leaf page that should contain key,
// returning the path of page numbers from root to leaf (inclusive).
func (m *Manager) descend(key GeneralKey) ([]uint64, error) {
	path := []uint64{m.RootPage}
	cur := m.RootPage
	for {
		h, err := m.pinPage(cur)
		if err != nil {
			return nil, err
		}
		node := Wrap(h)
		if !node.IsPointersPage() {
			h.Release()
			return path, nil
		}
		next, err := node.NextPageInPointers(m.KeyType, key)
		h.Release()
		if err != nil {
			return nil, err
		}
		cur = next
		path = append(path, cur)
	}
}

// Search finds the leaf page that would contain key, without reading the
// value, matching spec.md §4.7's plain descent.
func (m *Manager) Search(key GeneralKey) (leafPage uint64, err error) {
	path, err := m.descend(key)
	if err != nil {
		return 0, err
	}
	return path[len(path)-1], nil
}

// Retrieve returns the value stored under key, or ok=false if absent.
func (m *Manager) Retrieve(key GeneralKey) (value []byte, ok bool, err error) {
	leafPage, err := m.Search(key)
	if err != nil {
		return nil, false, err
	}
	h, err := m.pinPage(leafPage)
	if err != nil {
		return nil, false, err
	}
	defer h.Release()
	node := Wrap(h)

	idx, exact, err := node.LowerBound(m.KeyType, key)
	if err != nil {
		return nil, false, err
	}
	if !exact {
		return nil, false, nil
	}
	cell, err := node.GetCell(idx, m.KeyType)
	if err != nil {
		return nil, false, err
	}
	if cell.IsOverflowHeader {
		v, err := m.readOverflowChain(cell.OverflowKey, cell.FirstOverflowPage)
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	}
	out := make([]byte, len(cell.Payload))
	copy(out, cell.Payload)
	return out, true, nil
}

// AddValue inserts key->value, splitting nodes up the path as needed.
// Returns inserted=false without mutating anything if key is already
// present, per spec.md §4.7's "return a bool for duplicate key" contract.
func (m *Manager) AddValue(txn *pagehandle.Transaction, key GeneralKey, value []byte) (inserted bool, err error) {
	if len(value) > m.maxEntryCeiling() {
		return false, nserr.Overflow("entry value", len(value), m.maxEntryCeiling())
	}

	path, err := m.descend(key)
	if err != nil {
		return false, err
	}
	leafPage := path[len(path)-1]

	h, err := m.pinPage(leafPage)
	if err != nil {
		return false, err
	}
	defer h.Release()
	node := Wrap(h)

	_, exact, err := node.LowerBound(m.KeyType, key)
	if err != nil {
		return false, err
	}
	if exact {
		return false, nil
	}

	singleSpan := cellSpan(m.KeyType, key, kindSinglePage, value)
	if len(value) <= m.MaxEntrySize && node.HasRoomFor(singleSpan) {
		ok, err := node.InsertSinglePageEntry(txn, m.KeyType, key, value)
		if err != nil {
			return false, err
		}
		m.sink.OnInsert(m.Name, string(key), leafPage)
		return ok, nil
	}

	headerSpan := cellSpan(m.KeyType, key, kindOverflowHeader, nil)
	if node.HasRoomFor(headerSpan) {
		overflowKey, err := m.nextOverflowKey(txn)
		if err != nil {
			return false, err
		}
		firstPage, err := m.writeOverflowChunk(txn, overflowKey, value)
		if err != nil {
			return false, err
		}
		ok, err := node.InsertOverflowHeaderEntry(txn, m.KeyType, key, overflowKey, firstPage)
		if err != nil {
			return false, err
		}
		m.sink.OnInsert(m.Name, string(key), leafPage)
		return ok, nil
	}

	// No room on the leaf even for an overflow header cell: split along the
	// path and retry from scratch (the path may have changed).
	h.Release()
	if err := m.splitPath(txn, path); err != nil {
		return false, err
	}
	return m.AddValue(txn, key, value)
}

// maxEntryCeiling bounds the size of any value, including one stored in an
// overflow chain.
func (m *Manager) maxEntryCeiling() int {
	return m.cache.PageSize() * 64
}
