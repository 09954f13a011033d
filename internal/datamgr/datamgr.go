// Package datamgr ties the page cache, WAL, and per-collection B+ trees
// together into the named-collection document store described by
// spec.md §6: a root tree (the collection registry) whose values name
// every other collection's own root page and key type.
package datamgr

import (
	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"

	"github.com/nrupprecht/NeverSQL/internal/btree"
	"github.com/nrupprecht/NeverSQL/internal/cache"
	"github.com/nrupprecht/NeverSQL/internal/document"
	"github.com/nrupprecht/NeverSQL/internal/pager"
	"github.com/nrupprecht/NeverSQL/internal/pagehandle"
	"github.com/nrupprecht/NeverSQL/internal/telemetry"
	"github.com/nrupprecht/NeverSQL/internal/walog"
)

const registryCacheCost = 1

// Manager is the top-level handle for a database directory: it owns the
// paged file, cache, WAL, the collection registry tree, and a read-through
// cache of decoded documents.
type Manager struct {
	file         *pager.File
	cache        *cache.Cache
	wal          *walog.Manager
	sink         telemetry.Sink
	registry     *btree.Manager
	trees        map[string]*btree.Manager
	readCache    *ristretto.Cache[string, *document.Document]
	nextTxnID    uint64
	maxEntrySize int
}

// Options configures a Manager at open time.
type Options struct {
	PageSizePower   uint8
	CacheFrames     int
	WalFlushBytes   int
	MaxEntrySize    int
	ReadOnly        bool
	Sink            telemetry.Sink
	ReadCacheMaxCost int64
}

func (o Options) withDefaults() Options {
	if o.CacheFrames == 0 {
		o.CacheFrames = 1024
	}
	if o.WalFlushBytes == 0 {
		o.WalFlushBytes = walog.DefaultFlushThreshold
	}
	if o.ReadCacheMaxCost == 0 {
		o.ReadCacheMaxCost = 1 << 26 // 64 MiB of decoded documents
	}
	if o.Sink == nil {
		o.Sink = telemetry.Noop
	}
	return o
}

// Open opens (creating if necessary) a database directory at dir.
func Open(dir string, opts Options) (*Manager, error) {
	opts = opts.withDefaults()

	f, err := pager.Open(dir, pager.Options{PageSizePower: opts.PageSizePower, ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, errors.Wrap(err, "datamgr: open pager")
	}
	c := cache.New(f, opts.CacheFrames, opts.Sink)
	wal, err := walog.Open(dir, opts.WalFlushBytes, opts.Sink)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "datamgr: open wal")
	}

	readCache, err := ristretto.NewCache(&ristretto.Config[string, *document.Document]{
		NumCounters: 1e6,
		MaxCost:     opts.ReadCacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		wal.Close()
		f.Close()
		return nil, errors.Wrap(err, "datamgr: create read cache")
	}

	m := &Manager{
		file:         f,
		cache:        c,
		wal:          wal,
		sink:         opts.Sink,
		trees:        make(map[string]*btree.Manager),
		readCache:    readCache,
		maxEntrySize: opts.MaxEntrySize,
	}

	rootCfg := btree.Config{Cache: c, Wal: wal, Sink: opts.Sink, Name: "_registry", MaxEntrySize: opts.MaxEntrySize}
	if f.Meta().IndexPage == 0 {
		reg, err := btree.Create(rootCfg, btree.KeyTypeString)
		if err != nil {
			return nil, errors.Wrap(err, "datamgr: create registry")
		}
		f.SetIndexPage(reg.RootPage)
		if err := f.Flush(); err != nil {
			return nil, errors.Wrap(err, "datamgr: flush after registry creation")
		}
		m.registry = reg
	} else {
		reg, err := btree.Open(rootCfg, f.Meta().IndexPage)
		if err != nil {
			return nil, errors.Wrap(err, "datamgr: open registry")
		}
		m.registry = reg
	}

	return m, nil
}

// Close flushes all dirty state and releases underlying resources.
func (m *Manager) Close() error {
	m.readCache.Close()
	if err := m.cache.Flush(); err != nil {
		return err
	}
	if err := m.wal.Close(); err != nil {
		return err
	}
	return m.file.Close()
}

// Begin starts a new logical operation's transaction against the shared
// WAL: every tree in this Manager logs into the same WAL file, so
// transaction ids are minted here rather than per-tree.
func (m *Manager) Begin() (*pagehandle.Transaction, error) {
	m.nextTxnID++
	txnID := m.nextTxnID
	if err := m.wal.Begin(txnID); err != nil {
		return nil, err
	}
	return pagehandle.NewTransaction(m.wal, txnID), nil
}

// End commits txn. Per spec.md §5, commit-on-flush is an acceptable
// implementation of "flush before externalizing a commit", and that's
// what walog.Manager.Commit does internally.
func (m *Manager) End(txn *pagehandle.Transaction) error {
	return m.wal.Commit(txn.TxnID())
}
