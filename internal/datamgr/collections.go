package datamgr

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nrupprecht/NeverSQL/internal/btree"
	"github.com/nrupprecht/NeverSQL/internal/document"
)

// registryEntry is the document stored in the collection registry tree
// for each collection: its name (redundant with the tree key, kept for
// self-description), its tree's root page, and its key type. key_type is
// the one field supplemented beyond spec.md's bare "name -> root page"
// registry, so a reopened database knows how to compare keys without the
// caller repeating it.
type registryEntry struct {
	CollectionName  string
	IndexPageNumber uint64
	KeyType         byte
}

func encodeRegistryEntry(e registryEntry) []byte {
	d := (&document.Document{}).
		With("collection_name", document.NewString(e.CollectionName)).
		With("index_page_number", document.NewUInt64(e.IndexPageNumber)).
		With("key_type", document.NewInt32(int32(e.KeyType)))
	return document.Encode(d)
}

func decodeRegistryEntry(buf []byte) (registryEntry, error) {
	d, err := document.Decode(buf)
	if err != nil {
		return registryEntry{}, err
	}
	name, _ := d.Get("collection_name")
	idx, _ := d.Get("index_page_number")
	kt, _ := d.Get("key_type")
	return registryEntry{CollectionName: name.Str, IndexPageNumber: idx.UInt64, KeyType: byte(kt.Int32)}, nil
}

// AddCollection creates a new, empty collection named name with the given
// key type. Returns false without error if the name is already taken.
func (m *Manager) AddCollection(name string, keyType btree.KeyType) (bool, error) {
	if _, ok := m.trees[name]; ok {
		return false, nil
	}

	txn, err := m.Begin()
	if err != nil {
		return false, err
	}

	tree, err := btree.Create(btree.Config{Cache: m.cache, Wal: m.wal, Sink: m.sink, Name: name, MaxEntrySize: m.maxEntrySize}, keyType)
	if err != nil {
		return false, err
	}

	entry := encodeRegistryEntry(registryEntry{CollectionName: name, IndexPageNumber: tree.RootPage, KeyType: byte(keyType)})
	inserted, err := m.registry.AddValue(txn, btree.EncodeStringKey(name), entry)
	if err != nil {
		return false, err
	}
	if err := m.End(txn); err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}
	m.trees[name] = tree
	return true, nil
}

// resolveCollection returns the (possibly freshly opened) tree for name.
func (m *Manager) resolveCollection(name string) (*btree.Manager, error) {
	if t, ok := m.trees[name]; ok {
		return t, nil
	}
	value, found, err := m.registry.Retrieve(btree.EncodeStringKey(name))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Errorf("datamgr: no such collection %q", name)
	}
	entry, err := decodeRegistryEntry(value)
	if err != nil {
		return nil, err
	}
	tree, err := btree.Open(btree.Config{Cache: m.cache, Wal: m.wal, Sink: m.sink, Name: name, MaxEntrySize: m.maxEntrySize}, entry.IndexPageNumber)
	if err != nil {
		return nil, err
	}
	m.trees[name] = tree
	return tree, nil
}

// CollectionNames returns every collection's name, per spec.md §6.
func (m *Manager) CollectionNames() ([]string, error) {
	it, err := m.registry.Iterate(nil)
	if err != nil {
		return nil, err
	}
	var names []string
	for it.Valid() {
		names = append(names, btree.DecodeStringKey(it.Key()))
		it.Next()
	}
	return names, nil
}

// encodeKey converts a Go-native key value into the GeneralKey encoding a
// tree of keyType expects.
func encodeKey(keyType btree.KeyType, key any) (btree.GeneralKey, error) {
	switch keyType {
	case btree.KeyTypeUInt64:
		switch v := key.(type) {
		case uint64:
			return btree.EncodeUInt64Key(v), nil
		case int:
			return btree.EncodeUInt64Key(uint64(v)), nil
		default:
			return nil, errors.Errorf("datamgr: uint64-keyed collection given key of type %T", key)
		}
	case btree.KeyTypeString:
		switch v := key.(type) {
		case string:
			return btree.EncodeStringKey(v), nil
		default:
			return nil, errors.Errorf("datamgr: string-keyed collection given key of type %T", key)
		}
	default:
		return nil, fmt.Errorf("datamgr: unknown key type %v", keyType)
	}
}

// AddValue inserts doc into collection under key (a uint64 or string,
// matching the collection's key type). key may be nil for a uint64-keyed
// collection, per spec.md §6's add_value(name, key?, document) — the key
// is then auto-assigned from the tree's reserved-tail counter. Returns
// false without error if the given key is already present.
func (m *Manager) AddValue(collection string, key any, doc *document.Document) (bool, error) {
	tree, err := m.resolveCollection(collection)
	if err != nil {
		return false, err
	}

	txn, err := m.Begin()
	if err != nil {
		return false, err
	}

	var gk btree.GeneralKey
	if key == nil {
		autoKey, err := tree.NextAutoIncrement(txn)
		if err != nil {
			return false, err
		}
		gk = btree.EncodeUInt64Key(autoKey)
	} else {
		gk, err = encodeKey(tree.KeyType, key)
		if err != nil {
			return false, err
		}
	}

	inserted, err := tree.AddValue(txn, gk, document.Encode(doc))
	if err != nil {
		return false, err
	}
	if err := m.End(txn); err != nil {
		return false, err
	}
	if inserted {
		m.readCache.Del(cacheKey(collection, gk))
	}
	return inserted, nil
}

// Retrieve returns the document stored under key in collection, or
// found=false if absent, per spec.md §6's retrieve(name, key).
func (m *Manager) Retrieve(collection string, key any) (*document.Document, bool, error) {
	tree, err := m.resolveCollection(collection)
	if err != nil {
		return nil, false, err
	}
	gk, err := encodeKey(tree.KeyType, key)
	if err != nil {
		return nil, false, err
	}

	ck := cacheKey(collection, gk)
	if cached, ok := m.readCache.Get(ck); ok {
		return cached, true, nil
	}

	raw, found, err := tree.Retrieve(gk)
	if err != nil || !found {
		return nil, found, err
	}
	doc, err := document.Decode(raw)
	if err != nil {
		return nil, false, err
	}
	m.readCache.Set(ck, doc, registryCacheCost)
	return doc, true, nil
}

func cacheKey(collection string, key btree.GeneralKey) string {
	return collection + "\x00" + string(key)
}

// Iterator walks a collection's entries in key order, decoding each
// payload into a Document.
type Iterator struct {
	inner *btree.Iterator
}

// Iter returns an Iterator over the whole collection, per spec.md §6's
// iter(name).
func (m *Manager) Iter(collection string) (*Iterator, error) {
	tree, err := m.resolveCollection(collection)
	if err != nil {
		return nil, err
	}
	inner, err := tree.Iterate(nil)
	if err != nil {
		return nil, err
	}
	return &Iterator{inner: inner}, nil
}

func (it *Iterator) Valid() bool { return it.inner.Valid() }
func (it *Iterator) Next()      { it.inner.Next() }

// Document decodes the current entry.
func (it *Iterator) Document() (*document.Document, error) {
	raw, err := it.inner.Value()
	if err != nil {
		return nil, err
	}
	return document.Decode(raw)
}

// IterWhere returns only the documents in collection for which predicate
// returns true, per spec.md §6's iter_where(name, predicate).
func (m *Manager) IterWhere(collection string, predicate func(*document.Document) bool) (*FilteredIterator, error) {
	it, err := m.Iter(collection)
	if err != nil {
		return nil, err
	}
	fi := &FilteredIterator{inner: it, predicate: predicate}
	fi.advance()
	return fi, nil
}

// FilteredIterator wraps Iterator, skipping entries the predicate rejects.
type FilteredIterator struct {
	inner     *Iterator
	predicate func(*document.Document) bool
	current   *document.Document
}

func (fi *FilteredIterator) advance() {
	for fi.inner.Valid() {
		doc, err := fi.inner.Document()
		if err == nil && fi.predicate(doc) {
			fi.current = doc
			return
		}
		fi.inner.Next()
	}
	fi.current = nil
}

func (fi *FilteredIterator) Valid() bool { return fi.current != nil }

func (fi *FilteredIterator) Document() *document.Document { return fi.current }

func (fi *FilteredIterator) Next() {
	if !fi.inner.Valid() {
		fi.current = nil
		return
	}
	fi.inner.Next()
	fi.advance()
}
