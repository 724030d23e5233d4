// Package leveldbkv is a kvengine.Backend over a single on-disk
// github.com/syndtr/goleveldb database file, generalized from
// pkg/sorted/leveldb's KeyValue implementation: every Index is a key
// namespace within one *leveldb.DB (an 8-byte big-endian id prefix), and
// kvengine.Transaction wraps goleveldb's own OpenTransaction so that a
// row updater's nested Enter/Exit scopes and final Commit map onto a
// single atomic leveldb write batch instead of the advisory, unenforced
// locking memkv uses for development.
package leveldbkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/camforge/rowkv/pkg/kvengine"
	"github.com/camforge/rowkv/pkg/rowconfig"
)

func init() {
	kvengine.Register("leveldb", func(cfg rowconfig.Obj) (kvengine.Backend, error) {
		file := cfg.RequiredString("file")
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return Open(file)
	})
}

// Open opens (creating if necessary) a leveldbkv.Backend at file.
func Open(file string) (kvengine.Backend, error) {
	opts := &opt.Options{Filter: filter.NewBloomFilter(10)}
	db, err := leveldb.OpenFile(file, opts)
	if err != nil {
		return nil, err
	}
	return &backend{
		path:    file,
		db:      db,
		opts:    opts,
		indexes: make(map[string]*index),
		byID:    make(map[int64]*index),
	}, nil
}

type backend struct {
	path string
	db   *leveldb.DB
	opts *opt.Options

	mu      sync.Mutex
	nextID  int64
	indexes map[string]*index
	byID    map[int64]*index

	locks sync.Mutex
	held  map[string]*txn
}

// nsPrefix returns the 8-byte namespace prefix for an index id; every key
// stored under that index is prefixed with this so one leveldb keyspace
// can hold every index.
func nsPrefix(id int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func nsEnd(id int64) []byte {
	p := nsPrefix(id)
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // id == max uint64, unbounded above; practically unreachable
}

func (b *backend) OpenIndex(_ context.Context, name string) (kvengine.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.indexes[name]; ok {
		return idx, nil
	}
	b.nextID++
	idx := &index{id: b.nextID, name: name, backend: b}
	b.indexes[name] = idx
	b.byID[idx.id] = idx
	return idx, nil
}

func (b *backend) IndexByID(id int64) (kvengine.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.byID[id]
	if !ok {
		return nil, &kvengine.CorruptDatabaseError{IndexID: id}
	}
	return idx, nil
}

func (b *backend) NewSorter(_ context.Context) (kvengine.Sorter, error) {
	return newSorter(b.path)
}

func (b *backend) Close() error { return b.db.Close() }

func (b *backend) acquire(t *txn, key []byte, mode kvengine.LockMode) (kvengine.LockResult, error) {
	if mode == kvengine.LockNone {
		return kvengine.LockUnowned, nil
	}
	k := string(key)
	b.locks.Lock()
	defer b.locks.Unlock()
	if b.held == nil {
		b.held = make(map[string]*txn)
	}
	owner, ok := b.held[k]
	if ok && owner == t {
		return kvengine.LockAlreadyHeld, nil
	}
	if ok {
		return 0, fmt.Errorf("leveldbkv: key locked by another transaction")
	}
	b.held[k] = t
	return kvengine.LockAcquired, nil
}

func (b *backend) release(t *txn, key []byte) {
	k := string(key)
	b.locks.Lock()
	defer b.locks.Unlock()
	if b.held[k] == t {
		delete(b.held, k)
	}
}

type index struct {
	id      int64
	name    string
	backend *backend
}

func (idx *index) ID() int64    { return idx.id }
func (idx *index) Name() string { return idx.name }
func (idx *index) Close() error { return nil }
func (idx *index) View() kvengine.View {
	p := nsPrefix(idx.id)
	return &view{idx: idx, writable: true, nsPrefix: p, lo: p, hi: nsEnd(idx.id)}
}

type view struct {
	idx      *index
	writable bool
	nsPrefix []byte // fixed per index, used to build absolute keys
	lo, hi   []byte // absolute iteration bounds, narrowed by Sub
}

func (v *view) full(key []byte) []byte {
	out := make([]byte, 0, len(v.nsPrefix)+len(key))
	out = append(out, v.nsPrefix...)
	return append(out, key...)
}

// Sub narrows the iteration window to [lo, hi) of this view's own logical
// keyspace, intersected with v's current bounds; Store/Exists still
// address the full namespace via full(), unaffected by windowing.
func (v *view) Sub(lo, hi []byte) kvengine.View {
	newLo := v.lo
	if lo != nil {
		if abs := v.full(lo); bytes.Compare(abs, newLo) > 0 {
			newLo = abs
		}
	}
	newHi := v.hi
	if hi != nil {
		abs := v.full(hi)
		if newHi == nil || bytes.Compare(abs, newHi) < 0 {
			newHi = abs
		}
	}
	return &view{idx: v.idx, writable: v.writable, nsPrefix: v.nsPrefix, lo: newLo, hi: newHi}
}

func (v *view) NewCursor(t kvengine.Transaction) (kvengine.Cursor, error) {
	var mt *txn
	if t != nil {
		var ok bool
		mt, ok = t.(*txn)
		if !ok {
			return nil, fmt.Errorf("leveldbkv: transaction not created by this backend")
		}
	}
	rng := &util.Range{Start: v.lo, Limit: v.hi}
	var it iterator.Iterator
	if mt != nil {
		it = mt.ldbTxn.NewIterator(rng, nil)
	} else {
		it = v.idx.backend.db.NewIterator(rng, nil)
	}
	return &cursor{view: v, it: it, txn: mt, autoload: true, prefixLen: len(v.nsPrefix)}, nil
}

func (v *view) NewTransaction(_ context.Context, mode kvengine.LockMode) (kvengine.Transaction, error) {
	lt, err := v.idx.backend.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &txn{backend: v.idx.backend, mode: mode, ldbTxn: lt, scopes: []*scope{{}}}, nil
}

func (v *view) Store(t kvengine.Transaction, key, value []byte) error {
	if !v.writable {
		return kvengine.ErrUnmodifiableView
	}
	full := v.full(key)
	if t == nil {
		return v.idx.backend.db.Put(full, value, nil)
	}
	mt, ok := t.(*txn)
	if !ok {
		return fmt.Errorf("leveldbkv: transaction not created by this backend")
	}
	if _, err := v.idx.backend.acquire(mt, full, mt.mode); err != nil {
		return err
	}
	mt.noteKey(full)
	return mt.ldbTxn.Put(full, value, nil)
}

func (v *view) Exists(t kvengine.Transaction, key []byte) (bool, error) {
	full := v.full(key)
	if t != nil {
		mt, ok := t.(*txn)
		if !ok {
			return false, fmt.Errorf("leveldbkv: transaction not created by this backend")
		}
		if _, err := v.idx.backend.acquire(mt, full, mt.mode); err != nil {
			return false, err
		}
		mt.noteKey(full)
		return mt.ldbTxn.Has(full, nil)
	}
	return v.idx.backend.db.Has(full, nil)
}

func (v *view) Writable() bool { return v.writable }

type cursor struct {
	view      *view
	it        iterator.Iterator
	txn       *txn
	autoload  bool
	prefixLen int
	started   bool
}

func (c *cursor) First() error {
	c.started = true
	if !c.it.First() {
		return kvengine.ErrNotFound
	}
	return nil
}

func (c *cursor) Next() error {
	if !c.started {
		return c.First()
	}
	if !c.it.Next() {
		return kvengine.ErrNotFound
	}
	return nil
}

func (c *cursor) Key() ([]byte, error) {
	k := c.it.Key()
	if k == nil {
		return nil, kvengine.ErrUnpositioned
	}
	key := append([]byte(nil), k[c.prefixLen:]...)
	if c.txn != nil {
		full := append([]byte(nil), k...)
		if _, err := c.view.idx.backend.acquire(c.txn, full, c.txn.mode); err != nil {
			return nil, err
		}
		c.txn.noteKey(full)
	}
	return key, nil
}

func (c *cursor) Value() ([]byte, error) {
	if !c.autoload {
		return nil, nil
	}
	v := c.it.Value()
	if v == nil {
		return nil, kvengine.ErrUnpositioned
	}
	return append([]byte(nil), v...), nil
}

func (c *cursor) Store(value []byte) error {
	if !c.view.writable {
		return kvengine.ErrUnmodifiableView
	}
	k := c.it.Key()
	if k == nil {
		return kvengine.ErrUnpositioned
	}
	full := append([]byte(nil), k...)
	if c.txn != nil {
		c.txn.noteKey(full)
		return c.txn.ldbTxn.Put(full, value, nil)
	}
	return c.view.idx.backend.db.Put(full, value, nil)
}

func (c *cursor) Delete() error {
	if !c.view.writable {
		return kvengine.ErrUnmodifiableView
	}
	k := c.it.Key()
	if k == nil {
		return kvengine.ErrUnpositioned
	}
	full := append([]byte(nil), k...)
	var err error
	if c.txn != nil {
		err = c.txn.ldbTxn.Delete(full, nil)
	} else {
		err = c.view.idx.backend.db.Delete(full, nil)
	}
	return err
}

func (c *cursor) Reset() {
	c.started = false
}

func (c *cursor) Link(t kvengine.Transaction) {
	if t == nil {
		c.txn = nil
		return
	}
	c.txn, _ = t.(*txn)
}

func (c *cursor) Register() {
	if c.txn != nil {
		c.txn.cursors = append(c.txn.cursors, c)
	}
}

func (c *cursor) Autoload(enabled bool) { c.autoload = enabled }

func (c *cursor) Commit(value []byte) error {
	if err := c.Store(value); err != nil {
		return err
	}
	if c.txn != nil {
		return c.txn.Commit()
	}
	return nil
}

func (c *cursor) Close() error {
	c.it.Release()
	return nil
}

type scope struct {
	keys [][]byte
}

type txn struct {
	backend *backend
	mode    kvengine.LockMode
	ldbTxn  *leveldb.Transaction
	scopes  []*scope
	cursors []*cursor
	done    bool
}

func (t *txn) noteKey(key []byte) {
	if len(t.scopes) == 0 {
		return
	}
	top := t.scopes[len(t.scopes)-1]
	top.keys = append(top.keys, append([]byte(nil), key...))
}

func (t *txn) Enter() error {
	t.scopes = append(t.scopes, &scope{})
	return nil
}

func (t *txn) Exit() error {
	if len(t.scopes) == 0 {
		return fmt.Errorf("leveldbkv: Exit with no open scope")
	}
	top := t.scopes[len(t.scopes)-1]
	t.scopes = t.scopes[:len(t.scopes)-1]
	for _, k := range top.keys {
		t.backend.release(t, k)
	}
	return nil
}

func (t *txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	for _, s := range t.scopes {
		for _, k := range s.keys {
			t.backend.release(t, k)
		}
	}
	t.scopes = nil
	for _, c := range t.cursors {
		c.Reset()
	}
	return t.ldbTxn.Commit()
}

func (t *txn) LockMode() kvengine.LockMode        { return t.mode }
func (t *txn) SetLockMode(mode kvengine.LockMode) { t.mode = mode }

func (t *txn) Link() kvengine.LockHandle { return &lockHandle{txn: t} }

type lockHandle struct{ txn *txn }

func (h *lockHandle) Unlock() (kvengine.LockResult, error) {
	if len(h.txn.scopes) == 0 {
		return kvengine.LockUnowned, nil
	}
	top := h.txn.scopes[len(h.txn.scopes)-1]
	if len(top.keys) == 0 {
		return kvengine.LockUnowned, nil
	}
	last := top.keys[len(top.keys)-1]
	top.keys = top.keys[:len(top.keys)-1]
	h.txn.backend.release(h.txn, last)
	return kvengine.LockAcquired, nil
}

// sorter stages batches in a scratch leveldb database (so a scan whose
// row count crosses BigThreshold does not have to hold everything in
// process memory at once) and merges them via a single ordered iterator
// over that scratch database at FinishScan.
type sorter struct {
	dir string
	db  *leveldb.DB
}

func newSorter(basePath string) (*sorter, error) {
	dir, err := os.MkdirTemp("", "leveldbkv-sort-")
	if err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &sorter{dir: dir, db: db}, nil
}

func (s *sorter) AddBatch(pairs []kvengine.KV, off, count int) error {
	b := new(leveldb.Batch)
	for i := off; i < off+count; i++ {
		b.Put(pairs[i].Key, pairs[i].Value)
	}
	return s.db.Write(b, nil)
}

func (s *sorter) FinishScan() (kvengine.SortedSource, error) {
	it := s.db.NewIterator(&util.Range{}, nil)
	return &sortedSource{sorter: s, it: it}, nil
}

type sortedSource struct {
	sorter *sorter
	it     iterator.Iterator
}

func (s *sortedSource) Next() bool    { return s.it.Next() }
func (s *sortedSource) Key() []byte   { return append([]byte(nil), s.it.Key()...) }
func (s *sortedSource) Value() []byte { return append([]byte(nil), s.it.Value()...) }

func (s *sortedSource) Close() error {
	s.it.Release()
	if err := s.sorter.db.Close(); err != nil {
		return err
	}
	return os.RemoveAll(s.sorter.dir)
}
