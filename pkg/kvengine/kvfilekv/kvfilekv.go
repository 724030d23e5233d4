// Package kvfilekv is a kvengine.Backend over a single on-disk
// modernc.org/kv database file, generalized from pkg/sorted/kvfile's
// KeyValue implementation the same way leveldbkv generalizes
// pkg/sorted/leveldb: one flat keyspace namespaced by an 8-byte
// big-endian index-id prefix per Index.
//
// modernc.org/kv's own BeginTransaction/Commit/Rollback are themselves
// depth-counted nested scopes, which is exactly kvengine.Transaction's
// Enter/Exit/Commit shape — this backend is the one of the four that
// needs no bespoke lock table to get real nested-scope semantics, unlike
// memkv/leveldbkv/mongokv's advisory lock tables.
package kvfilekv

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"modernc.org/kv"

	"github.com/camforge/rowkv/pkg/kvengine"
	"github.com/camforge/rowkv/pkg/rowconfig"
)

func init() {
	kvengine.Register("kvfile", func(cfg rowconfig.Obj) (kvengine.Backend, error) {
		file := cfg.RequiredString("file")
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return Open(file)
	})
}

// Open opens (creating if necessary) a kvfilekv.Backend at file.
func Open(file string) (kvengine.Backend, error) {
	opts := &kv.Options{}
	var db *kv.DB
	var err error
	if _, statErr := os.Stat(file); statErr == nil {
		db, err = kv.Open(file, opts)
	} else {
		db, err = kv.Create(file, opts)
	}
	if err != nil {
		return nil, err
	}
	return &backend{
		db:      db,
		indexes: make(map[string]*index),
		byID:    make(map[int64]*index),
	}, nil
}

type backend struct {
	db *kv.DB

	mu      sync.Mutex
	nextID  int64
	indexes map[string]*index
	byID    map[int64]*index

	// txmu serializes transactions, matching modernc.org/kv's own
	// single-writer expectation (teacher's kvis.txmu plays the same role
	// around CommitBatch).
	txmu sync.Mutex
}

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
	return nil
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
	return &sorter{}, nil
}

func (b *backend) Close() error { return b.db.Close() }

type index struct {
	id      int64
	name    string
	backend *backend
}

func (idx *index) ID() int64    { return idx.id }
func (idx *index) Name() string { return idx.name }
func (idx *index) Close() error { return nil }
func (idx *index) View() kvengine.View {
	return &view{idx: idx, writable: true, lo: nsPrefix(idx.id), hi: nsEnd(idx.id)}
}

type view struct {
	idx      *index
	writable bool
	lo, hi   []byte
}

func (v *view) full(key []byte) []byte {
	out := make([]byte, 0, len(v.lo)+len(key))
	out = append(out, v.lo...)
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
	return &view{idx: v.idx, writable: v.writable, lo: newLo, hi: newHi}
}

func (v *view) NewCursor(t kvengine.Transaction) (kvengine.Cursor, error) {
	var mt *txn
	if t != nil {
		var ok bool
		mt, ok = t.(*txn)
		if !ok {
			return nil, fmt.Errorf("kvfilekv: transaction not created by this backend")
		}
	}
	enum, _, err := v.idx.backend.db.Seek(v.lo)
	if err != nil {
		return nil, err
	}
	return &cursor{view: v, enum: enum, txn: mt, autoload: true, prefixLen: len(v.lo)}, nil
}

func (v *view) NewTransaction(_ context.Context, mode kvengine.LockMode) (kvengine.Transaction, error) {
	v.idx.backend.txmu.Lock()
	if err := v.idx.backend.db.BeginTransaction(); err != nil {
		v.idx.backend.txmu.Unlock()
		return nil, err
	}
	return &txn{backend: v.idx.backend, mode: mode, depth: 1}, nil
}

func (v *view) Store(t kvengine.Transaction, key, value []byte) error {
	if !v.writable {
		return kvengine.ErrUnmodifiableView
	}
	return v.idx.backend.db.Set(v.full(key), value)
}

func (v *view) Exists(_ kvengine.Transaction, key []byte) (bool, error) {
	val, err := v.idx.backend.db.Get(nil, v.full(key))
	if err != nil {
		return false, err
	}
	return val != nil, nil
}

func (v *view) Writable() bool { return v.writable }

type cursor struct {
	view      *view
	enum      *kv.Enumerator
	txn       *txn
	autoload  bool
	prefixLen int

	key, val []byte
	valid    bool
	err      error
}

func (c *cursor) First() error {
	enum, _, err := c.view.idx.backend.db.Seek(c.view.lo)
	if err != nil {
		return err
	}
	c.enum = enum
	return c.Next()
}

func (c *cursor) Next() error {
	k, v, err := c.enum.Next()
	if err == io.EOF {
		c.valid = false
		return kvengine.ErrNotFound
	}
	if err != nil {
		c.valid = false
		return err
	}
	if c.view.hi != nil && bytes.Compare(k, c.view.hi) >= 0 {
		c.valid = false
		return kvengine.ErrNotFound
	}
	c.key, c.val, c.valid = k, v, true
	return nil
}

func (c *cursor) Key() ([]byte, error) {
	if !c.valid {
		return nil, kvengine.ErrUnpositioned
	}
	return c.key[c.prefixLen:], nil
}

func (c *cursor) Value() ([]byte, error) {
	if !c.valid {
		return nil, kvengine.ErrUnpositioned
	}
	if !c.autoload {
		return nil, nil
	}
	return c.val, nil
}

func (c *cursor) Store(value []byte) error {
	if !c.valid {
		return kvengine.ErrUnpositioned
	}
	if !c.view.writable {
		return kvengine.ErrUnmodifiableView
	}
	return c.view.idx.backend.db.Set(c.key, value)
}

func (c *cursor) Delete() error {
	if !c.valid {
		return kvengine.ErrUnpositioned
	}
	if !c.view.writable {
		return kvengine.ErrUnmodifiableView
	}
	err := c.view.idx.backend.db.Delete(c.key)
	c.valid = false
	return err
}

func (c *cursor) Reset() { c.valid = false }

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

func (c *cursor) Close() error { return nil }

type txn struct {
	backend *backend
	mode    kvengine.LockMode
	depth   int
	cursors []*cursor
	done    bool
}

func (t *txn) Enter() error {
	if err := t.backend.db.BeginTransaction(); err != nil {
		return err
	}
	t.depth++
	return nil
}

func (t *txn) Exit() error {
	if t.depth <= 0 {
		return fmt.Errorf("kvfilekv: Exit with no open scope")
	}
	t.depth--
	return t.backend.db.Rollback()
}

func (t *txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.backend.txmu.Unlock()
	for t.depth > 0 {
		if err := t.backend.db.Commit(); err != nil {
			return err
		}
		t.depth--
	}
	for _, c := range t.cursors {
		c.Reset()
	}
	return nil
}

func (t *txn) LockMode() kvengine.LockMode        { return t.mode }
func (t *txn) SetLockMode(mode kvengine.LockMode) { t.mode = mode }
func (t *txn) Link() kvengine.LockHandle          { return &lockHandle{} }

// lockHandle is a no-op here: modernc.org/kv serializes all writers via
// backend.txmu, so there is no finer-grained per-row lock to release
// early the way S5's non-repeatable-read scenario wants. A deployment
// needing that release-on-step-past behavior should choose leveldbkv,
// whose lock table supports it.
type lockHandle struct{}

func (*lockHandle) Unlock() (kvengine.LockResult, error) { return kvengine.LockUnowned, nil }

type sorter struct {
	mu    sync.Mutex
	pairs []kvengine.KV
}

func (s *sorter) AddBatch(pairs []kvengine.KV, off, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := off; i < off+count; i++ {
		s.pairs = append(s.pairs, kvengine.KV{
			Key:   append([]byte(nil), pairs[i].Key...),
			Value: append([]byte(nil), pairs[i].Value...),
		})
	}
	return nil
}

func (s *sorter) FinishScan() (kvengine.SortedSource, error) {
	s.mu.Lock()
	pairs := s.pairs
	s.pairs = nil
	s.mu.Unlock()
	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].Key, pairs[j].Key) < 0 })
	return &sortedSource{pairs: pairs, pos: -1}, nil
}

type sortedSource struct {
	pairs []kvengine.KV
	pos   int
}

func (s *sortedSource) Next() bool {
	if s.pos+1 >= len(s.pairs) {
		return false
	}
	s.pos++
	return true
}
func (s *sortedSource) Key() []byte   { return s.pairs[s.pos].Key }
func (s *sortedSource) Value() []byte { return s.pairs[s.pos].Value }
func (s *sortedSource) Close() error  { return nil }
