// Package memkv is an in-memory kvengine.Backend, mostly useful for tests
// and development — generalized from pkg/sorted's NewMemoryKeyValue
// (a mutex-guarded map behind the KeyValue interface) up to the full
// Index/View/Cursor/Transaction/Sorter surface kvengine.Backend requires.
package memkv

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/camforge/rowkv/pkg/kvengine"
	"github.com/camforge/rowkv/pkg/rowconfig"
)

func init() {
	kvengine.Register("memory", func(cfg rowconfig.Obj) (kvengine.Backend, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return New(), nil
	})
}

// New returns an empty in-memory Backend.
func New() kvengine.Backend {
	return &backend{indexes: make(map[string]*index)}
}

type backend struct {
	mu      sync.Mutex
	nextID  int64
	indexes map[string]*index
	byID    map[int64]*index

	locks sync.Mutex
	held  map[string]*txn // key -> owning transaction
}

func (b *backend) OpenIndex(_ context.Context, name string) (kvengine.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.indexes[name]; ok {
		return idx, nil
	}
	b.nextID++
	idx := &index{
		id:      b.nextID,
		name:    name,
		backend: b,
		data:    make(map[string][]byte),
	}
	b.indexes[name] = idx
	if b.byID == nil {
		b.byID = make(map[int64]*index)
	}
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

func (b *backend) Close() error { return nil }

// acquire takes the in-memory lock on key for t, per mode. Unlike a real
// storage engine this never blocks: a conflicting hold by a different
// transaction is reported as an error rather than queued, which is
// sufficient for the single-writer-at-a-time usage this backend is meant
// for (tests, development).
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
		return 0, fmt.Errorf("memkv: key %q locked by another transaction", k)
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

	mu   sync.RWMutex
	data map[string][]byte
}

func (idx *index) ID() int64   { return idx.id }
func (idx *index) Name() string { return idx.name }
func (idx *index) Close() error { return nil }

func (idx *index) View() kvengine.View {
	return &view{idx: idx, writable: true}
}

type view struct {
	idx      *index
	writable bool
	// lo/hi bound the key range this view exposes; hi is exclusive. Nil
	// bounds mean unbounded.
	lo, hi []byte
}

// Sub returns a view windowed to [lo, hi), intersected with v's own
// window so a sub-view can never see outside its parent's range.
func (v *view) Sub(lo, hi []byte) kvengine.View {
	newLo := lo
	if v.lo != nil && (lo == nil || bytes.Compare(v.lo, lo) > 0) {
		newLo = v.lo
	}
	newHi := hi
	if v.hi != nil && (hi == nil || bytes.Compare(v.hi, hi) < 0) {
		newHi = v.hi
	}
	return &view{idx: v.idx, writable: v.writable, lo: newLo, hi: newHi}
}

// ReadOnly returns a read-only view over the same range, used to model a
// secondary-index derived table.
func (v *view) ReadOnly() kvengine.View {
	return &view{idx: v.idx, writable: false, lo: v.lo, hi: v.hi}
}

func (v *view) inRange(key []byte) bool {
	if v.lo != nil && bytes.Compare(key, v.lo) < 0 {
		return false
	}
	if v.hi != nil && bytes.Compare(key, v.hi) >= 0 {
		return false
	}
	return true
}

func (v *view) NewCursor(t kvengine.Transaction) (kvengine.Cursor, error) {
	v.idx.mu.RLock()
	keys := make([]string, 0, len(v.idx.data))
	for k := range v.idx.data {
		if v.inRange([]byte(k)) {
			keys = append(keys, k)
		}
	}
	v.idx.mu.RUnlock()
	sort.Strings(keys)

	var mt *txn
	if t != nil {
		var ok bool
		mt, ok = t.(*txn)
		if !ok {
			return nil, fmt.Errorf("memkv: transaction not created by this backend")
		}
	}
	return &cursor{view: v, keys: keys, pos: -1, txn: mt, autoload: true}, nil
}

func (v *view) NewTransaction(_ context.Context, mode kvengine.LockMode) (kvengine.Transaction, error) {
	return &txn{backend: v.idx.backend, mode: mode, scopes: []*scope{{}}}, nil
}

func (v *view) Store(t kvengine.Transaction, key, value []byte) error {
	if !v.writable {
		return kvengine.ErrUnmodifiableView
	}
	if t != nil {
		mt, ok := t.(*txn)
		if !ok {
			return fmt.Errorf("memkv: transaction not created by this backend")
		}
		if _, err := v.idx.backend.acquire(mt, key, mt.mode); err != nil {
			return err
		}
		mt.noteKey(key)
	}
	v.idx.mu.Lock()
	v.idx.data[string(key)] = append([]byte(nil), value...)
	v.idx.mu.Unlock()
	return nil
}

func (v *view) Exists(t kvengine.Transaction, key []byte) (bool, error) {
	if t != nil {
		mt, ok := t.(*txn)
		if !ok {
			return false, fmt.Errorf("memkv: transaction not created by this backend")
		}
		if _, err := v.idx.backend.acquire(mt, key, mt.mode); err != nil {
			return false, err
		}
		mt.noteKey(key)
	}
	v.idx.mu.RLock()
	_, ok := v.idx.data[string(key)]
	v.idx.mu.RUnlock()
	return ok, nil
}

func (v *view) Writable() bool { return v.writable }

type cursor struct {
	view     *view
	keys     []string
	pos      int
	txn      *txn
	autoload bool
}

func (c *cursor) First() error {
	if len(c.keys) == 0 {
		c.pos = -1
		return kvengine.ErrNotFound
	}
	c.pos = 0
	return nil
}

func (c *cursor) Next() error {
	if c.pos < 0 || c.pos+1 >= len(c.keys) {
		c.pos = -1
		return kvengine.ErrNotFound
	}
	c.pos++
	return nil
}

func (c *cursor) positioned() bool { return c.pos >= 0 && c.pos < len(c.keys) }

func (c *cursor) Key() ([]byte, error) {
	if !c.positioned() {
		return nil, kvengine.ErrUnpositioned
	}
	key := []byte(c.keys[c.pos])
	if c.txn != nil {
		if _, err := c.view.idx.backend.acquire(c.txn, key, c.txn.mode); err != nil {
			return nil, err
		}
		c.txn.noteKey(key)
	}
	return key, nil
}

func (c *cursor) Value() ([]byte, error) {
	if !c.positioned() {
		return nil, kvengine.ErrUnpositioned
	}
	if !c.autoload {
		return nil, nil
	}
	c.view.idx.mu.RLock()
	v, ok := c.view.idx.data[c.keys[c.pos]]
	c.view.idx.mu.RUnlock()
	if !ok {
		return nil, kvengine.ErrUnpositioned
	}
	return v, nil
}

func (c *cursor) Store(value []byte) error {
	if !c.positioned() {
		return kvengine.ErrUnpositioned
	}
	if !c.view.writable {
		return kvengine.ErrUnmodifiableView
	}
	key := []byte(c.keys[c.pos])
	if c.txn != nil {
		c.txn.noteKey(key)
	}
	c.view.idx.mu.Lock()
	c.view.idx.data[string(key)] = append([]byte(nil), value...)
	c.view.idx.mu.Unlock()
	return nil
}

func (c *cursor) Delete() error {
	if !c.positioned() {
		return kvengine.ErrUnpositioned
	}
	if !c.view.writable {
		return kvengine.ErrUnmodifiableView
	}
	key := c.keys[c.pos]
	c.view.idx.mu.Lock()
	delete(c.view.idx.data, key)
	c.view.idx.mu.Unlock()
	c.pos = -1
	return nil
}

func (c *cursor) Reset() {
	c.pos = -1
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

func (c *cursor) Close() error { return nil }

// scope is one Enter/Exit nesting level: the keys locked since it was
// pushed, released on Exit unless the transaction commits first.
type scope struct {
	keys [][]byte
}

type txn struct {
	backend *backend
	mode    kvengine.LockMode
	scopes  []*scope
	cursors []*cursor
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
		return fmt.Errorf("memkv: Exit with no open scope")
	}
	top := t.scopes[len(t.scopes)-1]
	t.scopes = t.scopes[:len(t.scopes)-1]
	for _, k := range top.keys {
		t.backend.release(t, k)
	}
	return nil
}

func (t *txn) Commit() error {
	for _, s := range t.scopes {
		for _, k := range s.keys {
			t.backend.release(t, k)
		}
	}
	t.scopes = nil
	for _, c := range t.cursors {
		c.Reset()
	}
	return nil
}

func (t *txn) LockMode() kvengine.LockMode { return t.mode }

func (t *txn) SetLockMode(mode kvengine.LockMode) { t.mode = mode }

func (t *txn) Link() kvengine.LockHandle {
	return &lockHandle{txn: t}
}

type lockHandle struct {
	txn *txn
}

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

// sorter is a simple whole-in-memory external sort stand-in: real
// backends spill to disk between AddBatch calls, but a development
// backend can afford to just buffer and sort once at FinishScan.
type sorter struct {
	mu   sync.Mutex
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
