// Package mongokv is a kvengine.Backend over MongoDB, generalized from
// pkg/sorted/mongo's single "keys" collection ({k, v} documents, sorted by
// the "k" field) into one collection per Index.
//
// gopkg.in/mgo.v2 predates MongoDB's multi-document ACID transactions, so
// (like the teacher's own mongokv, whose BeginBatch/CommitBatch apply
// mutations one at a time rather than atomically) kvengine.Transaction
// here is advisory only: Enter/Exit/Commit track an in-process lock table
// for LockResult bookkeeping, but each Store/Delete still applies to
// MongoDB immediately rather than batched into one atomic commit. This is
// recorded in DESIGN.md as a known deviation from the serializable
// key-change guarantee §4.5/S4 describes for backends that can actually
// provide it (leveldbkv, via goleveldb's real Transaction).
package mongokv

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/camforge/rowkv/pkg/kvengine"
	"github.com/camforge/rowkv/pkg/rowconfig"
)

const (
	mgoKey   = "k"
	mgoValue = "v"
)

func init() {
	kvengine.Register("mongo", func(cfg rowconfig.Obj) (kvengine.Backend, error) {
		host := cfg.OptionalString("host", "localhost")
		database := cfg.RequiredString("database")
		user := cfg.OptionalString("user", "")
		password := cfg.OptionalString("password", "")
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return Open(host, database, user, password)
	})
}

func dialURL(host, database, user, password string) string {
	if user == "" || password == "" {
		return host
	}
	return user + ":" + password + "@" + host + "/" + database
}

// Open dials a MongoDB server and returns a Backend scoped to database.
func Open(host, database, user, password string) (kvengine.Backend, error) {
	session, err := mgo.Dial(dialURL(host, database, user, password))
	if err != nil {
		return nil, err
	}
	session.SetMode(mgo.Monotonic, true)
	session.SetSafe(&mgo.Safe{})
	return &backend{
		session:  session,
		db:       session.DB(database),
		indexes:  make(map[string]*index),
		byID:     make(map[int64]*index),
	}, nil
}

type backend struct {
	session *mgo.Session
	db      *mgo.Database

	mu      sync.Mutex
	nextID  int64
	indexes map[string]*index
	byID    map[int64]*index

	locks sync.Mutex
	held  map[string]*txn
}

func (b *backend) OpenIndex(_ context.Context, name string) (kvengine.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.indexes[name]; ok {
		return idx, nil
	}
	coll := b.db.C("rowkv_" + name)
	if err := coll.EnsureIndexKey(mgoKey); err != nil {
		return nil, fmt.Errorf("mongokv: indexing collection for %q: %w", name, err)
	}
	b.nextID++
	idx := &index{id: b.nextID, name: name, coll: coll, backend: b}
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

func (b *backend) Close() error {
	b.session.Close()
	return nil
}

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
		return 0, fmt.Errorf("mongokv: key locked by another transaction")
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
	coll    *mgo.Collection
	backend *backend
}

func (idx *index) ID() int64           { return idx.id }
func (idx *index) Name() string        { return idx.name }
func (idx *index) Close() error        { return nil }
func (idx *index) View() kvengine.View { return &view{idx: idx, writable: true} }

type doc struct {
	Key   []byte `bson:"k"`
	Value []byte `bson:"v"`
}

type view struct {
	idx      *index
	writable bool
	lo, hi   []byte
}

// Sub narrows the iteration window to [lo, hi), intersected with v's
// current bounds.
func (v *view) Sub(lo, hi []byte) kvengine.View {
	newLo := v.lo
	if lo != nil && (newLo == nil || bytes.Compare(lo, newLo) > 0) {
		newLo = lo
	}
	newHi := v.hi
	if hi != nil && (newHi == nil || bytes.Compare(hi, newHi) < 0) {
		newHi = hi
	}
	return &view{idx: v.idx, writable: v.writable, lo: newLo, hi: newHi}
}

func (v *view) rangeQuery() bson.M {
	q := bson.M{}
	if v.lo != nil {
		q["$gte"] = v.lo
	}
	if v.hi != nil {
		q["$lt"] = v.hi
	}
	if len(q) == 0 {
		return nil
	}
	return bson.M{mgoKey: q}
}

func (v *view) NewCursor(t kvengine.Transaction) (kvengine.Cursor, error) {
	var results []doc
	if err := v.idx.coll.Find(v.rangeQuery()).Sort(mgoKey).All(&results); err != nil {
		return nil, fmt.Errorf("mongokv: opening cursor: %w", err)
	}
	var mt *txn
	if t != nil {
		var ok bool
		mt, ok = t.(*txn)
		if !ok {
			return nil, fmt.Errorf("mongokv: transaction not created by this backend")
		}
	}
	return &cursor{view: v, docs: results, pos: -1, txn: mt, autoload: true}, nil
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
			return fmt.Errorf("mongokv: transaction not created by this backend")
		}
		if _, err := v.idx.backend.acquire(mt, key, mt.mode); err != nil {
			return err
		}
		mt.noteKey(key)
	}
	_, err := v.idx.coll.Upsert(bson.M{mgoKey: key}, doc{Key: key, Value: value})
	return err
}

func (v *view) Exists(t kvengine.Transaction, key []byte) (bool, error) {
	if t != nil {
		mt, ok := t.(*txn)
		if !ok {
			return false, fmt.Errorf("mongokv: transaction not created by this backend")
		}
		if _, err := v.idx.backend.acquire(mt, key, mt.mode); err != nil {
			return false, err
		}
		mt.noteKey(key)
	}
	n, err := v.idx.coll.Find(bson.M{mgoKey: key}).Count()
	return n > 0, err
}

func (v *view) Writable() bool { return v.writable }

type cursor struct {
	view     *view
	docs     []doc
	pos      int
	txn      *txn
	autoload bool
}

func (c *cursor) First() error {
	if len(c.docs) == 0 {
		c.pos = -1
		return kvengine.ErrNotFound
	}
	c.pos = 0
	return nil
}

func (c *cursor) Next() error {
	if c.pos < 0 || c.pos+1 >= len(c.docs) {
		c.pos = -1
		return kvengine.ErrNotFound
	}
	c.pos++
	return nil
}

func (c *cursor) positioned() bool { return c.pos >= 0 && c.pos < len(c.docs) }

func (c *cursor) Key() ([]byte, error) {
	if !c.positioned() {
		return nil, kvengine.ErrUnpositioned
	}
	key := c.docs[c.pos].Key
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
	return c.docs[c.pos].Value, nil
}

func (c *cursor) Store(value []byte) error {
	if !c.positioned() {
		return kvengine.ErrUnpositioned
	}
	return c.view.Store(c.txnIface(), c.docs[c.pos].Key, value)
}

func (c *cursor) Delete() error {
	if !c.positioned() {
		return kvengine.ErrUnpositioned
	}
	if !c.view.writable {
		return kvengine.ErrUnmodifiableView
	}
	err := c.view.idx.coll.Remove(bson.M{mgoKey: c.docs[c.pos].Key})
	if err == mgo.ErrNotFound {
		err = nil
	}
	c.pos = -1
	return err
}

func (c *cursor) txnIface() kvengine.Transaction {
	if c.txn == nil {
		return nil
	}
	return c.txn
}

func (c *cursor) Reset() { c.pos = -1 }

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
		return fmt.Errorf("mongokv: Exit with no open scope")
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

func (t *txn) LockMode() kvengine.LockMode        { return t.mode }
func (t *txn) SetLockMode(mode kvengine.LockMode) { t.mode = mode }
func (t *txn) Link() kvengine.LockHandle          { return &lockHandle{txn: t} }

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
