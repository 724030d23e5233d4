package secondary

import (
	"sync"
	"sync/atomic"

	"github.com/camforge/rowkv/pkg/kvengine"
	"github.com/camforge/rowkv/pkg/rowschema"
)

// Row is the decoded row representation this package consumes, matching
// pkg/rowscanner.Row: a primary-table row keyed by column name.
type Row = map[string]interface{}

// Entry pairs a reconciled secondary-index schema with the already-open
// kvengine.Index backing it and the codec that derives its (key, value)
// bytes from a decoded primary row. Secondary columns are always named
// after a primary column, so deriving a secondary row is a projection: the
// codec's Column order picks which primary fields it reads and in what
// order, nothing more.
type Entry struct {
	Info  *rowschema.SecondaryInfo
	Index kvengine.Index
	Codec *rowschema.RowCodec
}

// Trigger propagates a primary-table write into every secondary index open
// at the time it was built (§4.6). A Trigger is immutable once constructed;
// reconciliation produces a new one rather than mutating an existing
// Trigger in place, which is what makes the swap protocol below safe.
type Trigger struct {
	entries []*Entry

	refCount int32
	disabled int32
	drained  chan struct{}
	once     sync.Once
}

// NewTrigger builds a Trigger over the given reconciled entries.
func NewTrigger(entries []*Entry) *Trigger {
	return &Trigger{entries: entries, drained: make(chan struct{})}
}

// Acquire records one in-flight writer against this Trigger and returns it,
// so the caller can defer t.Release(). Acquire must happen before a writer
// reads t.entries, and must never be attempted after a writer has obtained
// this Trigger from a Cell — the Cell is what guarantees a fresh Acquire
// cannot race past a completed Disable.
func (t *Trigger) Acquire() *Trigger {
	atomic.AddInt32(&t.refCount, 1)
	return t
}

// Release records that one in-flight writer is done with this Trigger.
func (t *Trigger) Release() {
	if atomic.AddInt32(&t.refCount, -1) == 0 && atomic.LoadInt32(&t.disabled) == 1 {
		t.once.Do(func() { close(t.drained) })
	}
}

// Disable marks this Trigger outgoing and blocks until every writer that
// had already Acquired it has Released, per §4.6's swap protocol: "the
// outgoing trigger's disabled() hook waits for its reference count to
// drain before resources are freed."
func (t *Trigger) Disable() {
	atomic.StoreInt32(&t.disabled, 1)
	if atomic.LoadInt32(&t.refCount) == 0 {
		t.once.Do(func() { close(t.drained) })
		return
	}
	<-t.drained
}

// Propagate writes (or removes) the secondary-index entries derived from
// one primary-table row into every index this Trigger knows about. deleted
// selects whether the primary write was a delete.
func (t *Trigger) Propagate(txn kvengine.Transaction, primary Row, deleted bool) error {
	get := func(name string) interface{} { return primary[name] }
	for _, e := range t.entries {
		key, err := e.Codec.EncodeKey(nil, get)
		if err != nil {
			return err
		}
		view := e.Index.View()
		if deleted {
			if err := deletePoint(view, txn, key); err != nil && err != kvengine.ErrNotFound {
				return err
			}
			continue
		}
		value, err := e.Codec.EncodeValue(nil, get)
		if err != nil {
			return err
		}
		if err := view.Store(txn, key, value); err != nil {
			return err
		}
	}
	return nil
}

// deletePoint removes key from view if present. Secondary indexes have no
// dedicated point-delete-by-key primitive in the kvengine Cursor surface
// (only position-then-delete), so this opens a cursor windowed to exactly
// [key, successor) and deletes whatever it finds there.
func deletePoint(view kvengine.View, txn kvengine.Transaction, key []byte) error {
	hi := append(append([]byte(nil), key...), 0x00)
	cur, err := view.Sub(key, hi).NewCursor(txn)
	if err != nil {
		return err
	}
	defer cur.Close()
	cur.Link(txn)
	cur.Register()
	if err := cur.First(); err != nil {
		return err
	}
	return cur.Delete()
}
