// Package kvengine defines the ordered, byte-keyed storage abstraction the
// rest of this module is built on (schema registry, scan controller, row
// scanners/updaters, secondary-index manager, sorted scanner), plus a
// constructor registry for concrete backends, generalized from
// pkg/sorted's KeyValue/BatchMutation/constructor-registry idiom to the
// richer Index/View/Cursor/Transaction/Sorter capability set those higher
// layers require: locking, nested transaction scopes, and an external-sort
// collaborator.
package kvengine

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Cursor positioning calls and View.Exists when
// no matching key exists; it is not itself a failure of the scan.
var ErrNotFound = errors.New("kvengine: key not found")

// ErrUnpositioned is raised when a Cursor that lost its position (the
// row it pointed to was deleted, or it was never positioned) is asked for
// Key/Value/Store/Delete.
var ErrUnpositioned = errors.New("kvengine: cursor unpositioned")

// ErrUnmodifiableView is returned by View.Store/View's Cursor.Store/Delete
// against a read-only derived table such as a secondary or alternate-key
// view.
var ErrUnmodifiableView = errors.New("kvengine: view is unmodifiable")

// LockMode governs how a Transaction's cursors acquire row locks.
type LockMode int

const (
	// LockNone takes no locks; reads are dirty, writes are auto-committed
	// row by row.
	LockNone LockMode = iota
	// LockUpgradable takes shared locks that may later be upgraded to
	// exclusive without deadlocking against other upgradable holders.
	LockUpgradable
	// LockExclusive takes exclusive locks outright.
	LockExclusive
)

// LockResult reports what happened when a Cursor attempted to acquire the
// lock needed for its current position, per §6's {already-held, acquired,
// unowned} taxonomy.
type LockResult int

const (
	// LockAcquired means a new lock was taken that the transaction did not
	// previously hold.
	LockAcquired LockResult = iota
	// LockAlreadyHeld means the transaction already held a sufficient lock;
	// no new lock state was created.
	LockAlreadyHeld
	// LockUnowned means no lock is held at this position, e.g. because the
	// transaction runs at LockNone.
	LockUnowned
)

// Index is a named, ordered byte-keyed store opened by numeric id. A
// Backend hands these out; row-level code almost always interacts with a
// View over one instead.
type Index interface {
	// ID is the backend-assigned numeric identifier for this index, used
	// as part of the secondary-index manager's reconciliation bookkeeping
	// (§4.6) and to detect a CorruptDatabase condition when a descriptor
	// names an id the backend no longer has open.
	ID() int64

	// Name is the backend's human-readable identifier for the index, used
	// for diagnostics only.
	Name() string

	// View returns the unrestricted, full-range, writable view over this
	// index.
	View() View

	// Close releases backend resources associated with this index. It does
	// not delete the stored data.
	Close() error
}

// View is a windowed, possibly filtered projection of an Index: a key
// subrange, or a read-only derived table (a secondary index or an
// alternate-key view), still presenting the full Cursor/Transaction
// surface the scan controller and row scanners drive.
type View interface {
	// NewCursor opens a cursor over this view, bound to txn (nil means
	// auto-commit: every Store/Delete commits immediately and no explicit
	// Transaction.Commit is needed or allowed).
	NewCursor(txn Transaction) (Cursor, error)

	// NewTransaction starts a transaction at the given lock mode, scoped to
	// this view's backend.
	NewTransaction(ctx context.Context, mode LockMode) (Transaction, error)

	// Store writes key/value directly, without a cursor, inside txn (nil
	// for auto-commit). It returns ErrUnmodifiableView for a read-only
	// view.
	Store(txn Transaction, key, value []byte) error

	// Exists reports whether key is present in this view, taking the same
	// locks a Cursor positioned at key would.
	Exists(txn Transaction, key []byte) (bool, error)

	// Writable reports whether Store/Cursor.Store/Cursor.Delete are
	// permitted against this view.
	Writable() bool

	// Sub returns a view windowed to the key subrange [lo, hi) of this
	// view's own keyspace; a nil lo or hi means unbounded on that side.
	// pkg/rowscanner opens a cursor against Sub(subrange.Low,
	// subrange.High) for each scan-controller subrange in turn, rather
	// than filtering a full-range cursor in Go, so a backend can push the
	// range down to its native index/query mechanism.
	Sub(lo, hi []byte) View
}

// Cursor iterates a View's key range in ascending key order and optionally
// mutates the row it is positioned on. A Cursor is not goroutine-safe and,
// per §5, is owned and driven by exactly one scanner or updater.
type Cursor interface {
	// First positions the cursor at the first key in its range. It returns
	// ErrNotFound (not an error condition for the caller) if the range is
	// empty.
	First() error

	// Next advances to the next key in range order. It returns
	// ErrNotFound once the range is exhausted.
	Next() error

	// Key returns the raw key bytes at the cursor's current position. It
	// returns ErrUnpositioned if the cursor has no current row.
	Key() ([]byte, error)

	// Value returns the raw value bytes at the cursor's current position,
	// respecting the Autoload setting: if autoload is disabled, Value may
	// return a sentinel indicating the caller must fetch it explicitly via
	// a later autoload-enabled positioning call.
	Value() ([]byte, error)

	// Store overwrites the value at the cursor's current position within
	// its linked transaction.
	Store(value []byte) error

	// Delete removes the row at the cursor's current position within its
	// linked transaction; the cursor becomes unpositioned afterward (the
	// next First/Next call repositions it).
	Delete() error

	// Reset releases any resources held directly by the cursor (but not
	// its linked transaction) and clears its position, matching §7's
	// UnpositionedCursor recovery path: a decode error or lost position
	// inside a scan resets the cursor and clears the current row.
	Reset()

	// Link binds this cursor to txn for subsequent Store/Delete/lock
	// acquisition; nil reverts to auto-commit.
	Link(txn Transaction)

	// Register records this cursor with its linked transaction so the
	// transaction's Exit/Commit can find and reset cursors it owns; it
	// must be called once after Link and before the cursor is driven.
	Register()

	// Autoload toggles whether positioning calls (First/Next) eagerly
	// fetch the value, versus only the key; a scan whose residual
	// predicate can be fully evaluated from the key alone can disable this
	// to save a fetch per row.
	Autoload(enabled bool)

	// Commit stores value at the current position and immediately commits
	// the owning transaction (used by the auto-commit scanner/updater
	// variant, which never calls Transaction.Commit directly).
	Commit(value []byte) error

	// Close releases all resources held by the cursor.
	Close() error
}

// Transaction is a nested set of storage-engine lock scopes. Entering and
// exiting scopes lets a non-repeatable-read updater release locks on rows
// it has stepped past while keeping locks acquired at an outer scope
// (§4.5, scenario S5).
type Transaction interface {
	// Enter pushes a new nested scope; locks acquired after Enter are
	// released by the matching Exit if it does not Commit.
	Enter() error

	// Exit pops the most recently entered scope, releasing any locks
	// acquired since the matching Enter that were not promoted by a
	// Commit.
	Exit() error

	// Commit commits all scopes from the current one up to and including
	// the outermost, persisting every write made under this transaction
	// and releasing its locks.
	Commit() error

	// LockMode reports this transaction's lock mode.
	LockMode() LockMode

	// SetLockMode changes the lock mode applied to locks acquired from
	// this point forward.
	SetLockMode(mode LockMode)

	// Link returns a handle whose Unlock releases the lock most recently
	// acquired under this transaction without otherwise altering scope
	// nesting; used by an updater that must release a single row's lock
	// early (§4.5's release-on-step-past behavior) without exiting a whole
	// scope.
	Link() LockHandle
}

// LockHandle is the fine-grained unlock handle returned by
// Transaction.Link.
type LockHandle interface {
	// Unlock releases the lock this handle refers to, reporting which of
	// the §6 {already-held, acquired, unowned} states applied before the
	// release.
	Unlock() (LockResult, error)
}

// KV is one key/value pair, used by Sorter.AddBatch and by a sorted
// source's output.
type KV struct {
	Key   []byte
	Value []byte
}

// SortedSource is what Sorter.FinishScan hands back: a forward-only
// iterator over the merged, key-ordered output of everything ingested via
// AddBatch.
type SortedSource interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close() error
}

// Sorter is the external-sort collaborator pkg/sortedscan's big-mode path
// drives once a query's row count crosses the configurable big-threshold:
// batches of (key, value) pairs produced by a Transcoder are staged here,
// and FinishScan merges them into one ascending stream.
type Sorter interface {
	// AddBatch ingests pairs[off : off+count] as one staged run. The
	// backend is free to spill to durable storage between calls; ingestion
	// failure resets the sorter (per §7, "errors during sorter ingestion
	// reset the sorter and propagate").
	AddBatch(pairs []KV, off, count int) error

	// FinishScan merges every batch ingested so far into one ascending
	// SortedSource and releases the sorter's intermediate storage once
	// that source is closed.
	FinishScan() (SortedSource, error)
}

// Backend opens named Index instances and constructs a Sorter, the two
// entry points row-level code needs from a concrete storage engine.
type Backend interface {
	// OpenIndex opens (creating if necessary) the index with the given
	// name, returning its backend-assigned numeric id alongside it.
	OpenIndex(ctx context.Context, name string) (Index, error)

	// IndexByID looks up an already-open index by the id a descriptor
	// recorded; it returns CorruptDatabaseError if no such index exists
	// (§7 CorruptDatabase).
	IndexByID(id int64) (Index, error)

	// NewSorter creates a Sorter scoped to this backend for one sorted
	// scan.
	NewSorter(ctx context.Context) (Sorter, error)

	// Close releases all resources held by the backend.
	Close() error
}

// CorruptDatabaseError is the §7 CorruptDatabase condition: a descriptor
// names an index id the backend no longer has open.
type CorruptDatabaseError struct {
	IndexID int64
}

func (e *CorruptDatabaseError) Error() string {
	return fmt.Sprintf("kvengine: corrupt database, index id %d", e.IndexID)
}
