// Package table implements the minimal table-level write surface spec.md
// §1 treats as out of scope except as it appears in §4.4: `store`,
// `update`, `delete`, `insert`, `replace`, `merge`, `exchange`, each of
// which (per spec.md §2's write data flow) "take the current trigger
// under shared ownership, perform the primary-index mutation under a
// transaction, and let the trigger propagate secondary-index deltas."
//
// Grounded on the handful of Perkeep server-side mutation call sites
// (pkg/sorted.KeyValue.Set/Delete and its batch-mutation counterpart)
// generalized to the richer kvengine.Transaction/secondary.Trigger
// machinery this module's §4.5/§4.6 require.
package table

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/camforge/rowkv/pkg/kvengine"
	"github.com/camforge/rowkv/pkg/rowscanner"
	"github.com/camforge/rowkv/pkg/rowschema"
	"github.com/camforge/rowkv/pkg/scan"
	"github.com/camforge/rowkv/pkg/secondary"
	"github.com/camforge/rowkv/pkg/sortedscan"
)

// Row is the decoded, column-name -> value row representation every
// table operation reads and writes, matching pkg/rowscanner.Row.
type Row = map[string]interface{}

// ErrAlreadyExists is returned by Insert when a row with the same primary
// key already exists.
var ErrAlreadyExists = errors.New("table: row already exists")

// ErrNotFound is returned by Replace, Delete, and Exchange, and by Update
// when it changes the primary key, when the row they expect to already
// exist is missing. An Update that keeps the primary key stores newRow
// without checking that a row exists.
var ErrNotFound = errors.New("table: row not found")

// Table binds one primary kvengine.Index to its current row schema and
// secondary-index trigger, and exposes the write operations spec.md §2
// describes plus the Scan entry point to spec.md §4.3's read path.
type Table struct {
	primary  kvengine.Index
	registry *rowschema.Registry
	rowType  string
	info     *rowschema.RowInfo // current (latest) schema; every write is stamped with this version
	codec    *rowschema.RowCodec

	cell    *secondary.Cell
	filters *scan.FactoryCache
}

// New binds a Table to primary's current schema info. Secondary indexes
// are not reconciled until the first Reconcile call.
func New(primary kvengine.Index, registry *rowschema.Registry, info *rowschema.RowInfo) (*Table, error) {
	codec, err := rowschema.NewRowCodec(info)
	if err != nil {
		return nil, fmt.Errorf("table: building row codec: %w", err)
	}
	return &Table{
		primary:  primary,
		registry: registry,
		rowType:  info.RowType,
		info:     info,
		codec:    codec,
		cell:     secondary.NewCell(),
		filters:  scan.NewFactoryCache(nil),
	}, nil
}

// Reconcile re-derives the table's secondary-index trigger from
// secondariesView's current descriptor set, installing a fresh trigger
// (§4.6) and draining the outgoing one only if the set actually changed.
func (t *Table) Reconcile(ctx context.Context, txn kvengine.Transaction, secondariesView kvengine.View, backend kvengine.Backend, mgr *secondary.Manager) error {
	next, err := mgr.Update(ctx, txn, secondariesView, backend, t.info)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	old := t.cell.Swap(next)
	if old != nil {
		old.Disable()
	}
	return nil
}

// Info returns the schema the table currently writes rows under.
func (t *Table) Info() *rowschema.RowInfo { return t.info }

// withTrigger acquires the currently installed trigger (if any) for the
// duration of fn, per §4.6's reference-counted swap protocol: "at most
// one trigger may observe a write ... during a swap both triggers may run
// concurrently on different writers."
func (t *Table) withTrigger(fn func(trig *secondary.Trigger) error) error {
	trig := t.cell.Load()
	if trig != nil {
		defer trig.Release()
	}
	return fn(trig)
}

func (t *Table) propagate(trig *secondary.Trigger, txn kvengine.Transaction, row Row, deleted bool) error {
	if trig == nil {
		return nil
	}
	return trig.Propagate(txn, row, deleted)
}

// Store unconditionally upserts row: an existing row at the same primary
// key is overwritten.
func (t *Table) Store(ctx context.Context, txn kvengine.Transaction, row Row) error {
	return t.withTrigger(func(trig *secondary.Trigger) error {
		key, value, err := t.encode(row)
		if err != nil {
			return err
		}
		if err := t.primary.View().Store(txn, key, value); err != nil {
			return err
		}
		return t.propagate(trig, txn, row, false)
	})
}

// Insert stores row, failing with ErrAlreadyExists if its primary key is
// already present.
func (t *Table) Insert(ctx context.Context, txn kvengine.Transaction, row Row) error {
	return t.withTrigger(func(trig *secondary.Trigger) error {
		key, value, err := t.encode(row)
		if err != nil {
			return err
		}
		exists, err := t.primary.View().Exists(txn, key)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyExists
		}
		if err := t.primary.View().Store(txn, key, value); err != nil {
			return err
		}
		return t.propagate(trig, txn, row, false)
	})
}

// Replace overwrites an existing row, failing with ErrNotFound if its
// primary key is not already present.
func (t *Table) Replace(ctx context.Context, txn kvengine.Transaction, row Row) error {
	return t.withTrigger(func(trig *secondary.Trigger) error {
		key, value, err := t.encode(row)
		if err != nil {
			return err
		}
		exists, err := t.primary.View().Exists(txn, key)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		if err := t.primary.View().Store(txn, key, value); err != nil {
			return err
		}
		return t.propagate(trig, txn, row, false)
	})
}

// Delete removes the row whose primary key matches row's key columns.
func (t *Table) Delete(ctx context.Context, txn kvengine.Transaction, row Row) error {
	return t.withTrigger(func(trig *secondary.Trigger) error {
		key, err := t.encodeKey(row)
		if err != nil {
			return err
		}
		if err := deletePoint(t.primary.View(), txn, key); err != nil {
			return err
		}
		return t.propagate(trig, txn, row, true)
	})
}

// Update replaces oldRow with newRow, which may change newRow's primary
// key relative to oldRow's, per spec.md §4.5's update() algorithm: an
// in-place value store if the key is unchanged, otherwise a delete of the
// old key and an insert of the new key inside one nested scope of txn.
// With a nil txn the delete and the insert each commit on their own, so
// the move is not atomic.
//
// Unlike pkg/rowscanner.Scanner.Update (which re-encodes from a
// cursor-held current row), Table.Update takes the caller's own oldRow so
// it can be driven outside of an open scan, e.g. after a caller looked a
// row up by key via a one-row Scan.
func (t *Table) Update(ctx context.Context, txn kvengine.Transaction, oldRow, newRow Row) error {
	return t.withTrigger(func(trig *secondary.Trigger) error {
		oldKey, err := t.encodeKey(oldRow)
		if err != nil {
			return err
		}
		newKey, newValue, err := t.encode(newRow)
		if err != nil {
			return err
		}

		if bytes.Equal(oldKey, newKey) {
			if err := t.primary.View().Store(txn, newKey, newValue); err != nil {
				return err
			}
		} else {
			if txn != nil {
				if err := txn.Enter(); err != nil {
					return err
				}
			}
			if err := deletePoint(t.primary.View(), txn, oldKey); err != nil {
				return err
			}
			if err := t.primary.View().Store(txn, newKey, newValue); err != nil {
				return err
			}
			if txn != nil {
				if err := txn.Exit(); err != nil {
					return err
				}
			}
		}

		if err := t.propagate(trig, txn, oldRow, true); err != nil {
			return err
		}
		return t.propagate(trig, txn, newRow, false)
	})
}

// Merge reads the row currently stored at patch's primary key, overlays
// patch's columns onto it, and Updates the result — a partial-column
// write that leaves every column patch does not mention untouched.
func (t *Table) Merge(ctx context.Context, txn kvengine.Transaction, patch Row) error {
	key, err := t.encodeKey(patch)
	if err != nil {
		return err
	}
	view := t.primary.View()
	value, found, err := getPoint(view, txn, key)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	oldRow, err := t.decode(key, value)
	if err != nil {
		return err
	}
	newRow := make(Row, len(oldRow))
	for k, v := range oldRow {
		newRow[k] = v
	}
	for k, v := range patch {
		newRow[k] = v
	}
	return t.Update(ctx, txn, oldRow, newRow)
}

// Exchange swaps the primary keys of two already-stored rows, a and b,
// keeping each row's own value columns attached to its new key. The swap
// is atomic under a non-nil txn; with a nil txn each of its two deletes
// and two stores commits on its own.
// Spec.md §2 names `exchange` among the table write operations it leaves
// unspecified; this is the natural reading of spec.md §4.5's key-change
// update() algorithm applied twice under one outer transaction (recorded
// as a supplemented feature in DESIGN.md).
func (t *Table) Exchange(ctx context.Context, txn kvengine.Transaction, a, b Row) error {
	return t.withTrigger(func(trig *secondary.Trigger) error {
		aKey, err := t.encodeKey(a)
		if err != nil {
			return err
		}
		bKey, err := t.encodeKey(b)
		if err != nil {
			return err
		}
		newA, newB := swapKeyColumns(t.info, a, b)
		newAKey, newAValue, err := t.encode(newA)
		if err != nil {
			return err
		}
		newBKey, newBValue, err := t.encode(newB)
		if err != nil {
			return err
		}

		if txn != nil {
			if err := txn.Enter(); err != nil {
				return err
			}
		}
		if err := deletePoint(t.primary.View(), txn, aKey); err != nil {
			return err
		}
		if err := deletePoint(t.primary.View(), txn, bKey); err != nil {
			return err
		}
		if err := t.primary.View().Store(txn, newAKey, newAValue); err != nil {
			return err
		}
		if err := t.primary.View().Store(txn, newBKey, newBValue); err != nil {
			return err
		}
		if txn != nil {
			if err := txn.Exit(); err != nil {
				return err
			}
		}

		if err := t.propagate(trig, txn, a, true); err != nil {
			return err
		}
		if err := t.propagate(trig, txn, b, true); err != nil {
			return err
		}
		if err := t.propagate(trig, txn, newA, false); err != nil {
			return err
		}
		return t.propagate(trig, txn, newB, false)
	})
}

// Scan opens a rowscanner.Scanner over rows matching filterString bound
// to args, at the given lock lifecycle, per spec.md §2's read data flow:
// table -> weak factory cache -> scan controller -> basic scanner.
func (t *Table) Scan(ctx context.Context, filterString string, args []interface{}, lifecycle rowscanner.LockLifecycle, mode kvengine.LockMode) (*rowscanner.Scanner, error) {
	factory, err := t.filters.Get(t.rowType, filterString, t.info.KeyColumns, t.registry)
	if err != nil {
		return nil, err
	}
	ctrl, err := factory.Bind(args)
	if err != nil {
		return nil, err
	}
	return rowscanner.NewScanner(ctx, t.primary.View(), ctrl, lifecycle, mode), nil
}

// SortedScan is Scan followed by pkg/sortedscan.New, ordering the result
// by order regardless of whether it matches the primary index's own
// order (spec.md §4.7).
func (t *Table) SortedScan(ctx context.Context, filterString string, args []interface{}, order []sortedscan.OrderColumn, bigThreshold int, backend kvengine.Backend) (sortedscan.Scanner, error) {
	src, err := t.Scan(ctx, filterString, args, rowscanner.LockReadOnly, kvengine.LockNone)
	if err != nil {
		return nil, err
	}
	target, err := sortedscan.BuildTargetInfo(t.info, order)
	if err != nil {
		src.Close()
		return nil, err
	}
	return sortedscan.New(ctx, src, sortedscan.Config{
		Order:        order,
		BigThreshold: bigThreshold,
		Backend:      backend,
		TargetInfo:   target,
	})
}

func (t *Table) encode(row Row) (key, value []byte, err error) {
	get := func(name string) interface{} { return row[name] }
	key, err = t.codec.EncodeKey(nil, get)
	if err != nil {
		return nil, nil, fmt.Errorf("table: encoding key: %w", err)
	}
	value, err = t.codec.EncodeValue(nil, get)
	if err != nil {
		return nil, nil, fmt.Errorf("table: encoding value: %w", err)
	}
	return key, value, nil
}

func (t *Table) encodeKey(row Row) ([]byte, error) {
	get := func(name string) interface{} { return row[name] }
	key, err := t.codec.EncodeKey(nil, get)
	if err != nil {
		return nil, fmt.Errorf("table: encoding key: %w", err)
	}
	return key, nil
}

func (t *Table) decode(key, value []byte) (Row, error) {
	row := make(Row)
	set := func(name string, v interface{}) { row[name] = v }
	if _, err := t.codec.DecodeKey(key, set); err != nil {
		return nil, fmt.Errorf("table: decoding key: %w", err)
	}
	_, n, err := rowschema.PeekSchemaVersion(value)
	if err != nil {
		return nil, fmt.Errorf("table: decoding schema version: %w", err)
	}
	if err := t.codec.DecodeValue(value[n:], set); err != nil {
		return nil, fmt.Errorf("table: decoding value: %w", err)
	}
	return row, nil
}

// swapKeyColumns returns copies of a and b with their primary-key columns
// (per info's declared key order) swapped, every other column left as-is.
func swapKeyColumns(info *rowschema.RowInfo, a, b Row) (newA, newB Row) {
	newA = make(Row, len(a))
	for k, v := range a {
		newA[k] = v
	}
	newB = make(Row, len(b))
	for k, v := range b {
		newB[k] = v
	}
	for _, c := range info.KeyColumns {
		newA[c.Name] = b[c.Name]
		newB[c.Name] = a[c.Name]
	}
	return newA, newB
}

// getPoint reads the value stored at key, if any, by windowing a cursor
// to exactly [key, successor) — the same single-key cursor trick
// pkg/secondary's delete path uses, since kvengine has no dedicated
// point-get primitive beyond View.Exists (which does not return a value).
func getPoint(view kvengine.View, txn kvengine.Transaction, key []byte) (value []byte, found bool, err error) {
	hi := append(append([]byte(nil), key...), 0x00)
	cur, err := view.Sub(key, hi).NewCursor(txn)
	if err != nil {
		return nil, false, err
	}
	defer cur.Close()
	cur.Link(txn)
	cur.Register()
	if err := cur.First(); err != nil {
		if err == kvengine.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	value, err = cur.Value()
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// deletePoint removes key from view if present, the same single-key
// cursor-windowing trick getPoint uses for reads.
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
		if err == kvengine.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	return cur.Delete()
}
