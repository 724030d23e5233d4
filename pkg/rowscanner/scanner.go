// Package rowscanner implements the basic scanner and its four row-updater
// lock-lifecycle variants (spec.md §4.4, §4.5): a single Scanner type
// parameterized by a lockLifecycle strategy value, per the design notes'
// explicit preference for composition over the source's deep inheritance
// (spec.md §9).
package rowscanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/camforge/rowkv/pkg/kvengine"
	"github.com/camforge/rowkv/pkg/rowschema"
	"github.com/camforge/rowkv/pkg/scan"
)

// Row is the decoded column-name -> value representation every scanner
// and updater here reads and writes, matching pkg/rowschema.RowCodec's
// get/set function shape directly rather than a generated per-row-type
// struct (this module's map-based stand-in for the source's runtime
// bytecode specialization, per SPEC_FULL's design-note alternative (b):
// "build a small codec tree interpreter").
type Row = map[string]interface{}

// ErrNoCurrentRow is the §7 NoCurrentRow condition: update/delete called
// on a scanner with no positioned row.
var ErrNoCurrentRow = errors.New("rowscanner: no current row")

// LockLifecycle selects one of spec.md §4.5's four updater variants, or
// LockReadOnly for the plain §4.4 basic scanner, which never calls
// Update/Delete and so needs no transaction at all.
type LockLifecycle int

const (
	LockReadOnly LockLifecycle = iota
	LockAutoCommit
	LockBasic
	LockUpgradableRead
	LockNonRepeatable
)

// stepper is the minimal row-source surface rowscanner.Wrapped composes
// over; *Scanner satisfies it.
type stepper interface {
	Step() (Row, error)
}

// Scanner is the basic scanner of spec.md §4.4, augmented with the
// lock-lifecycle behavior of §4.5 when constructed with anything other
// than LockReadOnly/LockAutoCommit. A single Scanner instance is not
// goroutine-safe and must be driven by one goroutine, per §5.
type Scanner struct {
	ctx      context.Context
	view     kvengine.View
	ctrl     *scan.Controller
	strategy strategy

	txn    kvengine.Transaction // nil means auto-commit per kvengine's own nil-txn convention
	cursor kvengine.Cursor

	needNext bool // true once the open cursor has been positioned via First

	current       Row
	currentKey    []byte
	currentCodec  *rowschema.RowCodec
	mutated       bool // suppresses the next leaveRow lock release, per §4.5
	started       bool
	done          bool
	closed        bool
}

// NewScanner builds a Scanner over view, driven by ctrl, at the given
// lock lifecycle. mode is the lock mode requested for lifecycles that own
// a real transaction (ignored for LockReadOnly/LockAutoCommit, which use
// kvengine's nil-transaction auto-commit path instead of a lock table).
func NewScanner(ctx context.Context, view kvengine.View, ctrl *scan.Controller, lifecycle LockLifecycle, mode kvengine.LockMode) *Scanner {
	var strat strategy
	switch lifecycle {
	case LockBasic:
		strat = &basicStrategy{mode: mode}
	case LockUpgradableRead:
		strat = &upgradableStrategy{mode: mode}
	case LockNonRepeatable:
		strat = &nonRepeatableStrategy{mode: mode}
	default:
		strat = &baseStrategy{}
	}
	return &Scanner{ctx: ctx, view: view, ctrl: ctrl, strategy: strat}
}

// Row returns the scanner's current row, or nil if it is exhausted or has
// not been stepped yet.
func (s *Scanner) Row() Row { return s.current }

// RowInfo returns the schema metadata the current row was decoded with, or
// nil if the scanner is exhausted or has not been stepped yet. pkg/sortedscan
// uses this to detect a schema-version change crossed mid-scan (§4.7:
// "switching source schema versions mid-scan invalidates the transcoder").
func (s *Scanner) RowInfo() *rowschema.RowInfo {
	if s.currentCodec == nil {
		return nil
	}
	return s.currentCodec.Info()
}

// Step advances the scanner and returns the next row satisfying the
// controller's filter, or (nil, nil) once exhausted, per spec.md §4.4.
func (s *Scanner) Step() (Row, error) {
	if s.closed {
		return nil, fmt.Errorf("rowscanner: scanner is closed")
	}
	if !s.started {
		s.started = true
		if err := s.strategy.begin(s); err != nil {
			return nil, s.fail(err)
		}
	} else if s.current != nil && !s.mutated {
		// Release whatever the lifecycle's lock discipline says to
		// release now that the caller is done with the row it was handed
		// last step, e.g. "stepping past a row without updating" for the
		// non-repeatable lifecycle's S5 behavior.
		if err := s.strategy.leaveRow(s); err != nil {
			return nil, s.fail(err)
		}
	}
	s.current, s.currentKey, s.currentCodec, s.mutated = nil, nil, nil, false

	for {
		if s.done {
			return nil, nil
		}
		ok, err := s.advance()
		if err != nil {
			return nil, s.fail(err)
		}
		if !ok {
			return nil, nil
		}
		row, codec, passed, err := s.decodeCurrent()
		if err != nil {
			return nil, s.fail(err)
		}
		if !passed {
			// A row the residual predicate rejects is never handed to
			// the caller, so its lock (if any) is released immediately
			// rather than deferred to the next Step call.
			if err := s.strategy.leaveRow(s); err != nil {
				return nil, s.fail(err)
			}
			continue
		}
		key, err := s.cursor.Key()
		if err != nil {
			return nil, s.fail(err)
		}
		s.current, s.currentKey, s.currentCodec = row, key, codec
		return row, nil
	}
}

// Update re-encodes row with the current row's codec and writes it back,
// per spec.md §4.5's update() algorithm: an in-place value store if the
// key is unchanged, otherwise a delete-and-reinsert under the scanner's
// transaction.
//
// For the auto-commit lifecycle (txn == nil) the delete and the insert
// each commit individually and immediately, per kvengine's own
// nil-transaction contract — this is a deliberate, documented narrowing
// of spec.md §4.5's "atomic move" guarantee for that one lifecycle only;
// every lifecycle that holds a real kvengine.Transaction (basic,
// upgradable-read, non-repeatable) performs both halves of the move under
// that one open transaction, so they remain atomic until the scanner's
// eventual Commit.
func (s *Scanner) Update(row Row) error {
	if s.current == nil {
		return ErrNoCurrentRow
	}
	get := func(name string) interface{} { return row[name] }
	newKey, err := s.currentCodec.EncodeKey(nil, get)
	if err != nil {
		return s.fail(fmt.Errorf("rowscanner: re-encoding updated key: %w", err))
	}
	newValue, err := s.currentCodec.EncodeValue(nil, get)
	if err != nil {
		return s.fail(fmt.Errorf("rowscanner: re-encoding updated value: %w", err))
	}
	if err := s.strategy.beforeMutate(s); err != nil {
		return s.fail(err)
	}
	if bytes.Equal(newKey, s.currentKey) {
		if err := s.cursor.Store(newValue); err != nil {
			return s.fail(err)
		}
	} else {
		if s.txn != nil {
			if err := s.txn.Enter(); err != nil {
				return s.fail(err)
			}
		}
		if err := s.cursor.Delete(); err != nil {
			return s.fail(err)
		}
		if err := s.view.Store(s.txn, newKey, newValue); err != nil {
			return s.fail(err)
		}
		if s.txn != nil {
			if err := s.txn.Exit(); err != nil {
				return s.fail(err)
			}
		}
	}
	if err := s.strategy.afterMutate(s); err != nil {
		return s.fail(err)
	}
	s.mutated = true
	s.current = row
	s.currentKey = newKey
	return nil
}

// Delete removes the row at the cursor's current position, per spec.md
// §4.5's delete() algorithm.
func (s *Scanner) Delete() error {
	if s.current == nil {
		return ErrNoCurrentRow
	}
	if err := s.strategy.beforeMutate(s); err != nil {
		return s.fail(err)
	}
	if err := s.cursor.Delete(); err != nil {
		return s.fail(err)
	}
	if err := s.strategy.afterMutate(s); err != nil {
		return s.fail(err)
	}
	s.mutated = true
	s.current = nil
	s.currentKey = nil
	return nil
}

// Close releases the cursor, the controller's decoder reference, and runs
// the lifecycle's Finish action (e.g. committing the scanner's
// transaction), per spec.md §4.4's close() contract and §4.5's per-mode
// Finish column. Close is idempotent.
func (s *Scanner) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.strategy.finish(s)
	s.closeCursor()
	s.ctrl.Close()
	s.current, s.currentKey, s.currentCodec = nil, nil, nil
	return err
}

// advance moves the cursor to the next entry, opening a fresh windowed
// cursor for the controller's next subrange whenever the current one is
// exhausted, per spec.md §4.3/§4.4: "subranges are visited in ascending
// low-bound order" and "when the cursor signals end-of-subrange, ask the
// controller for its next subrange."
func (s *Scanner) advance() (bool, error) {
	for {
		if s.cursor == nil {
			if !s.ctrl.Next() {
				s.markDone()
				return false, nil
			}
			if err := s.openCursorForCurrentSubrange(); err != nil {
				return false, err
			}
		}
		var err error
		if s.needNext {
			err = s.cursor.Next()
		} else {
			err = s.cursor.First()
			s.needNext = true
		}
		if err == nil {
			return true, nil
		}
		if err == kvengine.ErrNotFound {
			s.closeCursor()
			continue
		}
		if err == kvengine.ErrUnpositioned {
			// "An UnpositionedCursor condition raised mid-scan is
			// treated as natural end-of-scan" (spec.md §4.4).
			s.markDone()
			return false, nil
		}
		return false, err
	}
}

func (s *Scanner) openCursorForCurrentSubrange() error {
	sr := s.ctrl.Current()
	var lo, hi []byte
	if sr.Low.Kind == scan.Bound {
		lo = sr.Low.Key
	}
	if sr.High.Kind == scan.Bound {
		hi = sr.High.Key
	}
	cur, err := s.view.Sub(lo, hi).NewCursor(s.txn)
	if err != nil {
		return err
	}
	cur.Link(s.txn)
	cur.Register()
	s.cursor = cur
	s.needNext = false
	return nil
}

func (s *Scanner) closeCursor() {
	if s.cursor != nil {
		s.cursor.Close()
		s.cursor = nil
	}
	s.needNext = false
}

func (s *Scanner) decodeCurrent() (Row, *rowschema.RowCodec, bool, error) {
	value, err := s.cursor.Value()
	if err != nil {
		return nil, nil, false, err
	}
	version, n, err := rowschema.PeekSchemaVersion(value)
	if err != nil {
		return nil, nil, false, err
	}
	codec, err := s.ctrl.Decoder(version)
	if err != nil {
		return nil, nil, false, err
	}
	key, err := s.cursor.Key()
	if err != nil {
		return nil, nil, false, err
	}
	row := make(Row)
	set := func(name string, v interface{}) { row[name] = v }
	if _, err := codec.DecodeKey(key, set); err != nil {
		return nil, nil, false, err
	}
	if err := codec.DecodeValue(value[n:], set); err != nil {
		return nil, nil, false, err
	}
	passed, err := s.ctrl.Predicate(row)
	if err != nil {
		return nil, nil, false, err
	}
	return row, codec, passed, nil
}

// fail implements §7's propagation policy: "any exception raised during
// row decoding or cursor movement inside a scanner's main loop resets the
// cursor, clears the current row, and is re-raised."
func (s *Scanner) fail(err error) error {
	if s.cursor != nil {
		s.cursor.Reset()
	}
	s.markDone()
	return err
}

func (s *Scanner) markDone() {
	s.done = true
	s.current = nil
	s.currentKey = nil
}

// strategy implements one row of spec.md §4.5's lock-lifecycle table.
type strategy interface {
	// begin sets up s.txn (or leaves it nil for auto-commit) before the
	// first cursor positioning.
	begin(s *Scanner) error
	// leaveRow runs when the scanner steps past a row it handed out (or
	// filtered out) without it having been updated/deleted this step.
	leaveRow(s *Scanner) error
	// beforeMutate/afterMutate bracket Update/Delete's actual storage
	// operation.
	beforeMutate(s *Scanner) error
	afterMutate(s *Scanner) error
	// finish runs once, from Close, regardless of how the scan ended.
	finish(s *Scanner) error
}

// baseStrategy is shared by LockReadOnly and LockAutoCommit: both leave
// s.txn nil, relying on kvengine's own nil-transaction auto-commit
// contract (every Store/Delete commits immediately) for any writes an
// auto-commit updater performs. Neither has a lock to release on
// leaveRow, since no transaction means no lock table entry was taken.
type baseStrategy struct{}

func (baseStrategy) begin(*Scanner) error       { return nil }
func (baseStrategy) leaveRow(*Scanner) error     { return nil }
func (baseStrategy) beforeMutate(*Scanner) error { return nil }
func (baseStrategy) afterMutate(*Scanner) error  { return nil }
func (baseStrategy) finish(*Scanner) error       { return nil }

// basicStrategy is spec.md §4.5's "basic (serializable)" row: one
// transaction for the whole scan, locks held until the row is updated or
// the scanner ends ("no extra action" beyond the final commit).
type basicStrategy struct {
	baseStrategy
	mode kvengine.LockMode
}

func (b *basicStrategy) begin(s *Scanner) error {
	txn, err := s.view.NewTransaction(s.ctx, b.mode)
	if err != nil {
		return err
	}
	s.txn = txn
	return nil
}

func (b *basicStrategy) finish(s *Scanner) error {
	if s.txn == nil {
		return nil
	}
	return s.txn.Commit()
}

// upgradableStrategy is spec.md §4.5's "upgradable-read" row: the scan
// runs under LockUpgradable so every read takes a lock that can later be
// promoted without deadlocking against other upgradable holders, and
// Update/Delete promote to exclusive for the duration of the write.
//
// kvengine.Transaction.SetLockMode is transaction-wide rather than a
// per-lock upgrade primitive, so "upgrade on update" is modeled here as
// toggling the whole transaction's mode around the mutation rather than
// upgrading one row's lock in isolation — a deliberate simplification
// recorded in DESIGN.md, acceptable because this scanner drives exactly
// one cursor at a time and so never holds two rows' locks at genuinely
// different levels simultaneously.
type upgradableStrategy struct {
	baseStrategy
	mode kvengine.LockMode // the mode to restore once the scan finishes
}

func (u *upgradableStrategy) begin(s *Scanner) error {
	txn, err := s.view.NewTransaction(s.ctx, kvengine.LockUpgradable)
	if err != nil {
		return err
	}
	s.txn = txn
	return nil
}

func (u *upgradableStrategy) beforeMutate(s *Scanner) error {
	if s.txn != nil {
		s.txn.SetLockMode(kvengine.LockExclusive)
	}
	return nil
}

func (u *upgradableStrategy) afterMutate(s *Scanner) error {
	if s.txn != nil {
		s.txn.SetLockMode(kvengine.LockUpgradable)
	}
	return nil
}

func (u *upgradableStrategy) finish(s *Scanner) error {
	if s.txn == nil {
		return nil
	}
	s.txn.SetLockMode(u.mode)
	return s.txn.Commit()
}

// nonRepeatableStrategy is spec.md §4.5's "non-repeatable" row: the scan
// runs under one transaction, but a row's lock is released as soon as the
// scanner steps past it without updating (§8 scenario S5), rather than
// held until commit like the basic lifecycle.
type nonRepeatableStrategy struct {
	baseStrategy
	mode kvengine.LockMode
}

func (n *nonRepeatableStrategy) begin(s *Scanner) error {
	txn, err := s.view.NewTransaction(s.ctx, n.mode)
	if err != nil {
		return err
	}
	s.txn = txn
	return nil
}

func (n *nonRepeatableStrategy) leaveRow(s *Scanner) error {
	if s.txn == nil {
		return nil
	}
	_, err := s.txn.Link().Unlock()
	return err
}

func (n *nonRepeatableStrategy) finish(s *Scanner) error {
	if s.txn == nil {
		return nil
	}
	return s.txn.Commit()
}
