package rowscanner

import (
	"strings"
	"sync"
)

// Predicate is a compiled row-level filter independent of the scan
// controller's own residual predicate — spec.md §4.8's "compiled
// Predicate<R>" applied by the predicate-only wrapped scanner variant.
type Predicate func(Row) (bool, error)

// Wrapped is spec.md §4.8's wrapped scanner: a pass-through over any
// stepper whose process hook may drop a row (predicate returns false) or
// pass it through with non-projected columns unset. Unsetting a column is
// modeled as deleting it from the Row map rather than writing a sentinel
// state bit, which gets projection idempotence (§8 property 5) for free:
// deleting an absent key a second time is already a no-op.
type Wrapped struct {
	src       stepper
	predicate Predicate     // nil: the predicate-only/projection-with-predicate distinction collapses to plain projection
	project   func(Row) Row // nil: identity, i.e. the predicate-only variant
}

// NewWrapped builds a Wrapped scanner. Pass a nil predicate for the
// projection-only case and a nil project for the predicate-only case;
// both nil is a plain pass-through.
func NewWrapped(src stepper, predicate Predicate, project func(Row) Row) *Wrapped {
	return &Wrapped{src: src, predicate: predicate, project: project}
}

// Step implements stepper, so a Wrapped scanner can itself be wrapped.
func (w *Wrapped) Step() (Row, error) {
	for {
		row, err := w.src.Step()
		if err != nil || row == nil {
			return nil, err
		}
		if w.predicate != nil {
			ok, err := w.predicate(row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		if w.project != nil {
			row = w.project(row)
		}
		return row, nil
	}
}

// WrapperCache caches the column-unsetting step of a projection-with-
// predicate wrapper by (row type, projection), the part of a §4.8 wrapped
// scanner that is reusable across queries against the same projection;
// the residual predicate itself is always supplied fresh per call since
// it closes over that call's argument bindings, so it is never part of
// the cache key. This stands in for the source's "specialized wrapper
// classes generated per (row type, projection, with-predicate?) and
// cached weakly" — in Go, a projection function is cheap enough to keep
// indefinitely rather than weakly, so this cache never evicts.
type WrapperCache struct {
	mu    sync.RWMutex
	procs map[wrapperKey]func(Row) Row
}

type wrapperKey struct {
	rowType    string
	projection string
}

// NewWrapperCache returns an empty WrapperCache.
func NewWrapperCache() *WrapperCache {
	return &WrapperCache{procs: make(map[wrapperKey]func(Row) Row)}
}

// Projector returns the cached column-unsetting function for (rowType,
// projection), building one on first use. A nil or empty projection
// means "no projection," returned as the identity function.
func (wc *WrapperCache) Projector(rowType string, projection []string) func(Row) Row {
	key := wrapperKey{rowType: rowType, projection: strings.Join(projection, ",")}

	wc.mu.RLock()
	if p, ok := wc.procs[key]; ok {
		wc.mu.RUnlock()
		return p
	}
	wc.mu.RUnlock()

	p := buildProjector(projection)

	wc.mu.Lock()
	defer wc.mu.Unlock()
	if existing, ok := wc.procs[key]; ok {
		return existing
	}
	wc.procs[key] = p
	return p
}

func buildProjector(projection []string) func(Row) Row {
	if len(projection) == 0 {
		return func(row Row) Row { return row }
	}
	keep := make(map[string]struct{}, len(projection))
	for _, c := range projection {
		keep[c] = struct{}{}
	}
	return func(row Row) Row {
		out := make(Row, len(keep))
		for k, v := range row {
			if _, ok := keep[k]; ok {
				out[k] = v
			}
		}
		return out
	}
}
