package scan

import (
	"sync"

	"github.com/camforge/rowkv/pkg/rowfilter"
	"github.com/camforge/rowkv/pkg/rowschema"
)

// Factory converts a parsed filter plus positional argument bindings into
// a bound Controller, for one row type. Factory instances are themselves
// cached (by canonical filter string) by FactoryCache below.
type Factory struct {
	filter   *rowfilter.Filter
	rowType  string
	leadCol  *rowschema.Column // nil if the row type has no key columns
	registry *rowschema.Registry
}

// NewFactory builds a Factory for filter over a row type whose key
// columns are keyCols (in declared order); range derivation only ever
// looks at keyCols[0], per this port's simplification recorded in
// DESIGN.md (multi-column range derivation is not implemented; additional
// key columns are still enforced correctly, just via the residual
// predicate rather than a tighter range).
func NewFactory(filter *rowfilter.Filter, rowType string, keyCols []*rowschema.Column, registry *rowschema.Registry) *Factory {
	f := &Factory{filter: filter, rowType: rowType, registry: registry}
	if len(keyCols) > 0 {
		f.leadCol = keyCols[0]
	}
	return f
}

// Bind produces a Controller for this factory's filter against args.
func (f *Factory) Bind(args []interface{}) (*Controller, error) {
	var ranges []SubRange
	if f.leadCol != nil {
		var err error
		ranges, err = buildRanges(f.filter, args, f.leadCol)
		if err != nil {
			return nil, err
		}
	} else {
		ranges = []SubRange{{Low: unbounded(), High: unbounded()}}
	}
	return &Controller{
		ranges:   ranges,
		pos:      -1,
		filter:   f.filter,
		args:     append([]interface{}(nil), args...),
		registry: f.registry,
		rowType:  f.rowType,
	}, nil
}

// FactoryCache is the weak factory cache of spec.md §4.3: factories are
// cached by canonical filter string, with rowfilter.Cache already folding
// equivalent original strings onto one canonical Filter.
type FactoryCache struct {
	filters *rowfilter.Cache

	mu        sync.RWMutex
	factories map[factoryKey]*Factory
}

type factoryKey struct {
	rowType   string
	canonical string
}

// NewFactoryCache returns an empty cache over the given filter cache
// (shared across row types, since a canonical filter string's meaning
// still depends on which row type's columns it's bound against).
func NewFactoryCache(filters *rowfilter.Cache) *FactoryCache {
	if filters == nil {
		filters = rowfilter.NewCache()
	}
	return &FactoryCache{filters: filters, factories: make(map[factoryKey]*Factory)}
}

// Get returns the Factory for (rowType, filterString), parsing and
// building one if this is the first time this (row type, canonical
// filter) pair has been seen.
func (fc *FactoryCache) Get(rowType, filterString string, keyCols []*rowschema.Column, registry *rowschema.Registry) (*Factory, error) {
	filter, err := fc.filters.Get(filterString)
	if err != nil {
		return nil, err
	}
	key := factoryKey{rowType: rowType, canonical: filter.String()}

	fc.mu.RLock()
	if f, ok := fc.factories[key]; ok {
		fc.mu.RUnlock()
		return f, nil
	}
	fc.mu.RUnlock()

	f := NewFactory(filter, rowType, keyCols, registry)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if existing, ok := fc.factories[key]; ok {
		return existing, nil
	}
	fc.factories[key] = f
	return f, nil
}
