// Package rowschema composes coltype codecs into whole-row (key, value)
// codecs, and tracks the schema-version metadata stamped into every stored
// value so a scanner can rebind its decoder when it crosses a schema
// generation boundary.
package rowschema

import "github.com/camforge/rowkv/pkg/coltype"

// Column describes one column of a row type: its name, logical type,
// nullability, and (for key columns only) declared sort direction.
type Column struct {
	Name       string
	Type       coltype.Type
	Nullable   bool
	Descending bool // meaningful for key columns only

	// Width/Precision are type-specific hints (e.g. fixed string length)
	// that a generated/interpreted codec may use; the core codec family in
	// pkg/coltype does not need them for any of the types it implements,
	// but a wider implementation (fixed-width CHAR, decimal precision)
	// would read them here.
	Width     int
	Precision int
}

func (c *Column) nullability() coltype.Nullability {
	if c.Nullable {
		return coltype.Nullable
	}
	return coltype.NotNull
}

// RowInfo is the immutable, shared, read-only metadata for one row type at
// one schema version: the ordered key-column sequence, the value-column
// map, and a derived "all columns" view. RowInfo objects are looked up
// through a Registry, which may hand back the same *RowInfo to multiple
// scanners concurrently — callers must not mutate one.
type RowInfo struct {
	RowType       string
	SchemaVersion int

	KeyColumns   []*Column // ordered; this order defines the row's sort order
	ValueColumns []*Column // order is not significant to comparison, only to encoding

	all map[string]*Column
}

// NewRowInfo builds a RowInfo from explicit key and value column lists,
// validating that no name is duplicated between them.
func NewRowInfo(rowType string, schemaVersion int, key, value []*Column) (*RowInfo, error) {
	ri := &RowInfo{
		RowType:       rowType,
		SchemaVersion: schemaVersion,
		KeyColumns:    append([]*Column(nil), key...),
		ValueColumns:  append([]*Column(nil), value...),
		all:           make(map[string]*Column, len(key)+len(value)),
	}
	for _, c := range ri.KeyColumns {
		if _, dup := ri.all[c.Name]; dup {
			return nil, &DuplicateColumnError{RowType: rowType, Name: c.Name}
		}
		ri.all[c.Name] = c
	}
	for _, c := range ri.ValueColumns {
		if _, dup := ri.all[c.Name]; dup {
			return nil, &DuplicateColumnError{RowType: rowType, Name: c.Name}
		}
		ri.all[c.Name] = c
	}
	return ri, nil
}

// Column looks up a column (key or value) by name.
func (ri *RowInfo) Column(name string) (*Column, bool) {
	c, ok := ri.all[name]
	return c, ok
}

// AllColumns returns every column, key columns first in declared order,
// then value columns in declared order.
func (ri *RowInfo) AllColumns() []*Column {
	out := make([]*Column, 0, len(ri.KeyColumns)+len(ri.ValueColumns))
	out = append(out, ri.KeyColumns...)
	out = append(out, ri.ValueColumns...)
	return out
}

// SecondaryInfo adds to a RowInfo the descriptor identifying which primary
// columns form the secondary index's key and value, and per-column
// direction flags (§6 secondary-index descriptor).
type SecondaryInfo struct {
	*RowInfo

	// Descriptor is the canonical byte form of this index's column list,
	// as produced by EncodeDescriptor.
	Descriptor []byte
}
