// Package scan implements the scan-controller factory of spec.md §4.3: it
// lowers a parsed filter (pkg/rowfilter) to one or more key subranges plus
// a residual predicate, and binds a row decoder to the schema version
// observed by whatever is driving the controller (pkg/rowscanner).
package scan

import (
	"fmt"
	"sort"

	"github.com/camforge/rowkv/pkg/coltype"
	"github.com/camforge/rowkv/pkg/rowfilter"
	"github.com/camforge/rowkv/pkg/rowfilter/ast"
	"github.com/camforge/rowkv/pkg/rowschema"
)

// Controller describes a sequence of key subranges, in ascending
// low-bound order, plus the residual predicate every decoded row must
// still satisfy, and resolves the row decoder for whatever schema version
// the scan currently observes.
type Controller struct {
	ranges []SubRange
	pos    int // index of the subrange Current refers to, -1 before the first Next

	filter *rowfilter.Filter
	args   []interface{}

	registry *rowschema.Registry
	rowType  string

	boundVersion int
	boundCodec   *rowschema.RowCodec
}

// Next advances to the next non-empty subrange and reports whether one
// was found; spec.md §4.3: "next() returns false when all subranges have
// been scanned", skipping any whose low > high (the EMPTY sentinel).
func (c *Controller) Next() bool {
	for {
		c.pos++
		if c.pos >= len(c.ranges) {
			return false
		}
		if !c.ranges[c.pos].IsEmpty() {
			return true
		}
	}
}

// Current returns the subrange Next most recently selected.
func (c *Controller) Current() SubRange {
	if c.pos < 0 || c.pos >= len(c.ranges) {
		return SubRange{}
	}
	return c.ranges[c.pos]
}

// Reset rewinds the controller to before the first subrange, for a
// scanner that needs to restart (e.g. after an UnpositionedCursor
// recovery at the very first row).
func (c *Controller) Reset() { c.pos = -1 }

// Predicate reports whether a decoded row (column name -> value) still
// satisfies the filter; per spec.md §4.3 the residual predicate is
// "over columns the range did not fully constrain" — this controller
// always evaluates the *entire* filter, which is never less correct (a
// range-consumed comparison simply re-checks true) and keeps residual
// predicate evaluation reused unchanged as schema versions change
// underneath it.
func (c *Controller) Predicate(row map[string]interface{}) (bool, error) {
	return c.filter.Eval(rowfilter.RowFromMap(row), c.args)
}

// Decoder returns the RowCodec for schemaVersion, acquiring it from the
// registry and releasing the previously bound version if different (the
// "scanner must re-bind its decoder" rule of spec.md §3 when a cursor
// reveals a row with a different version from the current one).
func (c *Controller) Decoder(schemaVersion int) (*rowschema.RowCodec, error) {
	if c.boundCodec != nil && c.boundVersion == schemaVersion {
		return c.boundCodec, nil
	}
	info, err := c.registry.Acquire(c.rowType, schemaVersion)
	if err != nil {
		return nil, err
	}
	codec, err := rowschema.NewRowCodec(info)
	if err != nil {
		c.registry.Release(c.rowType, schemaVersion)
		return nil, err
	}
	if c.boundCodec != nil {
		c.registry.Release(c.rowType, c.boundVersion)
	}
	c.boundVersion = schemaVersion
	c.boundCodec = codec
	return codec, nil
}

// Close releases the registry reference this controller's last-bound
// decoder holds, if any.
func (c *Controller) Close() {
	if c.boundCodec != nil {
		c.registry.Release(c.rowType, c.boundVersion)
		c.boundCodec = nil
	}
}

// buildRanges lowers filter's DNF over leadCol (the first declared key
// column) into sorted, non-overlapping-by-construction subranges. Each
// disjunct contributes exactly one subrange (spec.md §4.3: "each disjunct
// becomes a range"); a disjunct with no comparison on leadCol becomes the
// fully unbounded range (the residual predicate alone then does all the
// filtering work for that disjunct).
func buildRanges(filter *rowfilter.Filter, args []interface{}, leadCol *rowschema.Column) ([]SubRange, error) {
	codec, err := coltype.ForColumn(leadCol.Type, nullability(leadCol), leadCol.Descending, coltype.KeyNonLast)
	if err != nil {
		return nil, fmt.Errorf("scan: resolving codec for leading key column %q: %w", leadCol.Name, err)
	}

	dnf := filter.DNF()
	ranges := make([]SubRange, 0, len(dnf))
	for _, conj := range dnf {
		r, err := rangeForConjunction(conj, args, leadCol.Name, leadCol.Descending, codec)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	sort.SliceStable(ranges, func(i, j int) bool { return compareLow(ranges[i], ranges[j]) < 0 })
	return ranges, nil
}

func nullability(c *rowschema.Column) coltype.Nullability {
	if c.Nullable {
		return coltype.Nullable
	}
	return coltype.NotNull
}

// boundSpec is one side of a logical range as derived from the
// conjunction's comparisons: value nil means unbounded on that side.
type boundSpec struct {
	value interface{}
	incl  bool
}

func rangeForConjunction(conj []*ast.Comparison, args []interface{}, column string, descending bool, codec coltype.Codec) (SubRange, error) {
	var low, high boundSpec
	haveLow, haveHigh := false, false

	for _, c := range conj {
		if c.Column != column {
			continue
		}
		arg, err := literalOrArg(c.Arg, args)
		if err != nil {
			return SubRange{}, err
		}
		if arg == nil {
			// A NULL-valued comparison on the key column can't tighten a
			// range; leave it to the residual predicate entirely.
			continue
		}
		switch c.Op {
		case ast.OpEQ:
			low, haveLow = tighten(low, haveLow, boundSpec{arg, true}, true)
			high, haveHigh = tighten(high, haveHigh, boundSpec{arg, true}, false)
		case ast.OpGT:
			low, haveLow = tighten(low, haveLow, boundSpec{arg, false}, true)
		case ast.OpGTE:
			low, haveLow = tighten(low, haveLow, boundSpec{arg, true}, true)
		case ast.OpLT:
			high, haveHigh = tighten(high, haveHigh, boundSpec{arg, false}, false)
		case ast.OpLTE:
			high, haveHigh = tighten(high, haveHigh, boundSpec{arg, true}, false)
		case ast.OpNEQ:
			// Cannot be expressed as a single contiguous range; left to
			// the residual predicate.
		}
	}

	if haveLow && haveHigh {
		cmp, err := ast.CompareValues(low.value, high.value)
		if err != nil {
			return SubRange{}, err
		}
		if cmp > 0 || (cmp == 0 && !(low.incl && high.incl)) {
			return SubRange{Low: KeyBound{Kind: Empty}, High: KeyBound{Kind: Empty}}, nil
		}
	}

	byteLow, byteLowIncl, err := encodeSide(codec, low, haveLow)
	if err != nil {
		return SubRange{}, err
	}
	byteHigh, byteHighIncl, err := encodeSide(codec, high, haveHigh)
	if err != nil {
		return SubRange{}, err
	}

	// A descending codec bit-inverts its encoding, so the logical low
	// bound maps to the larger byte string; swap sides so Low/High always
	// describe ascending byte order, matching compareLow and the
	// kvengine windowing contract.
	if descending {
		byteLow, byteHigh = byteHigh, byteLow
		byteLowIncl, byteHighIncl = byteHighIncl, byteLowIncl
	}

	lowBound, err := lowKeyBound(byteLow, byteLowIncl)
	if err != nil {
		return SubRange{}, err
	}
	highBound, err := highKeyBound(byteHigh, byteHighIncl)
	if err != nil {
		return SubRange{}, err
	}
	return SubRange{Low: lowBound, High: highBound}, nil
}

// tighten keeps the more restrictive of two bounds on the same side
// (greater value for a low bound, lesser for a high bound; exclusivity
// wins ties).
func tighten(cur boundSpec, have bool, next boundSpec, isLow bool) (boundSpec, bool) {
	if !have {
		return next, true
	}
	cmp, err := ast.CompareValues(cur.value, next.value)
	if err != nil {
		return cur, have
	}
	switch {
	case isLow && cmp < 0, !isLow && cmp > 0:
		return next, true
	case cmp == 0:
		if !cur.incl || !next.incl {
			return boundSpec{cur.value, false}, true
		}
		return cur, true
	default:
		return cur, true
	}
}

func literalOrArg(e ast.Expr, args []interface{}) (interface{}, error) {
	switch v := e.(type) {
	case *ast.Literal:
		return v.Value, nil
	case *ast.Placeholder:
		if v.Index < 0 || v.Index >= len(args) {
			return nil, fmt.Errorf("scan: placeholder %d out of range (%d args)", v.Index, len(args))
		}
		return args[v.Index], nil
	default:
		return nil, fmt.Errorf("scan: %T is not a valid range argument", e)
	}
}

func encodeSide(codec coltype.Codec, b boundSpec, have bool) (bytes []byte, incl bool, err error) {
	if !have {
		return nil, false, nil
	}
	enc, err := codec.Encode(nil, b.value)
	if err != nil {
		return nil, false, err
	}
	return enc, b.incl, nil
}

func lowKeyBound(enc []byte, incl bool) (KeyBound, error) {
	if enc == nil {
		return unbounded(), nil
	}
	if incl {
		return KeyBound{Kind: Bound, Key: enc}, nil
	}
	succ, unb := prefixSuccessor(enc)
	if unb {
		return KeyBound{Kind: Empty}, nil
	}
	return KeyBound{Kind: Bound, Key: succ}, nil
}

func highKeyBound(enc []byte, incl bool) (KeyBound, error) {
	if enc == nil {
		return unbounded(), nil
	}
	if !incl {
		return KeyBound{Kind: Bound, Key: enc}, nil
	}
	succ, unb := prefixSuccessor(enc)
	if unb {
		return unbounded(), nil
	}
	return KeyBound{Kind: Bound, Key: succ}, nil
}
