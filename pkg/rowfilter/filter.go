// Package rowfilter parses filter strings into a boolean predicate tree
// over column comparisons (spec.md §4.3's scan-controller input) and
// exposes the parsed tree's canonical string form used as a weak-cache
// key by pkg/scan's factory cache.
package rowfilter

import (
	"sync"

	"github.com/camforge/rowkv/pkg/rowfilter/ast"
	"github.com/camforge/rowkv/pkg/rowfilter/parser"
)

// Filter wraps a parsed, canonicalized predicate tree plus its string
// form, the unit pkg/scan binds argument values against and lowers to a
// scan plan.
type Filter struct {
	Expr ast.Expr

	canonical string
}

// Parse parses src, canonicalizes the resulting tree (collapsing
// associative/commutative/double-negation equivalences per
// ast.Canonicalize), and returns the Filter. A FilterParse failure
// (spec.md §7) is returned as a *parser.ParseError.
func Parse(src string) (*Filter, error) {
	expr, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	canon := ast.Canonicalize(expr)
	return &Filter{Expr: canon, canonical: canon.String()}, nil
}

// String returns the canonical filter string: the cache key spec.md §4.3
// uses for the scan-controller factory cache.
func (f *Filter) String() string { return f.canonical }

// DNF lowers the filter into disjunctive normal form: a slice of
// conjunctions of leaf comparisons, one conjunction per OR-branch,
// matching spec.md §4.3 ("normalized to disjunctive normal form; each
// disjunct becomes a range").
func (f *Filter) DNF() [][]*ast.Comparison { return ast.ToDNF(f.Expr) }

// Eval reports whether row satisfies the filter, resolving placeholders
// against args. This is always safe to call as the residual predicate,
// even for comparisons a scan range already enforced: re-checking an
// already-range-bound comparison is redundant but never incorrect, which
// is what lets pkg/scan use the *entire* filter as its residual predicate
// rather than a range-subtracted remainder (spec.md testable property 4).
func (f *Filter) Eval(row ast.Row, args []interface{}) (bool, error) {
	return f.Expr.Eval(row, args)
}

// rowMap adapts a plain map to ast.Row, the shape pkg/rowscanner's decoded
// rows present the filter.
type rowMap map[string]interface{}

func (m rowMap) Column(name string) (interface{}, bool) {
	v, ok := m[name]
	return v, ok
}

// RowFromMap adapts a decoded row's column map to ast.Row.
func RowFromMap(m map[string]interface{}) ast.Row { return rowMap(m) }

// Cache maps filter strings to their parsed (already canonicalized)
// Filters: one map is keyed by each *original* string that was parsed, so
// the same string is never parsed twice, and a second map is keyed by the
// canonical string, so callers that already hold a canonical string skip
// parsing too. Two different original strings with the same canonical form
// (e.g. "a==1&&b==2" and "b==2&&a==1") are each parsed once, and the
// canonical entry holds whichever of them was parsed last.
//
// Entries are never evicted: both maps keep every string seen for the
// lifetime of the Cache.
type Cache struct {
	mu      sync.RWMutex
	byOrig  map[string]*Filter
	byCanon map[string]*Filter
}

// NewCache returns an empty filter cache.
func NewCache() *Cache {
	return &Cache{byOrig: make(map[string]*Filter), byCanon: make(map[string]*Filter)}
}

// Get returns the Filter for src, parsing (and caching) it unless src has
// been seen before, either as an original string or as the canonical form
// of one.
func (c *Cache) Get(src string) (*Filter, error) {
	c.mu.RLock()
	if f, ok := c.byOrig[src]; ok {
		c.mu.RUnlock()
		return f, nil
	}
	if f, ok := c.byCanon[src]; ok {
		c.mu.RUnlock()
		return f, nil
	}
	c.mu.RUnlock()

	f, err := Parse(src)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byOrig[src] = f
	c.byCanon[f.canonical] = f
	return f, nil
}

// Len reports the number of distinct original strings cached, for tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byOrig)
}
