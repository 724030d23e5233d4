// Package ast defines the filter expression tree: comparisons over column
// names joined by && / ||, the Filter type pkg/scan lowers to key ranges
// plus a residual predicate (spec.md §4.3).
//
// Grounded on ha1tch-tsqlparser/ast's Node/Expression split, cut down to
// the handful of node kinds a boolean column-predicate grammar needs.
package ast

import (
	"fmt"
	"sort"
	"strconv"
)

// Op is a comparison operator.
type Op int

const (
	OpEQ Op = iota
	OpNEQ
	OpLT
	OpLTE
	OpGT
	OpGTE
)

func (o Op) String() string {
	switch o {
	case OpEQ:
		return "=="
	case OpNEQ:
		return "!="
	case OpLT:
		return "<"
	case OpLTE:
		return "<="
	case OpGT:
		return ">"
	case OpGTE:
		return ">="
	}
	return "?"
}

// Negate returns the operator whose sense is the logical negation of o,
// used by Not-elimination during canonicalization.
func (o Op) Negate() Op {
	switch o {
	case OpEQ:
		return OpNEQ
	case OpNEQ:
		return OpEQ
	case OpLT:
		return OpGTE
	case OpLTE:
		return OpGT
	case OpGT:
		return OpLTE
	case OpGTE:
		return OpLT
	}
	return o
}

// Row is the decoded-column lookup a Expr.Eval compares against.
type Row interface {
	// Column returns the decoded value of name and whether the row has it.
	Column(name string) (interface{}, bool)
}

// Expr is one node of the filter tree.
type Expr interface {
	String() string
	// Eval reports whether row satisfies this expression, resolving any
	// Placeholder against args (0-based, in the order placeholders were
	// parsed).
	Eval(row Row, args []interface{}) (bool, error)
}

// Literal is a parsed constant argument: int64, float64, string, or nil
// (for NULL).
type Literal struct {
	Value interface{}
}

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (l *Literal) Eval(Row, []interface{}) (bool, error) {
	return false, fmt.Errorf("rowfilter: literal is not a boolean expression")
}

// resolveArg returns this node's comparable value: itself for Literal,
// args[Index] for Placeholder.
func resolveArg(e Expr, args []interface{}) (interface{}, error) {
	switch v := e.(type) {
	case *Literal:
		return v.Value, nil
	case *Placeholder:
		if v.Index < 0 || v.Index >= len(args) {
			return nil, fmt.Errorf("rowfilter: placeholder %d out of range (%d args)", v.Index, len(args))
		}
		return args[v.Index], nil
	default:
		return nil, fmt.Errorf("rowfilter: %T is not a valid comparison argument", e)
	}
}

// Placeholder is an unbound `?` argument, resolved at controller-bind time
// against the caller's positional arguments.
type Placeholder struct {
	Index int
}

func (p *Placeholder) String() string { return "?" }

func (p *Placeholder) Eval(Row, []interface{}) (bool, error) {
	return false, fmt.Errorf("rowfilter: placeholder is not a boolean expression")
}

// Comparison is `column OP arg`.
type Comparison struct {
	Column string
	Op     Op
	Arg    Expr // *Literal or *Placeholder
}

func (c *Comparison) String() string {
	return fmt.Sprintf("%s%s%s", c.Column, c.Op, c.Arg.String())
}

func (c *Comparison) Eval(row Row, args []interface{}) (bool, error) {
	arg, err := resolveArg(c.Arg, args)
	if err != nil {
		return false, err
	}
	val, ok := row.Column(c.Column)
	if !ok {
		return false, fmt.Errorf("rowfilter: row has no column %q", c.Column)
	}
	if val == nil || arg == nil {
		// `col == null` / `col != null` read as IS [NOT] NULL; every other
		// operator against a NULL operand is simply unsatisfied, matching
		// SQL's three-valued NULL comparison semantics.
		switch c.Op {
		case OpEQ:
			return val == nil && arg == nil, nil
		case OpNEQ:
			return !(val == nil && arg == nil), nil
		default:
			return false, nil
		}
	}
	cmp, err := CompareValues(val, arg)
	if err != nil {
		return false, err
	}
	switch c.Op {
	case OpEQ:
		return cmp == 0, nil
	case OpNEQ:
		return cmp != 0, nil
	case OpLT:
		return cmp < 0, nil
	case OpLTE:
		return cmp <= 0, nil
	case OpGT:
		return cmp > 0, nil
	case OpGTE:
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("rowfilter: unknown operator %v", c.Op)
}

// And is a conjunction of two sub-expressions.
type And struct{ Left, Right Expr }

func (a *And) String() string { return fmt.Sprintf("(%s&&%s)", a.Left, a.Right) }

func (a *And) Eval(row Row, args []interface{}) (bool, error) {
	l, err := a.Left.Eval(row, args)
	if err != nil || !l {
		return false, err
	}
	return a.Right.Eval(row, args)
}

// Or is a disjunction of two sub-expressions.
type Or struct{ Left, Right Expr }

func (o *Or) String() string { return fmt.Sprintf("(%s||%s)", o.Left, o.Right) }

func (o *Or) Eval(row Row, args []interface{}) (bool, error) {
	l, err := o.Left.Eval(row, args)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return o.Right.Eval(row, args)
}

// Not is a negation, eliminated by Canonicalize (pushed down via De
// Morgan's laws and operator negation) so downstream code (DNF lowering)
// never has to handle it directly.
type Not struct{ X Expr }

func (n *Not) String() string { return fmt.Sprintf("!%s", n.X) }

func (n *Not) Eval(row Row, args []interface{}) (bool, error) {
	v, err := n.X.Eval(row, args)
	if err != nil {
		return false, err
	}
	return !v, nil
}

// Canonicalize rewrites e into a normal form that collapses expressions
// equivalent up to De Morgan negation and AND/OR associativity: Not nodes
// are pushed to the leaves and eliminated via Op.Negate, and nested
// And/Or chains of the same kind are flattened and sorted by String()
// before being re-paired. Two filter strings that parse to logically
// identical trees up to commutativity/associativity/double-negation
// produce identical Canonicalize(e).String() output, which is what lets
// pkg/scan's factory cache key on that string instead of the raw input.
func Canonicalize(e Expr) Expr {
	switch v := e.(type) {
	case *Not:
		return canonicalizeNot(v.X)
	case *And:
		return rebuild(flatten(Canonicalize(v.Left), Canonicalize(v.Right), true), true)
	case *Or:
		return rebuild(flatten(Canonicalize(v.Left), Canonicalize(v.Right), false), false)
	default:
		return e
	}
}

func canonicalizeNot(e Expr) Expr {
	switch v := e.(type) {
	case *Not:
		return Canonicalize(v.X)
	case *And:
		return Canonicalize(&Or{Left: &Not{X: v.Left}, Right: &Not{X: v.Right}})
	case *Or:
		return Canonicalize(&And{Left: &Not{X: v.Left}, Right: &Not{X: v.Right}})
	case *Comparison:
		return &Comparison{Column: v.Column, Op: v.Op.Negate(), Arg: v.Arg}
	default:
		return &Not{X: e}
	}
}

// flatten collects every operand of a same-kind (and? and : or) chain
// rooted at left/right, in any nesting, into one slice.
func flatten(left, right Expr, and bool) []Expr {
	var out []Expr
	var walk func(Expr)
	walk = func(e Expr) {
		switch v := e.(type) {
		case *And:
			if and {
				walk(v.Left)
				walk(v.Right)
				return
			}
		case *Or:
			if !and {
				walk(v.Left)
				walk(v.Right)
				return
			}
		}
		out = append(out, e)
	}
	walk(left)
	walk(right)
	return out
}

func rebuild(operands []Expr, and bool) Expr {
	sort.Slice(operands, func(i, j int) bool { return operands[i].String() < operands[j].String() })
	// Drop exact duplicates after sorting.
	deduped := operands[:0]
	var prev string
	for i, e := range operands {
		s := e.String()
		if i > 0 && s == prev {
			continue
		}
		deduped = append(deduped, e)
		prev = s
	}
	operands = deduped
	result := operands[0]
	for _, e := range operands[1:] {
		if and {
			result = &And{Left: result, Right: e}
		} else {
			result = &Or{Left: result, Right: e}
		}
	}
	return result
}

// ToDNF rewrites e (already Canonicalize'd) into a flat list of
// conjunctions: [[c1 && c2], [c3]] represents (c1&&c2)||c3. Each inner
// slice holds only *Comparison leaves (Not is assumed already eliminated
// by Canonicalize).
func ToDNF(e Expr) [][]*Comparison {
	switch v := e.(type) {
	case *Comparison:
		return [][]*Comparison{{v}}
	case *Or:
		return append(ToDNF(v.Left), ToDNF(v.Right)...)
	case *And:
		left := ToDNF(v.Left)
		right := ToDNF(v.Right)
		var out [][]*Comparison
		for _, l := range left {
			for _, r := range right {
				conj := append(append([]*Comparison(nil), l...), r...)
				out = append(out, conj)
			}
		}
		return out
	default:
		return nil
	}
}

