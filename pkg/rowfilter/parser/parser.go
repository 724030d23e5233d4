// Package parser implements a recursive-descent parser for the filter
// grammar: comparisons over column identifiers joined by && / || / !,
// grouped with parentheses.
//
// Grounded on ha1tch-tsqlparser/parser's precedence-climbing structure,
// reduced to the four precedence levels (||, &&, unary !, comparison) this
// grammar needs.
package parser

import (
	"fmt"
	"strconv"

	"github.com/camforge/rowkv/pkg/rowfilter/ast"
	"github.com/camforge/rowkv/pkg/rowfilter/lexer"
	"github.com/camforge/rowkv/pkg/rowfilter/token"
)

// ParseError reports the §7 FilterParse condition: a filter string could
// not be parsed.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("rowfilter: parse error at position %d: %s", e.Pos, e.Msg)
}

// Parser turns filter source text into an ast.Expr, assigning each `?`
// placeholder it encounters a 0-based index in left-to-right order.
type Parser struct {
	l    *lexer.Lexer
	cur  token.Token
	peek token.Token

	nextPlaceholder int
}

// Parse is the package's sole entry point: parse src into a filter tree.
func Parse(src string) (ast.Expr, error) {
	p := &Parser{l: lexer.New(src)}
	p.advance()
	p.advance()
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.Type != token.EOF {
		return nil, &ParseError{Pos: p.cur.Pos, Msg: fmt.Sprintf("unexpected token %q", p.cur.Literal)}
	}
	return expr, nil
}

func (p *Parser) advance() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *Parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == token.OR {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == token.AND {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.And{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.cur.Type == token.NOT {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.Not{X: x}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	if p.cur.Type == token.LPAREN {
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.Type != token.RPAREN {
			return nil, &ParseError{Pos: p.cur.Pos, Msg: "expected )"}
		}
		p.advance()
		return expr, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	if p.cur.Type != token.IDENT {
		return nil, &ParseError{Pos: p.cur.Pos, Msg: fmt.Sprintf("expected column name, got %q", p.cur.Literal)}
	}
	column := p.cur.Literal
	p.advance()

	op, err := p.parseOp()
	if err != nil {
		return nil, err
	}

	arg, err := p.parseArg()
	if err != nil {
		return nil, err
	}
	return &ast.Comparison{Column: column, Op: op, Arg: arg}, nil
}

func (p *Parser) parseOp() (ast.Op, error) {
	defer p.advance()
	switch p.cur.Type {
	case token.EQ:
		return ast.OpEQ, nil
	case token.NEQ:
		return ast.OpNEQ, nil
	case token.LT:
		return ast.OpLT, nil
	case token.LTE:
		return ast.OpLTE, nil
	case token.GT:
		return ast.OpGT, nil
	case token.GTE:
		return ast.OpGTE, nil
	default:
		return 0, &ParseError{Pos: p.cur.Pos, Msg: fmt.Sprintf("expected comparison operator, got %q", p.cur.Literal)}
	}
}

func (p *Parser) parseArg() (ast.Expr, error) {
	defer p.advance()
	switch p.cur.Type {
	case token.INT:
		n, err := strconv.ParseInt(p.cur.Literal, 10, 64)
		if err != nil {
			return nil, &ParseError{Pos: p.cur.Pos, Msg: "invalid integer literal"}
		}
		return &ast.Literal{Value: n}, nil
	case token.FLOAT:
		f, err := strconv.ParseFloat(p.cur.Literal, 64)
		if err != nil {
			return nil, &ParseError{Pos: p.cur.Pos, Msg: "invalid float literal"}
		}
		return &ast.Literal{Value: f}, nil
	case token.STRING:
		return &ast.Literal{Value: p.cur.Literal}, nil
	case token.NULLT:
		return &ast.Literal{Value: nil}, nil
	case token.PLACEHOLDER:
		idx := p.nextPlaceholder
		p.nextPlaceholder++
		return &ast.Placeholder{Index: idx}, nil
	default:
		return nil, &ParseError{Pos: p.cur.Pos, Msg: fmt.Sprintf("expected a literal or placeholder, got %q", p.cur.Literal)}
	}
}
