package condition

import (
	"errors"
	"fmt"

	"github.com/authguard/go-core/pkg/types"
)

// ErrMalformed marks conditions that cannot be parsed. Callers skip the
// owning policy rather than aborting the decision pipeline.
var ErrMalformed = errors.New("malformed condition")

// Expr is a parsed condition. Eval is total: it returns a boolean for any
// attribute context without raising errors. Missing attributes and type
// mismatches evaluate the containing comparison to false.
type Expr interface {
	Eval(attrs types.Attributes) bool
}

// Parse compiles a condition expression into an Expr. An empty or
// whitespace-only expression parses to an unconditional true.
func Parse(input string) (Expr, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	p := &parser{tokens: tokens}
	if p.peek().kind == tkEOF {
		return literalNode{val: boolOperand(true)}, nil
	}

	expr, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.peek().kind != tkEOF {
		return nil, fmt.Errorf("%w: unexpected trailing input at position %d", ErrMalformed, p.peek().pos)
	}
	return expr, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s at position %d", what, t.pos)
	}
	return t, nil
}

// parseOr := parseAnd ("or" parseAnd)*
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tkOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
	return left, nil
}

// parseAnd := parseUnary ("and" parseUnary)*
func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tkAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

// parseUnary := "not" parseUnary | primary
func (p *parser) parseUnary() (Expr, error) {
	if p.peek().kind == tkNot {
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{child: child}, nil
	}
	return p.parsePrimary()
}

// parsePrimary := "(" parseOr ")" | comparison
func (p *parser) parsePrimary() (Expr, error) {
	if p.peek().kind == tkLParen {
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen, "')'"); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return p.parseComparison()
}

// comparison := operand (compOp operand | "in" operand)?
// A bare operand is a boolean test: true only for a boolean-typed true value.
func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch p.peek().kind {
	case tkEq, tkNe, tkLt, tkLe, tkGt, tkGe, tkIn:
		op := p.next().kind
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return cmpNode{left: left, op: op, right: right}, nil
	default:
		return literalNode{val: left}, nil
	}
}

// parseOperand := ident | number | string | true | false | list
func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tkIdent:
		return attrOperand(t.text), nil
	case tkNumber:
		return valueOperand{val: types.Number(t.num)}, nil
	case tkString:
		return valueOperand{val: types.String(t.text)}, nil
	case tkTrue:
		return boolOperand(true), nil
	case tkFalse:
		return boolOperand(false), nil
	case tkLBracket:
		return p.parseList()
	default:
		return nil, fmt.Errorf("expected a value or attribute at position %d", t.pos)
	}
}

// parseList := "[" (string ("," string)*)? "]"
func (p *parser) parseList() (operand, error) {
	var items []string
	if p.peek().kind == tkRBracket {
		p.next()
		return valueOperand{val: types.StringSet()}, nil
	}

	for {
		t := p.next()
		if t.kind != tkString {
			return nil, fmt.Errorf("set literals may only contain strings (position %d)", t.pos)
		}
		items = append(items, t.text)

		t = p.next()
		if t.kind == tkRBracket {
			return valueOperand{val: types.StringSet(items...)}, nil
		}
		if t.kind != tkComma {
			return nil, fmt.Errorf("expected ',' or ']' at position %d", t.pos)
		}
	}
}
