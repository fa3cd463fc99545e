// Package condition implements the minimal boolean expression language used by
// policy conditions: attribute comparisons (==, !=, <, <=, >, >=), set
// membership (in), and the combinators and/or/not with parentheses.
//
// Evaluation is deterministic, side-effect-free, and total: a condition either
// parses or it does not, and a parsed condition always evaluates to a boolean.
// Missing attributes never grant access.
package condition

import (
	"strings"
	"sync"

	"github.com/authguard/go-core/pkg/types"
)

// operand is one side of a comparison
type operand interface {
	// resolve returns the operand's value and whether it is present in
	// the given context. Literals are always present.
	resolve(attrs types.Attributes) (types.Value, bool)
}

// attrOperand references an attribute by key
type attrOperand string

func (a attrOperand) resolve(attrs types.Attributes) (types.Value, bool) {
	v, ok := attrs[string(a)]
	return v, ok
}

// valueOperand is an inline literal
type valueOperand struct {
	val types.Value
}

func (v valueOperand) resolve(types.Attributes) (types.Value, bool) {
	return v.val, true
}

func boolOperand(b bool) operand {
	return valueOperand{val: types.Boolean(b)}
}

type andNode struct{ left, right Expr }

func (n andNode) Eval(attrs types.Attributes) bool {
	return n.left.Eval(attrs) && n.right.Eval(attrs)
}

type orNode struct{ left, right Expr }

func (n orNode) Eval(attrs types.Attributes) bool {
	return n.left.Eval(attrs) || n.right.Eval(attrs)
}

type notNode struct{ child Expr }

func (n notNode) Eval(attrs types.Attributes) bool {
	return !n.child.Eval(attrs)
}

// literalNode is a bare operand used as a boolean test
type literalNode struct{ val operand }

func (n literalNode) Eval(attrs types.Attributes) bool {
	v, ok := n.val.resolve(attrs)
	return ok && v.Kind == types.KindBool && v.Bool
}

type cmpNode struct {
	left  operand
	op    tokenKind
	right operand
}

func (n cmpNode) Eval(attrs types.Attributes) bool {
	lv, lok := n.left.resolve(attrs)
	rv, rok := n.right.resolve(attrs)
	if !lok || !rok {
		return false
	}

	switch n.op {
	case tkEq:
		return lv.Equal(rv)
	case tkNe:
		// A type mismatch is false, not "not equal"
		if lv.Kind != rv.Kind {
			return false
		}
		return !lv.Equal(rv)
	case tkLt, tkLe, tkGt, tkGe:
		if lv.Kind != types.KindNumber || rv.Kind != types.KindNumber {
			return false
		}
		switch n.op {
		case tkLt:
			return lv.Num < rv.Num
		case tkLe:
			return lv.Num <= rv.Num
		case tkGt:
			return lv.Num > rv.Num
		default:
			return lv.Num >= rv.Num
		}
	case tkIn:
		if lv.Kind != types.KindString {
			return false
		}
		return rv.Contains(lv.Str)
	}
	return false
}

// Evaluator compiles condition expressions and caches the parsed programs,
// keyed by the raw expression text.
type Evaluator struct {
	programs sync.Map // map[string]Expr
}

// NewEvaluator creates a condition evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate parses (or fetches the cached parse of) the expression and
// evaluates it against the attribute context. An empty expression is
// unconditionally true. A parse failure returns an error wrapping
// ErrMalformed; evaluation itself cannot fail.
func (e *Evaluator) Evaluate(expression string, attrs types.Attributes) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	if prog, ok := e.programs.Load(expression); ok {
		return prog.(Expr).Eval(attrs), nil
	}

	prog, err := Parse(expression)
	if err != nil {
		return false, err
	}
	e.programs.Store(expression, prog)
	return prog.Eval(attrs), nil
}

// ClearCache drops all cached programs
func (e *Evaluator) ClearCache() {
	e.programs = sync.Map{}
}
