// Package expr defines the update-formula expression trees of a
// qualitative network and evaluates them, either against a concrete state
// or against per-variable ranges.
package expr

import (
	"fmt"
	"sort"
	"strings"
)

// Op identifies an operator in an expression tree.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMin
	OpMax
	OpEq
	OpNeq
	OpGt
	OpGeq
	OpLt
	OpLeq
	OpAnd
	OpOr
	OpNeg
	OpFloor
	OpCeil
	OpNot
)

func (op Op) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	case OpEq:
		return "="
	case OpNeq:
		return "!="
	case OpGt:
		return ">"
	case OpGeq:
		return ">="
	case OpLt:
		return "<"
	case OpLeq:
		return "<="
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNeg:
		return "neg"
	case OpFloor:
		return "floor"
	case OpCeil:
		return "ceil"
	case OpNot:
		return "not"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Expr is an update-formula node. The concrete variants are Const, Var,
// Unary, Binary, and NAry.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Const is an integer literal.
type Const struct {
	Value int
}

// Var references a network variable by id.
type Var struct {
	ID int
}

// Unary applies OpNeg, OpFloor, OpCeil, or OpNot to one operand.
type Unary struct {
	Op Op
	X  Expr
}

// Binary applies an arithmetic, comparison, or boolean operator to two
// operands.
type Binary struct {
	Op   Op
	X, Y Expr
}

// NAry folds OpAdd, OpMul, OpMin, or OpMax over one or more operands.
type NAry struct {
	Op Op
	Xs []Expr
}

func (Const) isExpr()  {}
func (Var) isExpr()    {}
func (Unary) isExpr()  {}
func (Binary) isExpr() {}
func (NAry) isExpr()   {}

func (c Const) String() string { return fmt.Sprintf("%d", c.Value) }
func (v Var) String() string   { return fmt.Sprintf("var(%d)", v.ID) }

func (u Unary) String() string {
	if u.X == nil {
		return fmt.Sprintf("%s(?)", u.Op)
	}
	if u.Op == OpNeg {
		return fmt.Sprintf("-(%s)", u.X)
	}
	return fmt.Sprintf("%s(%s)", u.Op, u.X)
}

func (b Binary) String() string {
	x, y := "?", "?"
	if b.X != nil {
		x = b.X.String()
	}
	if b.Y != nil {
		y = b.Y.String()
	}
	switch b.Op {
	case OpMin, OpMax:
		return fmt.Sprintf("%s(%s, %s)", b.Op, x, y)
	case OpAnd, OpOr:
		return fmt.Sprintf("%s(%s, %s)", b.Op, x, y)
	default:
		return fmt.Sprintf("(%s %s %s)", x, b.Op, y)
	}
}

func (n NAry) String() string {
	parts := make([]string, 0, len(n.Xs))
	for _, x := range n.Xs {
		if x == nil {
			parts = append(parts, "?")
			continue
		}
		parts = append(parts, x.String())
	}
	switch n.Op {
	case OpMin, OpMax:
		return fmt.Sprintf("%s(%s)", n.Op, strings.Join(parts, ", "))
	default:
		return "(" + strings.Join(parts, fmt.Sprintf(" %s ", n.Op)) + ")"
	}
}

// Vars returns the sorted set of variable ids referenced by the expression.
func Vars(e Expr) []int {
	seen := map[int]struct{}{}
	collectVars(e, seen)
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func collectVars(e Expr, seen map[int]struct{}) {
	switch n := e.(type) {
	case Var:
		seen[n.ID] = struct{}{}
	case Unary:
		collectVars(n.X, seen)
	case Binary:
		collectVars(n.X, seen)
		collectVars(n.Y, seen)
	case NAry:
		for _, x := range n.Xs {
			collectVars(x, seen)
		}
	}
}

// Validate checks the structural shape of an expression: no nil operands,
// operators applied at a supported arity, and no empty NAry folds. It does
// not resolve variable references; that is the owning network's job.
func Validate(e Expr) error {
	if e == nil {
		return &EvalError{Err: fmt.Errorf("%w: nil expression", ErrMalformedExpression)}
	}
	switch n := e.(type) {
	case Const, Var:
		return nil
	case Unary:
		switch n.Op {
		case OpNeg, OpFloor, OpCeil, OpNot:
		default:
			return &EvalError{Node: n, Err: fmt.Errorf("%w: %s is not a unary operator", ErrMalformedExpression, n.Op)}
		}
		return Validate(n.X)
	case Binary:
		switch n.Op {
		case OpAdd, OpSub, OpMul, OpDiv, OpMin, OpMax,
			OpEq, OpNeq, OpGt, OpGeq, OpLt, OpLeq, OpAnd, OpOr:
		default:
			return &EvalError{Node: n, Err: fmt.Errorf("%w: %s is not a binary operator", ErrMalformedExpression, n.Op)}
		}
		if err := Validate(n.X); err != nil {
			return err
		}
		return Validate(n.Y)
	case NAry:
		switch n.Op {
		case OpAdd, OpMul, OpMin, OpMax:
		default:
			return &EvalError{Node: n, Err: fmt.Errorf("%w: %s cannot fold a list", ErrMalformedExpression, n.Op)}
		}
		if len(n.Xs) == 0 {
			return &EvalError{Node: n, Err: fmt.Errorf("%w: empty operand list", ErrMalformedExpression)}
		}
		for _, x := range n.Xs {
			if err := Validate(x); err != nil {
				return err
			}
		}
		return nil
	default:
		return &EvalError{Node: e, Err: fmt.Errorf("%w: unknown node type %T", ErrMalformedExpression, e)}
	}
}
