package expr

import (
	"fmt"

	"github.com/hallba/qncheck/interval"
)

// RangeEnv resolves variable references to their current intervals during
// range evaluation.
type RangeEnv interface {
	Range(id int) (interval.Interval, bool)
}

// RangeEvaluator computes sound interval over-approximations of
// expressions: the concrete value of an expression under any state drawn
// from Env always lies inside the returned interval.
//
// A division whose divisor interval straddles zero cannot fail soundly in
// range mode; it widens the quotient and records a warning on Warnings
// instead. Callers that care should inspect or log the slice afterwards.
type RangeEvaluator struct {
	Env      RangeEnv
	Warnings []string
}

// Eval returns the interval of possible values for e.
func (re *RangeEvaluator) Eval(e Expr) (interval.Interval, error) {
	switch n := e.(type) {
	case Const:
		return interval.Point(n.Value), nil

	case Var:
		iv, ok := re.Env.Range(n.ID)
		if !ok {
			return interval.Interval{}, &EvalError{Node: n, Err: fmt.Errorf("%w: id %d", ErrUnknownVariable, n.ID)}
		}
		return iv, nil

	case Unary:
		x, err := re.Eval(n.X)
		if err != nil {
			return interval.Interval{}, err
		}
		switch n.Op {
		case OpNeg:
			return x.Neg(), nil
		case OpFloor, OpCeil:
			// The operand hull is already an integer interval containing
			// floor and ceil of every attainable quotient, so rounding
			// cannot escape it.
			return x, nil
		case OpNot:
			return x.Not(), nil
		default:
			return interval.Interval{}, &EvalError{Node: n, Err: fmt.Errorf("%w: %s is not a unary operator", ErrMalformedExpression, n.Op)}
		}

	case Binary:
		x, err := re.Eval(n.X)
		if err != nil {
			return interval.Interval{}, err
		}
		y, err := re.Eval(n.Y)
		if err != nil {
			return interval.Interval{}, err
		}
		switch n.Op {
		case OpAdd:
			return x.Add(y), nil
		case OpSub:
			return x.Sub(y), nil
		case OpMul:
			return x.Mul(y), nil
		case OpDiv:
			q, sound, err := x.Div(y)
			if err != nil {
				return interval.Interval{}, &EvalError{Node: n, Err: ErrDivisionByZero}
			}
			if !sound {
				re.Warnings = append(re.Warnings,
					fmt.Sprintf("%s: divisor range %s straddles zero; quotient widened to %s", n, y, q))
			}
			return q, nil
		case OpMin:
			return x.Min(y), nil
		case OpMax:
			return x.Max(y), nil
		case OpEq:
			return x.Eq(y), nil
		case OpNeq:
			return x.Neq(y), nil
		case OpGt:
			return x.Gt(y), nil
		case OpGeq:
			return x.Geq(y), nil
		case OpLt:
			return x.Lt(y), nil
		case OpLeq:
			return x.Leq(y), nil
		case OpAnd:
			return x.And(y), nil
		case OpOr:
			return x.Or(y), nil
		default:
			return interval.Interval{}, &EvalError{Node: n, Err: fmt.Errorf("%w: %s is not a binary operator", ErrMalformedExpression, n.Op)}
		}

	case NAry:
		if len(n.Xs) == 0 {
			return interval.Interval{}, &EvalError{Node: n, Err: fmt.Errorf("%w: empty operand list", ErrMalformedExpression)}
		}
		acc, err := re.Eval(n.Xs[0])
		if err != nil {
			return interval.Interval{}, err
		}
		for _, opnd := range n.Xs[1:] {
			x, err := re.Eval(opnd)
			if err != nil {
				return interval.Interval{}, err
			}
			switch n.Op {
			case OpAdd:
				acc = acc.Add(x)
			case OpMul:
				acc = acc.Mul(x)
			case OpMin:
				acc = acc.Min(x)
			case OpMax:
				acc = acc.Max(x)
			default:
				return interval.Interval{}, &EvalError{Node: n, Err: fmt.Errorf("%w: %s cannot fold a list", ErrMalformedExpression, n.Op)}
			}
		}
		return acc, nil

	case nil:
		return interval.Interval{}, &EvalError{Err: fmt.Errorf("%w: nil expression", ErrMalformedExpression)}

	default:
		return interval.Interval{}, &EvalError{Node: e, Err: fmt.Errorf("%w: unknown node type %T", ErrMalformedExpression, e)}
	}
}
