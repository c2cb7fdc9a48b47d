package expr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownVariable indicates a var(id) reference that the evaluation
	// environment cannot resolve.
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrDivisionByZero indicates a division whose divisor evaluated to zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrMalformedExpression indicates a structurally invalid expression
	// tree, such as an empty fold or an operator at the wrong arity.
	ErrMalformedExpression = errors.New("malformed expression")
)

// EvalError wraps an evaluation failure with the node that caused it.
type EvalError struct {
	Node Expr
	Err  error
}

func (e *EvalError) Error() string {
	if e.Node == nil {
		return fmt.Sprintf("evaluate: %v", e.Err)
	}
	return fmt.Sprintf("evaluate %s: %v", e.Node, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Env resolves variable references during concrete evaluation.
type Env interface {
	Value(id int) (int, bool)
}

// Eval computes the concrete integer value of an expression against env.
//
// Division is exact internally: quotients are carried as rationals so that
// floor and ceil apply to the true quotient rather than to an already
// truncated intermediate. A non-integral value surviving to the top level
// floors, matching the rounding the range analysis assumes.
func Eval(e Expr, env Env) (int, error) {
	r, err := evalRat(e, env)
	if err != nil {
		return 0, err
	}
	return int(r.floor()), nil
}

func evalRat(e Expr, env Env) (rat, error) {
	switch n := e.(type) {
	case Const:
		return ratInt(int64(n.Value)), nil

	case Var:
		v, ok := env.Value(n.ID)
		if !ok {
			return rat{}, &EvalError{Node: n, Err: fmt.Errorf("%w: id %d", ErrUnknownVariable, n.ID)}
		}
		return ratInt(int64(v)), nil

	case Unary:
		x, err := evalRat(n.X, env)
		if err != nil {
			return rat{}, err
		}
		switch n.Op {
		case OpNeg:
			return x.neg(), nil
		case OpFloor:
			return ratInt(x.floor()), nil
		case OpCeil:
			return ratInt(x.ceil()), nil
		case OpNot:
			return boolRat(x.isZero()), nil
		default:
			return rat{}, &EvalError{Node: n, Err: fmt.Errorf("%w: %s is not a unary operator", ErrMalformedExpression, n.Op)}
		}

	case Binary:
		x, err := evalRat(n.X, env)
		if err != nil {
			return rat{}, err
		}
		y, err := evalRat(n.Y, env)
		if err != nil {
			return rat{}, err
		}
		switch n.Op {
		case OpAdd:
			return x.add(y), nil
		case OpSub:
			return x.sub(y), nil
		case OpMul:
			return x.mul(y), nil
		case OpDiv:
			if y.isZero() {
				return rat{}, &EvalError{Node: n, Err: ErrDivisionByZero}
			}
			return x.div(y), nil
		case OpMin:
			if x.cmp(y) <= 0 {
				return x, nil
			}
			return y, nil
		case OpMax:
			if x.cmp(y) >= 0 {
				return x, nil
			}
			return y, nil
		case OpEq:
			return boolRat(x.cmp(y) == 0), nil
		case OpNeq:
			return boolRat(x.cmp(y) != 0), nil
		case OpGt:
			return boolRat(x.cmp(y) > 0), nil
		case OpGeq:
			return boolRat(x.cmp(y) >= 0), nil
		case OpLt:
			return boolRat(x.cmp(y) < 0), nil
		case OpLeq:
			return boolRat(x.cmp(y) <= 0), nil
		case OpAnd:
			return boolRat(!x.isZero() && !y.isZero()), nil
		case OpOr:
			return boolRat(!x.isZero() || !y.isZero()), nil
		default:
			return rat{}, &EvalError{Node: n, Err: fmt.Errorf("%w: %s is not a binary operator", ErrMalformedExpression, n.Op)}
		}

	case NAry:
		if len(n.Xs) == 0 {
			return rat{}, &EvalError{Node: n, Err: fmt.Errorf("%w: empty operand list", ErrMalformedExpression)}
		}
		acc, err := evalRat(n.Xs[0], env)
		if err != nil {
			return rat{}, err
		}
		for _, opnd := range n.Xs[1:] {
			x, err := evalRat(opnd, env)
			if err != nil {
				return rat{}, err
			}
			switch n.Op {
			case OpAdd:
				acc = acc.add(x)
			case OpMul:
				acc = acc.mul(x)
			case OpMin:
				if x.cmp(acc) < 0 {
					acc = x
				}
			case OpMax:
				if x.cmp(acc) > 0 {
					acc = x
				}
			default:
				return rat{}, &EvalError{Node: n, Err: fmt.Errorf("%w: %s cannot fold a list", ErrMalformedExpression, n.Op)}
			}
		}
		return acc, nil

	case nil:
		return rat{}, &EvalError{Err: fmt.Errorf("%w: nil expression", ErrMalformedExpression)}

	default:
		return rat{}, &EvalError{Node: e, Err: fmt.Errorf("%w: unknown node type %T", ErrMalformedExpression, e)}
	}
}

func boolRat(b bool) rat {
	if b {
		return ratInt(1)
	}
	return ratInt(0)
}

// rat is an exact rational with den > 0, kept reduced so the small
// integers of a qualitative network never approach overflow.
type rat struct {
	num, den int64
}

func ratInt(v int64) rat { return rat{num: v, den: 1} }

func (r rat) normalize() rat {
	if r.den < 0 {
		r.num, r.den = -r.num, -r.den
	}
	if g := gcd(r.num, r.den); g > 1 {
		r.num /= g
		r.den /= g
	}
	return r
}

func (r rat) add(o rat) rat {
	return rat{num: r.num*o.den + o.num*r.den, den: r.den * o.den}.normalize()
}

func (r rat) sub(o rat) rat {
	return rat{num: r.num*o.den - o.num*r.den, den: r.den * o.den}.normalize()
}

func (r rat) mul(o rat) rat {
	return rat{num: r.num * o.num, den: r.den * o.den}.normalize()
}

// div assumes o is nonzero; callers check first.
func (r rat) div(o rat) rat {
	return rat{num: r.num * o.den, den: r.den * o.num}.normalize()
}

func (r rat) neg() rat { return rat{num: -r.num, den: r.den} }

func (r rat) isZero() bool { return r.num == 0 }

// cmp returns the sign of r - o.
func (r rat) cmp(o rat) int {
	d := r.num*o.den - o.num*r.den
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}

func (r rat) floor() int64 {
	q := r.num / r.den
	if r.num%r.den != 0 && r.num < 0 {
		q--
	}
	return q
}

func (r rat) ceil() int64 {
	q := r.num / r.den
	if r.num%r.den != 0 && r.num > 0 {
		q++
	}
	return q
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
