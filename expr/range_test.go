package expr

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/hallba/qncheck/interval"
)

// mapRanges is a test RangeEnv over a plain map.
type mapRanges map[int]interval.Interval

func (m mapRanges) Range(id int) (interval.Interval, bool) {
	iv, ok := m[id]
	return iv, ok
}

func TestRangeEvalBasics(t *testing.T) {
	env := mapRanges{0: interval.New(0, 2), 1: interval.New(-1, 1)}
	cases := []struct {
		name string
		e    Expr
		want interval.Interval
	}{
		{"const", Const{Value: 4}, interval.Point(4)},
		{"var", Var{ID: 0}, interval.New(0, 2)},
		{"add", Binary{Op: OpAdd, X: Var{ID: 0}, Y: Var{ID: 1}}, interval.New(-1, 3)},
		{"sub", Binary{Op: OpSub, X: Const{Value: 1}, Y: Var{ID: 0}}, interval.New(-1, 1)},
		{"mul", Binary{Op: OpMul, X: Var{ID: 0}, Y: Var{ID: 1}}, interval.New(-2, 2)},
		{"min", Binary{Op: OpMin, X: Var{ID: 0}, Y: Const{Value: 1}}, interval.New(0, 1)},
		{"max", Binary{Op: OpMax, X: Var{ID: 0}, Y: Const{Value: 1}}, interval.New(1, 2)},
		{"neg", Unary{Op: OpNeg, X: Var{ID: 0}}, interval.New(-2, 0)},
		{"eq decidable", Binary{Op: OpEq, X: Var{ID: 0}, Y: Const{Value: 5}}, interval.Point(0)},
		{"gt undecidable", Binary{Op: OpGt, X: Var{ID: 0}, Y: Const{Value: 1}}, interval.New(0, 1)},
		{"nary sum", NAry{Op: OpAdd, Xs: []Expr{Var{ID: 0}, Var{ID: 1}, Const{Value: 1}}}, interval.New(0, 4)},
	}
	for _, tc := range cases {
		re := &RangeEvaluator{Env: env}
		got, err := re.Eval(tc.e)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: Eval(%s) = %v, want %v", tc.name, tc.e, got, tc.want)
		}
		if len(re.Warnings) != 0 {
			t.Errorf("%s: unexpected warnings %v", tc.name, re.Warnings)
		}
	}
}

func TestRangeEvalDivisorStraddlesZero(t *testing.T) {
	re := &RangeEvaluator{Env: mapRanges{0: interval.New(2, 4), 1: interval.New(-1, 2)}}
	got, err := re.Eval(Binary{Op: OpDiv, X: Var{ID: 0}, Y: Var{ID: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Negative part divisor {-1} gives [-4,-2]; positive part [1,2] gives
	// [1,4]; the hull of both is [-4,4].
	if want := interval.New(-4, 4); got != want {
		t.Fatalf("quotient = %v, want %v", got, want)
	}
	if len(re.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", re.Warnings)
	}
	if !strings.Contains(re.Warnings[0], "straddles zero") {
		t.Fatalf("warning %q does not mention the straddling divisor", re.Warnings[0])
	}
}

func TestRangeEvalDivisorZeroPoint(t *testing.T) {
	re := &RangeEvaluator{Env: mapRanges{0: interval.New(0, 3)}}
	_, err := re.Eval(Binary{Op: OpDiv, X: Var{ID: 0}, Y: Const{Value: 0}})
	if !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("error = %v, want ErrDivisionByZero", err)
	}
}

func TestRangeEvalUnknownVariable(t *testing.T) {
	re := &RangeEvaluator{Env: mapRanges{}}
	_, err := re.Eval(Var{ID: 3})
	if !errors.Is(err, ErrUnknownVariable) {
		t.Fatalf("error = %v, want ErrUnknownVariable", err)
	}
}

// TestRangeAgreesWithConcrete checks the core soundness contract: for every
// state drawn from the variable ranges, the concrete result lies inside the
// interval the range evaluator reports for those ranges.
func TestRangeAgreesWithConcrete(t *testing.T) {
	formulas := []Expr{
		Binary{Op: OpSub, X: Const{Value: 1}, Y: Var{ID: 0}},
		Binary{Op: OpAdd, X: Binary{Op: OpMul, X: Var{ID: 0}, Y: Var{ID: 1}}, Y: Const{Value: 2}},
		NAry{Op: OpMax, Xs: []Expr{Var{ID: 0}, Var{ID: 1}, Const{Value: 0}}},
		Binary{Op: OpMin, X: Var{ID: 0}, Y: Unary{Op: OpNeg, X: Var{ID: 1}}},
		Unary{Op: OpCeil, X: Binary{Op: OpDiv, X: Var{ID: 0}, Y: Const{Value: 2}}},
		Unary{Op: OpFloor, X: Binary{Op: OpDiv, X: Binary{Op: OpAdd, X: Var{ID: 0}, Y: Var{ID: 1}}, Y: Const{Value: 3}}},
		Binary{Op: OpGeq, X: Var{ID: 0}, Y: Var{ID: 1}},
		Binary{Op: OpAnd, X: Var{ID: 0}, Y: Binary{Op: OpLt, X: Var{ID: 1}, Y: Const{Value: 1}}},
		Unary{Op: OpNot, X: Var{ID: 0}},
		Binary{Op: OpMul, X: Binary{Op: OpEq, X: Var{ID: 0}, Y: Const{Value: 2}}, Y: Const{Value: 3}},
	}
	r0 := interval.New(-2, 2)
	r1 := interval.New(0, 3)
	ranges := mapRanges{0: r0, 1: r1}

	for _, f := range formulas {
		re := &RangeEvaluator{Env: ranges}
		iv, err := re.Eval(f)
		if err != nil {
			t.Fatalf("range eval of %s: %v", f, err)
		}
		for x := r0.Lo; x <= r0.Hi; x++ {
			for y := r1.Lo; y <= r1.Hi; y++ {
				v, err := Eval(f, mapEnv{0: x, 1: y})
				if err != nil {
					t.Fatalf("concrete eval of %s at {0:%d, 1:%d}: %v", f, x, y, err)
				}
				if !iv.Contains(v) {
					t.Fatalf("range %v of %s misses concrete value %d at {0:%d, 1:%d}", iv, f, v, x, y)
				}
			}
		}
	}
}

// TestRangeAgreesOnRandomFormulas samples the same contract over generated
// trees: whatever shape the formula takes, a concrete result can never
// escape the reported interval. The seed is fixed so failures replay.
func TestRangeAgreesOnRandomFormulas(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r0 := interval.New(-2, 3)
	r1 := interval.New(0, 2)
	ranges := mapRanges{0: r0, 1: r1}

	unaryOps := []Op{OpNeg, OpFloor, OpCeil, OpNot}
	binaryOps := []Op{OpAdd, OpSub, OpMul, OpDiv, OpMin, OpMax, OpEq, OpNeq, OpGt, OpGeq, OpLt, OpLeq, OpAnd, OpOr}
	naryOps := []Op{OpAdd, OpMul, OpMin, OpMax}

	var build func(depth int) Expr
	build = func(depth int) Expr {
		if depth == 0 || rng.Intn(4) == 0 {
			if rng.Intn(2) == 0 {
				return Const{Value: rng.Intn(7) - 3}
			}
			return Var{ID: rng.Intn(2)}
		}
		switch rng.Intn(3) {
		case 0:
			return Unary{Op: unaryOps[rng.Intn(len(unaryOps))], X: build(depth - 1)}
		case 1:
			return Binary{Op: binaryOps[rng.Intn(len(binaryOps))], X: build(depth - 1), Y: build(depth - 1)}
		default:
			xs := make([]Expr, 1+rng.Intn(3))
			for i := range xs {
				xs[i] = build(depth - 1)
			}
			return NAry{Op: naryOps[rng.Intn(len(naryOps))], Xs: xs}
		}
	}

	sample := func() mapEnv {
		return mapEnv{
			0: r0.Lo + rng.Intn(r0.Width()+1),
			1: r1.Lo + rng.Intn(r1.Width()+1),
		}
	}

	for i := 0; i < 150; i++ {
		f := build(3)
		re := &RangeEvaluator{Env: ranges}
		iv, rerr := re.Eval(f)
		if rerr != nil {
			if !errors.Is(rerr, ErrDivisionByZero) {
				t.Fatalf("range eval of %s: %v", f, rerr)
			}
			// The divisor range collapsed to exactly zero, so every
			// concrete state must fail the same way.
			if _, cerr := Eval(f, sample()); !errors.Is(cerr, ErrDivisionByZero) {
				t.Fatalf("range eval of %s rejected a zero divisor but concrete eval gave %v", f, cerr)
			}
			continue
		}
		for j := 0; j < 25; j++ {
			env := sample()
			v, err := Eval(f, env)
			if errors.Is(err, ErrDivisionByZero) {
				// A straddling divisor range admits states that divide by
				// zero; those states simply have no concrete value.
				continue
			}
			if err != nil {
				t.Fatalf("concrete eval of %s at %v: %v", f, env, err)
			}
			if !iv.Contains(v) {
				t.Fatalf("range %v of %s misses concrete value %d at %v", iv, f, v, env)
			}
		}
	}
}

// TestRangeCollapsesOnPoints checks that feeding point intervals reproduces
// the concrete result for operators with exact interval transfer.
func TestRangeCollapsesOnPoints(t *testing.T) {
	f := Binary{Op: OpMax, X: Const{Value: 0}, Y: Binary{
		Op: OpMin, X: Const{Value: 1}, Y: Binary{Op: OpSub, X: Var{ID: 0}, Y: Var{ID: 1}},
	}}
	for x := -2; x <= 2; x++ {
		for y := -2; y <= 2; y++ {
			re := &RangeEvaluator{Env: mapRanges{0: interval.Point(x), 1: interval.Point(y)}}
			iv, err := re.Eval(f)
			if err != nil {
				t.Fatalf("range eval: %v", err)
			}
			want, err := Eval(f, mapEnv{0: x, 1: y})
			if err != nil {
				t.Fatalf("concrete eval: %v", err)
			}
			if !iv.IsPoint() || iv.Lo != want {
				t.Fatalf("point ranges at {0:%d, 1:%d} gave %v, want point [%d]", x, y, iv, want)
			}
		}
	}
}
