package ltl

import (
	"reflect"
	"testing"
)

func TestFormulaStrings(t *testing.T) {
	cases := []struct {
		f    Formula
		want string
	}{
		{True{}, "true"},
		{False{}, "false"},
		{Prop{Var: 0, Cmp: CmpGeq, Value: 2}, "var(0) >= 2"},
		{Not{F: Prop{Var: 2, Cmp: CmpLt, Value: 1}}, "!(var(2) < 1)"},
		{And{L: True{}, R: Prop{Var: 1, Cmp: CmpEq, Value: 0}}, "(true and var(1) = 0)"},
		{Or{L: Prop{Var: 0, Cmp: CmpNeq, Value: 1}, R: False{}}, "(var(0) != 1 or false)"},
		{
			Implies{L: Prop{Var: 0, Cmp: CmpEq, Value: 1}, R: Finally{F: Prop{Var: 1, Cmp: CmpGt, Value: 0}}},
			"(var(0) = 1 implies F(var(1) > 0))",
		},
		{Next{F: Globally{F: Prop{Var: 0, Cmp: CmpLeq, Value: 3}}}, "X(G(var(0) <= 3))"},
		{Until{L: True{}, R: Prop{Var: 2, Cmp: CmpEq, Value: 1}}, "(true U var(2) = 1)"},
		{Release{L: False{}, R: Prop{Var: 0, Cmp: CmpEq, Value: 0}}, "(false R var(0) = 0)"},
	}
	for _, tc := range cases {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestVarsSortedAndDeduplicated(t *testing.T) {
	f := Until{
		L: Prop{Var: 3, Cmp: CmpEq, Value: 1},
		R: And{
			L: Prop{Var: 1, Cmp: CmpLt, Value: 2},
			R: Next{F: Prop{Var: 3, Cmp: CmpGt, Value: 0}},
		},
	}
	if got := Vars(f); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("Vars = %v, want [1 3]", got)
	}
	if got := Vars(True{}); len(got) != 0 {
		t.Fatalf("Vars(true) = %v, want empty", got)
	}
}

func TestNegationNormalForm(t *testing.T) {
	p := Prop{Var: 0, Cmp: CmpEq, Value: 1}
	q := Prop{Var: 1, Cmp: CmpLt, Value: 2}
	notP := Prop{Var: 0, Cmp: CmpNeq, Value: 1}
	notQ := Prop{Var: 1, Cmp: CmpGeq, Value: 2}

	cases := []struct {
		name string
		got  Formula
		want Formula
	}{
		{"double negation", nnf(Not{F: Not{F: p}}), p},
		{"negated conjunction", neg(And{L: p, R: q}), Or{L: notP, R: notQ}},
		{"negated until is release", neg(Until{L: p, R: q}), Release{L: notP, R: notQ}},
		{"negated release is until", neg(Release{L: p, R: q}), Until{L: notP, R: notQ}},
		{"negated globally", neg(Globally{F: p}), Finally{F: notP}},
		{"negated finally", neg(Finally{F: p}), Globally{F: notP}},
		{"negated next", neg(Next{F: p}), Next{F: notP}},
		{"implication unfolds", nnf(Implies{L: p, R: q}), Or{L: notP, R: q}},
		{"negated implication", neg(Implies{L: p, R: q}), And{L: p, R: notQ}},
		{"negated true", neg(True{}), False{}},
	}
	for _, tc := range cases {
		if !reflect.DeepEqual(tc.got, tc.want) {
			t.Errorf("%s: got %s, want %s", tc.name, tc.got, tc.want)
		}
	}
}

func TestCmpNegatedIsInvolution(t *testing.T) {
	for _, c := range []Cmp{CmpEq, CmpNeq, CmpLt, CmpLeq, CmpGt, CmpGeq} {
		if got := c.negated().negated(); got != c {
			t.Errorf("%s: double negation = %s, want the original", c, got)
		}
	}
}

func TestPropTest(t *testing.T) {
	cases := []struct {
		cmp   Cmp
		v     int
		value int
		want  bool
	}{
		{CmpEq, 1, 1, true},
		{CmpEq, 0, 1, false},
		{CmpNeq, 0, 1, true},
		{CmpLt, 1, 2, true},
		{CmpLt, 2, 2, false},
		{CmpLeq, 2, 2, true},
		{CmpGt, 3, 2, true},
		{CmpGeq, 2, 2, true},
		{CmpGeq, 1, 2, false},
	}
	for _, tc := range cases {
		p := Prop{Var: 0, Cmp: tc.cmp, Value: tc.value}
		if got := p.test(tc.v); got != tc.want {
			t.Errorf("(%d %s %d) = %v, want %v", tc.v, tc.cmp, tc.value, got, tc.want)
		}
	}
}
