// Package ltl checks bounded linear temporal logic queries against a
// qualitative network.
//
// Formulas are built directly as an AST; there is no text syntax. A check
// unrolls every synchronous execution allowed by the network's tightened
// ranges to a fixed depth and evaluates the query and its negation
// side by side, so a caller always learns whether the property and its
// complement each have a concrete witness execution at that depth.
package ltl

import (
	"fmt"
	"sort"
)

// Cmp compares a variable against a constant inside a Prop.
type Cmp int

const (
	CmpEq Cmp = iota
	CmpNeq
	CmpLt
	CmpLeq
	CmpGt
	CmpGeq
)

func (c Cmp) String() string {
	switch c {
	case CmpEq:
		return "="
	case CmpNeq:
		return "!="
	case CmpLt:
		return "<"
	case CmpLeq:
		return "<="
	case CmpGt:
		return ">"
	case CmpGeq:
		return ">="
	default:
		return fmt.Sprintf("cmp(%d)", int(c))
	}
}

// negated returns the complementary comparison.
func (c Cmp) negated() Cmp {
	switch c {
	case CmpEq:
		return CmpNeq
	case CmpNeq:
		return CmpEq
	case CmpLt:
		return CmpGeq
	case CmpLeq:
		return CmpGt
	case CmpGt:
		return CmpLeq
	default:
		return CmpLt
	}
}

// Formula is an LTL formula node. The concrete variants are True, False,
// Prop, Not, And, Or, Implies, Next, Finally, Globally, Until, and
// Release.
type Formula interface {
	fmt.Stringer
	isFormula()
}

// True holds everywhere.
type True struct{}

// False holds nowhere.
type False struct{}

// Prop compares a network variable against a constant value.
type Prop struct {
	Var   int
	Cmp   Cmp
	Value int
}

// Not negates a formula.
type Not struct{ F Formula }

// And holds when both operands hold.
type And struct{ L, R Formula }

// Or holds when either operand holds.
type Or struct{ L, R Formula }

// Implies holds unless L holds and R does not.
type Implies struct{ L, R Formula }

// Next holds when F holds at the following timestep.
type Next struct{ F Formula }

// Finally holds when F holds now or at some later timestep.
type Finally struct{ F Formula }

// Globally holds when F holds now and at every later timestep.
type Globally struct{ F Formula }

// Until holds when R eventually holds and L holds at every step before.
type Until struct{ L, R Formula }

// Release is the dual of Until: R holds up to and including the step
// where L first holds, or forever if L never does.
type Release struct{ L, R Formula }

func (True) isFormula()     {}
func (False) isFormula()    {}
func (Prop) isFormula()     {}
func (Not) isFormula()      {}
func (And) isFormula()      {}
func (Or) isFormula()       {}
func (Implies) isFormula()  {}
func (Next) isFormula()     {}
func (Finally) isFormula()  {}
func (Globally) isFormula() {}
func (Until) isFormula()    {}
func (Release) isFormula()  {}

func (True) String() string  { return "true" }
func (False) String() string { return "false" }

func (p Prop) String() string {
	return fmt.Sprintf("var(%d) %s %d", p.Var, p.Cmp, p.Value)
}

func (n Not) String() string      { return "!(" + str(n.F) + ")" }
func (a And) String() string      { return "(" + str(a.L) + " and " + str(a.R) + ")" }
func (o Or) String() string       { return "(" + str(o.L) + " or " + str(o.R) + ")" }
func (i Implies) String() string  { return "(" + str(i.L) + " implies " + str(i.R) + ")" }
func (x Next) String() string     { return "X(" + str(x.F) + ")" }
func (f Finally) String() string  { return "F(" + str(f.F) + ")" }
func (g Globally) String() string { return "G(" + str(g.F) + ")" }
func (u Until) String() string    { return "(" + str(u.L) + " U " + str(u.R) + ")" }
func (r Release) String() string  { return "(" + str(r.L) + " R " + str(r.R) + ")" }

func str(f Formula) string {
	if f == nil {
		return "?"
	}
	return f.String()
}

// Vars returns the sorted set of variable ids the formula constrains.
func Vars(f Formula) []int {
	seen := map[int]struct{}{}
	collectVars(f, seen)
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func collectVars(f Formula, seen map[int]struct{}) {
	switch n := f.(type) {
	case Prop:
		seen[n.Var] = struct{}{}
	case Not:
		collectVars(n.F, seen)
	case And:
		collectVars(n.L, seen)
		collectVars(n.R, seen)
	case Or:
		collectVars(n.L, seen)
		collectVars(n.R, seen)
	case Implies:
		collectVars(n.L, seen)
		collectVars(n.R, seen)
	case Next:
		collectVars(n.F, seen)
	case Finally:
		collectVars(n.F, seen)
	case Globally:
		collectVars(n.F, seen)
	case Until:
		collectVars(n.L, seen)
		collectVars(n.R, seen)
	case Release:
		collectVars(n.L, seen)
		collectVars(n.R, seen)
	}
}

// test evaluates the proposition against a concrete variable value.
func (p Prop) test(v int) bool {
	switch p.Cmp {
	case CmpEq:
		return v == p.Value
	case CmpNeq:
		return v != p.Value
	case CmpLt:
		return v < p.Value
	case CmpLeq:
		return v <= p.Value
	case CmpGt:
		return v > p.Value
	case CmpGeq:
		return v >= p.Value
	default:
		return false
	}
}

// nnf rewrites the formula into negation normal form: negation survives
// only inside propositions, where it flips the comparison. Bounded path
// evaluation is only defined on this form, because on a path that never
// closes its loop a negation cannot be evaluated as a complement.
func nnf(f Formula) Formula {
	switch n := f.(type) {
	case True, False, Prop:
		return n
	case Not:
		return neg(n.F)
	case And:
		return And{L: nnf(n.L), R: nnf(n.R)}
	case Or:
		return Or{L: nnf(n.L), R: nnf(n.R)}
	case Implies:
		return Or{L: neg(n.L), R: nnf(n.R)}
	case Next:
		return Next{F: nnf(n.F)}
	case Finally:
		return Finally{F: nnf(n.F)}
	case Globally:
		return Globally{F: nnf(n.F)}
	case Until:
		return Until{L: nnf(n.L), R: nnf(n.R)}
	case Release:
		return Release{L: nnf(n.L), R: nnf(n.R)}
	default:
		return f
	}
}

// neg returns the negation normal form of !f.
func neg(f Formula) Formula {
	switch n := f.(type) {
	case True:
		return False{}
	case False:
		return True{}
	case Prop:
		return Prop{Var: n.Var, Cmp: n.Cmp.negated(), Value: n.Value}
	case Not:
		return nnf(n.F)
	case And:
		return Or{L: neg(n.L), R: neg(n.R)}
	case Or:
		return And{L: neg(n.L), R: neg(n.R)}
	case Implies:
		return And{L: nnf(n.L), R: neg(n.R)}
	case Next:
		return Next{F: neg(n.F)}
	case Finally:
		return Globally{F: neg(n.F)}
	case Globally:
		return Finally{F: neg(n.F)}
	case Until:
		return Release{L: neg(n.L), R: neg(n.R)}
	case Release:
		return Until{L: neg(n.L), R: neg(n.R)}
	default:
		return Not{F: f}
	}
}
