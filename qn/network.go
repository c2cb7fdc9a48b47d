// Package qn models a qualitative network: variables with bounded integer
// ranges, update formulas over those variables, and the regulator topology
// declared alongside them.
package qn

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hallba/qncheck/expr"
	"github.com/hallba/qncheck/interval"
)

// Re-export the evaluator's unknown-variable sentinel so callers can depend
// on qn.* without importing expr directly.
var ErrUnknownVariable = expr.ErrUnknownVariable

var (
	// ErrDuplicateVariable indicates two variables sharing an id.
	ErrDuplicateVariable = errors.New("duplicate variable id")
	// ErrInvalidRange indicates a declared range with Lo > Hi.
	ErrInvalidRange = errors.New("invalid variable range")
)

// Polarity describes the declared sign of a regulator edge.
type Polarity int

const (
	PolarityUnknown Polarity = iota
	PolarityActivator
	PolarityInhibitor
)

func (p Polarity) String() string {
	switch p {
	case PolarityActivator:
		return "activator"
	case PolarityInhibitor:
		return "inhibitor"
	default:
		return "unknown"
	}
}

// Relationship is a declared regulator edge From -> To. Edges carry
// provenance for reporting; the authoritative dependency structure comes
// from the update formulas themselves.
type Relationship struct {
	ID       int
	From, To int
	Polarity Polarity
}

// Variable couples an id and display name with a declared range and an
// update formula. A nil Formula marks an input: the variable holds
// whatever value it currently has.
type Variable struct {
	ID      int
	Name    string
	Range   interval.Interval
	Formula expr.Expr
}

// Network is an immutable, validated qualitative network. Construction
// resolves every formula reference and caches the dependency maps; all
// accessors are safe for concurrent use.
type Network struct {
	name string

	vars  []Variable  // ascending id; nil input formulas normalized to var(self)
	index map[int]int // id -> position in vars
	rels  []Relationship

	deps       map[int][]int // id -> sorted ids its formula reads
	dependents map[int][]int // id -> sorted ids whose formulas read it
}

// New validates variables and relationships and builds the network.
// Referencing an undeclared id, duplicating an id, or declaring an empty
// range fails construction.
func New(name string, vars []Variable, rels []Relationship) (*Network, error) {
	n := &Network{
		name:       name,
		vars:       make([]Variable, len(vars)),
		index:      make(map[int]int, len(vars)),
		rels:       make([]Relationship, len(rels)),
		deps:       make(map[int][]int, len(vars)),
		dependents: make(map[int][]int, len(vars)),
	}
	copy(n.vars, vars)
	copy(n.rels, rels)
	sort.SliceStable(n.vars, func(i, j int) bool { return n.vars[i].ID < n.vars[j].ID })

	for i, v := range n.vars {
		if _, dup := n.index[v.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateVariable, v.ID)
		}
		n.index[v.ID] = i
		if v.Range.Lo > v.Range.Hi {
			return nil, fmt.Errorf("%w: variable %d has range %d..%d", ErrInvalidRange, v.ID, v.Range.Lo, v.Range.Hi)
		}
	}

	for i, v := range n.vars {
		f := v.Formula
		if f == nil {
			// Inputs keep their value.
			f = expr.Var{ID: v.ID}
			n.vars[i].Formula = f
		}
		if err := expr.Validate(f); err != nil {
			return nil, fmt.Errorf("variable %d (%s): %w", v.ID, v.Name, err)
		}
		reads := expr.Vars(f)
		for _, dep := range reads {
			if _, ok := n.index[dep]; !ok {
				return nil, fmt.Errorf("variable %d (%s): formula references %w: id %d", v.ID, v.Name, ErrUnknownVariable, dep)
			}
		}
		n.deps[v.ID] = reads
	}

	for _, v := range n.vars {
		n.dependents[v.ID] = []int{}
	}
	for _, v := range n.vars {
		for _, dep := range n.deps[v.ID] {
			n.dependents[dep] = append(n.dependents[dep], v.ID)
		}
	}
	for id := range n.dependents {
		sort.Ints(n.dependents[id])
	}

	for _, r := range n.rels {
		if _, ok := n.index[r.From]; !ok {
			return nil, fmt.Errorf("relationship %d: %w: source id %d", r.ID, ErrUnknownVariable, r.From)
		}
		if _, ok := n.index[r.To]; !ok {
			return nil, fmt.Errorf("relationship %d: %w: target id %d", r.ID, ErrUnknownVariable, r.To)
		}
	}

	return n, nil
}

// Name returns the network's display name.
func (n *Network) Name() string { return n.name }

// Size returns the number of variables.
func (n *Network) Size() int { return len(n.vars) }

// Variables returns the variables in ascending id order. The slice is a
// copy; formula trees are shared and must be treated as read-only.
func (n *Network) Variables() []Variable {
	out := make([]Variable, len(n.vars))
	copy(out, n.vars)
	return out
}

// VariableIDs returns all ids in ascending order.
func (n *Network) VariableIDs() []int {
	ids := make([]int, len(n.vars))
	for i, v := range n.vars {
		ids[i] = v.ID
	}
	return ids
}

// VariableByID looks up a variable.
func (n *Network) VariableByID(id int) (Variable, bool) {
	i, ok := n.index[id]
	if !ok {
		return Variable{}, false
	}
	return n.vars[i], true
}

// RangeOf returns the declared range of a variable.
func (n *Network) RangeOf(id int) (interval.Interval, bool) {
	i, ok := n.index[id]
	if !ok {
		return interval.Interval{}, false
	}
	return n.vars[i].Range, true
}

// FormulaOf returns the effective update formula of a variable. Inputs
// report the identity formula var(id).
func (n *Network) FormulaOf(id int) (expr.Expr, bool) {
	i, ok := n.index[id]
	if !ok {
		return nil, false
	}
	return n.vars[i].Formula, true
}

// DependenciesOf returns the sorted ids the variable's formula reads.
func (n *Network) DependenciesOf(id int) []int {
	return append([]int(nil), n.deps[id]...)
}

// DependentsOf returns the sorted ids whose formulas read the variable.
func (n *Network) DependentsOf(id int) []int {
	return append([]int(nil), n.dependents[id]...)
}

// Relationships returns the declared regulator edges.
func (n *Network) Relationships() []Relationship {
	out := make([]Relationship, len(n.rels))
	copy(out, n.rels)
	return out
}

// UnusedInputs lists declared regulators of the variable that its formula
// never reads. Such edges usually indicate a modelling slip and are worth
// reporting.
func (n *Network) UnusedInputs(id int) []int {
	reads := map[int]struct{}{}
	for _, dep := range n.deps[id] {
		reads[dep] = struct{}{}
	}
	var unused []int
	for _, r := range n.rels {
		if r.To != id {
			continue
		}
		if _, ok := reads[r.From]; !ok {
			unused = append(unused, r.From)
		}
	}
	sort.Ints(unused)
	return unused
}

// Clamp maps v into the variable's declared range. Unknown ids pass the
// value through unchanged.
func (n *Network) Clamp(id, v int) int {
	i, ok := n.index[id]
	if !ok {
		return v
	}
	return n.vars[i].Range.Clamp(v)
}

// FullRanges returns a fresh map of every variable's declared range, the
// starting point for range tightening.
func (n *Network) FullRanges() map[int]interval.Interval {
	out := make(map[int]interval.Interval, len(n.vars))
	for _, v := range n.vars {
		out[v.ID] = v.Range
	}
	return out
}

// Knockout returns a new network with the variable's update formula
// replaced. A nil formula replaces with the constant 0, the usual gene
// knockout. The receiver is never modified; unaffected variables are
// shared structurally and the dependency cache is rebuilt from scratch.
func (n *Network) Knockout(id int, formula expr.Expr) (*Network, error) {
	i, ok := n.index[id]
	if !ok {
		return nil, fmt.Errorf("knockout: %w: id %d", ErrUnknownVariable, id)
	}
	if formula == nil {
		formula = expr.Const{Value: 0}
	}
	vars := make([]Variable, len(n.vars))
	copy(vars, n.vars)
	vars[i].Formula = formula
	return New(n.name, vars, n.rels)
}
