package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedTrace indicates a trace whose recorded timesteps cannot
// form a table: a negative timestep, or a timestep with no values at all
// in the middle of the recording. It signals a bug in whatever produced
// the trace, not a property of the model under analysis.
var ErrMalformedTrace = errors.New("malformed trace")

// Table is the dense variables-by-timesteps view of a recorded trace.
// Cells a variable never recorded stay explicitly unset rather than
// defaulting to zero, and marshal as JSON null.
type Table struct {
	steps int
	vars  []int
	cells map[Cell]int
}

// NewTable flattens a trace into a dense table. Timesteps must be
// non-negative and contiguous from zero: every timestep up to the
// largest recorded one needs at least one value, otherwise the trace is
// malformed. Individual variables may still have gaps; those cells stay
// unset.
func NewTable(tm TraceMap) (*Table, error) {
	steps := 0
	seen := map[int]bool{}
	filled := map[int]bool{}
	for c := range tm {
		if c.Step < 0 {
			return nil, fmt.Errorf("%w: negative timestep %d for variable %d", ErrMalformedTrace, c.Step, c.Var)
		}
		if c.Step+1 > steps {
			steps = c.Step + 1
		}
		seen[c.Var] = true
		filled[c.Step] = true
	}
	for t := 0; t < steps; t++ {
		if !filled[t] {
			return nil, fmt.Errorf("%w: no value recorded at timestep %d", ErrMalformedTrace, t)
		}
	}

	vars := make([]int, 0, len(seen))
	for id := range seen {
		vars = append(vars, id)
	}
	sort.Ints(vars)

	cells := make(map[Cell]int, len(tm))
	for c, v := range tm {
		cells[c] = v
	}
	return &Table{steps: steps, vars: vars, cells: cells}, nil
}

// Steps returns the number of timestep columns.
func (t *Table) Steps() int { return t.steps }

// Variables returns the recorded variable ids in ascending order.
func (t *Table) Variables() []int {
	out := make([]int, len(t.vars))
	copy(out, t.vars)
	return out
}

// Value returns the cell for a variable at a timestep. The second
// return is false for unset cells and out-of-range coordinates.
func (t *Table) Value(varID, step int) (int, bool) {
	v, ok := t.cells[Cell{Var: varID, Step: step}]
	return v, ok
}

// Series returns one variable's row as a slice with one entry per
// timestep; unset cells are nil. Unknown variables return nil.
func (t *Table) Series(varID int) []*int {
	known := false
	for _, id := range t.vars {
		if id == varID {
			known = true
			break
		}
	}
	if !known {
		return nil
	}
	row := make([]*int, t.steps)
	for step := 0; step < t.steps; step++ {
		if v, ok := t.cells[Cell{Var: varID, Step: step}]; ok {
			v := v
			row[step] = &v
		}
	}
	return row
}

// MarshalJSON renders the table as
// {"steps": N, "variables": {"<id>": [v0, null, ...]}}.
func (t *Table) MarshalJSON() ([]byte, error) {
	vars := make(map[string][]*int, len(t.vars))
	for _, id := range t.vars {
		vars[fmt.Sprintf("%d", id)] = t.Series(id)
	}
	return json.Marshal(struct {
		Steps     int               `json:"steps"`
		Variables map[string][]*int `json:"variables"`
	}{Steps: t.steps, Variables: vars})
}
