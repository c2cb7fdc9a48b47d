// Package sim executes qualitative networks over discrete timesteps. The
// simulator itself is deterministic; scheduling nondeterminism under the
// asynchronous discipline belongs to the stability prover, which drives
// ApplyUpdates with the update sets it wants to explore.
package sim

import (
	"errors"
	"fmt"

	"github.com/hallba/qncheck/expr"
	"github.com/hallba/qncheck/qn"
)

// Discipline selects how variables commit their updates each step.
type Discipline int

const (
	// Synchronous commits every variable's update simultaneously.
	Synchronous Discipline = iota
	// Asynchronous commits one update set at a time.
	Asynchronous
)

func (d Discipline) String() string {
	switch d {
	case Synchronous:
		return "synchronous"
	case Asynchronous:
		return "asynchronous"
	default:
		return fmt.Sprintf("discipline(%d)", int(d))
	}
}

// ErrInvalidSteps indicates a negative step count.
var ErrInvalidSteps = errors.New("steps must be non-negative")

// StepError reports a failure while computing a trace entry. Step is the
// trace index that could not be produced.
type StepError struct {
	Step int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("simulation step %d: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ApplyUpdates evaluates the listed variables' formulas against s and
// returns the state with those results committed, clamped into each
// variable's declared range. Variables outside the update set keep their
// values. Every formula reads the incoming state, so updates within one
// set never observe each other.
func ApplyUpdates(n *qn.Network, s qn.State, ids []int) (qn.State, error) {
	next := s.Clone()
	for _, id := range ids {
		f, ok := n.FormulaOf(id)
		if !ok {
			return nil, fmt.Errorf("update: %w: id %d", qn.ErrUnknownVariable, id)
		}
		v, err := expr.Eval(f, s)
		if err != nil {
			return nil, fmt.Errorf("update variable %d: %w", id, err)
		}
		next[id] = n.Clamp(id, v)
	}
	return next, nil
}

// SyncStep commits every variable's update simultaneously.
func SyncStep(n *qn.Network, s qn.State) (qn.State, error) {
	return ApplyUpdates(n, s, n.VariableIDs())
}

// Trace is the sequence of states a run visited, starting with the
// initial state. Simulator traces are total: every state assigns every
// variable.
type Trace []qn.State

// Len returns the number of recorded states.
func (tr Trace) Len() int { return len(tr) }

// At returns the state at trace index t.
func (tr Trace) At(t int) (qn.State, bool) {
	if t < 0 || t >= len(tr) {
		return nil, false
	}
	return tr[t], true
}

// Final returns the last recorded state, or nil for an empty trace.
func (tr Trace) Final() qn.State {
	if len(tr) == 0 {
		return nil
	}
	return tr[len(tr)-1]
}

// Dict flattens the trace into per-variable value series, the shape
// external reporting consumes: {id: [v_0, v_1, ...]}.
func (tr Trace) Dict() map[int][]int {
	out := map[int][]int{}
	if len(tr) == 0 {
		return out
	}
	for id := range tr[0] {
		series := make([]int, len(tr))
		for t, s := range tr {
			series[t] = s[id]
		}
		out[id] = series
	}
	return out
}

// Run executes steps transitions from the initial state and returns the
// trace of steps+1 states. A nil initial state starts from
// qn.InitialState. Under the asynchronous discipline Run applies a fixed
// ascending-id round-robin schedule, one variable per step, so that runs
// are reproducible; exploring other interleavings is the prover's job.
func Run(n *qn.Network, initial qn.State, steps int, d Discipline) (Trace, error) {
	if n == nil {
		return nil, errors.New("nil network")
	}
	if steps < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSteps, steps)
	}
	if initial == nil {
		initial = qn.InitialState(n)
	}
	if err := n.ValidateState(initial); err != nil {
		return nil, err
	}

	ids := n.VariableIDs()
	trace := make(Trace, 0, steps+1)
	cur := initial.Clone()
	trace = append(trace, cur)

	for t := 1; t <= steps; t++ {
		var (
			next qn.State
			err  error
		)
		switch {
		case d == Synchronous:
			next, err = ApplyUpdates(n, cur, ids)
		case d == Asynchronous && len(ids) == 0:
			next = cur.Clone()
		case d == Asynchronous:
			next, err = ApplyUpdates(n, cur, []int{ids[(t-1)%len(ids)]})
		default:
			return nil, fmt.Errorf("unknown discipline %d", int(d))
		}
		if err != nil {
			return nil, &StepError{Step: t, Err: err}
		}
		trace = append(trace, next)
		cur = next
	}
	return trace, nil
}
