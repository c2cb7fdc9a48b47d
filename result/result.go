// Package result holds the data model for analysis outcomes: stability
// verdicts with their proof-progress history, counterexample witnesses,
// and the dense trace table consumed by external reporting. Beyond
// construction and flattening there is no behavior here; the prover and
// simulator produce these values, callers only read them.
package result

import (
	"fmt"

	"github.com/hallba/qncheck/interval"
	"github.com/hallba/qncheck/qn"
)

// Verdict is the outcome of a stability check. The zero value is
// Inconclusive so that an abandoned or budget-starved check never reads
// as a proof.
type Verdict int

const (
	// Inconclusive means the search budget ran out before a proof or a
	// counterexample was found.
	Inconclusive Verdict = iota
	// Stabilizing means every execution reaches one unique fixpoint.
	Stabilizing
	// NotStabilizing means a counterexample to stabilization was found.
	NotStabilizing
)

func (v Verdict) String() string {
	switch v {
	case Stabilizing:
		return "Stabilizing"
	case NotStabilizing:
		return "NotStabilizing"
	case Inconclusive:
		return "Inconclusive"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// HistoryPoint records the per-variable known ranges after one
// tightening round, so callers can see how bounds narrowed over the
// proof rather than only the final verdict.
type HistoryPoint struct {
	Round  int
	Ranges map[int]interval.Interval
}

// Stability is the full outcome of a stability check.
type Stability struct {
	Verdict Verdict
	// History holds one entry per tightening round that changed at least
	// one range, starting with the declared ranges at round zero.
	History []HistoryPoint
	// FinalState is the unique fixpoint when Verdict is Stabilizing.
	FinalState qn.State
	// Counterexample is set when Verdict is NotStabilizing.
	Counterexample *Counterexample
	// Rounds is the number of tightening rounds executed.
	Rounds int
	// StatesExplored counts concrete states visited during the
	// counterexample search.
	StatesExplored int
	// Reason explains an Inconclusive verdict, such as which budget was
	// exhausted.
	Reason string
	// Warnings carries non-fatal soundness notes, such as divisions whose
	// divisor range straddled zero and forced a widened quotient.
	Warnings []string
}

// CexKind names the shape of a counterexample witness.
type CexKind int

const (
	// CexCycle is a looping execution that never reaches a fixpoint.
	CexCycle CexKind = iota
	// CexFixpoint is an execution reaching a fixpoint other than the
	// candidate the proof converged on.
	CexFixpoint
	// CexEndComponent is a terminal strongly connected set of states,
	// none of them a fixpoint, that an asynchronous execution can enter
	// and never leave.
	CexEndComponent
	// CexBifurcation is a pair of executions reaching two distinct
	// fixpoints.
	CexBifurcation
)

func (k CexKind) String() string {
	switch k {
	case CexCycle:
		return "Cycle"
	case CexFixpoint:
		return "Fixpoint"
	case CexEndComponent:
		return "EndComponent"
	case CexBifurcation:
		return "Bifurcation"
	default:
		return fmt.Sprintf("cexKind(%d)", int(k))
	}
}

// Cell addresses one value in a recorded trace.
type Cell struct {
	Var  int
	Step int
}

// TraceMap is a recorded execution as a mapping from (variable,
// timestep) to value. Traces produced by the prover are total over the
// variables they mention; the sparse form exists so external sources can
// be flattened through the same Table machinery.
type TraceMap map[Cell]int

// TraceMapFromStates records a state sequence as a TraceMap, with the
// first state at timestep zero.
func TraceMapFromStates(states []qn.State) TraceMap {
	tm := TraceMap{}
	for t, s := range states {
		for id, v := range s {
			tm[Cell{Var: id, Step: t}] = v
		}
	}
	return tm
}

// States rebuilds the per-timestep state sequence recorded in the
// trace. Unlike the Table view, which tolerates per-variable gaps by
// leaving cells null, rebuilding states requires every variable to have
// a value at every timestep; a gap fails with ErrMalformedTrace.
func (tm TraceMap) States() ([]qn.State, error) {
	tab, err := NewTable(tm)
	if err != nil {
		return nil, err
	}
	vars := tab.Variables()
	out := make([]qn.State, tab.Steps())
	for t := range out {
		s := make(qn.State, len(vars))
		for _, id := range vars {
			v, ok := tab.Value(id, t)
			if !ok {
				return nil, fmt.Errorf("%w: variable %d has no value at timestep %d", ErrMalformedTrace, id, t)
			}
			s[id] = v
		}
		out[t] = s
	}
	return out, nil
}

// Counterexample is a witness refuting stabilization.
type Counterexample struct {
	Kind CexKind
	// Trace is the primary witness execution.
	Trace TraceMap
	// AltTrace carries the secondary execution when the witness needs
	// two: the second branch of a Bifurcation, or the looping execution
	// of a Fixpoint witness whose Trace converges to the fixed point.
	// Nil for Cycle and EndComponent witnesses.
	AltTrace TraceMap
}
