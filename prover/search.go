package prover

import (
	"context"
	"errors"
	"fmt"

	"github.com/hallba/qncheck/interval"
	"github.com/hallba/qncheck/qn"
	"github.com/hallba/qncheck/result"
	"github.com/hallba/qncheck/sim"
)

// budgetTracker counts visited states against the state budget and the
// context deadline. charge reports false once the search must stop, and
// stays stopped afterwards.
type budgetTracker struct {
	ctx     context.Context
	max     int
	visited int
	stopped string
}

func (b *budgetTracker) charge() bool {
	if b.stopped != "" {
		return false
	}
	if err := b.ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			b.stopped = "canceled during counterexample search"
		} else {
			b.stopped = "deadline exceeded during counterexample search"
		}
		return false
	}
	if b.visited >= b.max {
		b.stopped = fmt.Sprintf("state budget (%d) exhausted during counterexample search", b.max)
		return false
	}
	b.visited++
	return true
}

// odometer enumerates every state inside the residual box in a fixed
// order: values ascend per variable, with the highest variable id rolling
// over first. The residual box is forward closed under updates, so the
// search never leaves it.
type odometer struct {
	ids    []int
	ranges map[int]interval.Interval
	cur    qn.State
	done   bool
}

func newOdometer(ids []int, ranges map[int]interval.Interval) *odometer {
	o := &odometer{ids: ids, ranges: ranges, cur: make(qn.State, len(ids))}
	for _, id := range ids {
		o.cur[id] = ranges[id].Lo
	}
	return o
}

func (o *odometer) next() (qn.State, bool) {
	if o.done {
		return nil, false
	}
	s := o.cur.Clone()
	for i := len(o.ids) - 1; i >= 0; i-- {
		id := o.ids[i]
		if o.cur[id] < o.ranges[id].Hi {
			o.cur[id]++
			for j := i + 1; j < len(o.ids); j++ {
				o.cur[o.ids[j]] = o.ranges[o.ids[j]].Lo
			}
			return s, true
		}
	}
	o.done = true
	return s, true
}

// searchResidual looks for a concrete witness refuting stabilization
// inside the residual box left by tightening. Finding none after covering
// the whole box proves the network stabilizes at the unique fixpoint the
// search discovered.
func searchResidual(ctx context.Context, n *qn.Network, d sim.Discipline, tight tightenOutcome, cfg config) (result.Stability, error) {
	base := result.Stability{
		History:  tight.history,
		Rounds:   tight.rounds,
		Warnings: tight.warnings,
	}
	budget := &budgetTracker{ctx: ctx, max: cfg.budget.MaxStates}

	var (
		cex *result.Counterexample
		fix qn.State
		err error
	)
	switch d {
	case sim.Synchronous:
		cex, fix, err = searchSync(n, tight.ranges, budget)
	case sim.Asynchronous:
		cex, fix, err = searchAsync(n, tight.ranges, budget)
	default:
		return result.Stability{}, fmt.Errorf("unknown discipline %d", int(d))
	}
	base.StatesExplored = budget.visited
	if err != nil {
		return result.Stability{}, err
	}
	if cex != nil {
		base.Verdict = result.NotStabilizing
		base.Counterexample = cex
		return base, nil
	}
	if budget.stopped != "" {
		base.Verdict = result.Inconclusive
		base.Reason = budget.stopped
		return base, nil
	}
	if fix == nil {
		// A finite search that covered the whole box must have seen a
		// fixpoint or a cycle; reaching this point means neither did.
		base.Verdict = result.Inconclusive
		base.Reason = "search covered the residual space without finding a witness"
		return base, nil
	}
	base.Verdict = result.Stabilizing
	base.FinalState = fix
	return base, nil
}

// searchSync walks the deterministic successor graph of every state in
// the residual box. Initial states are enumerated in ascending order and
// each trajectory is followed to its cycle; the first refuting witness
// wins, which keeps results reproducible.
//
// A trajectory ending in a self-loop found the network's fixpoint. The
// first such fixpoint becomes the convergence candidate; a later distinct
// one is a Bifurcation witness. A proper cycle is a Cycle witness, unless
// a fixpoint is already known, in which case the pair forms a Fixpoint
// witness: the converging run as the primary trace and the loop that
// avoids the fixpoint as the secondary.
func searchSync(n *qn.Network, ranges map[int]interval.Interval, budget *budgetTracker) (*result.Counterexample, qn.State, error) {
	ids := n.VariableIDs()
	odo := newOdometer(ids, ranges)
	settled := map[string]bool{}
	var (
		fix      qn.State
		fixTrace []qn.State
	)

	for {
		init, ok := odo.next()
		if !ok {
			break
		}
		if settled[init.Key(ids)] {
			continue
		}

		walk := []qn.State{init}
		pos := map[string]int{init.Key(ids): 0}
		for {
			if !budget.charge() {
				return nil, nil, nil
			}
			cur := walk[len(walk)-1]
			next, err := sim.SyncStep(n, cur)
			if err != nil {
				return nil, nil, fmt.Errorf("synchronous search from state %s: %w", cur.Key(ids), err)
			}
			if next.Equal(cur) {
				switch {
				case fix == nil:
					fix = cur
					fixTrace = walk
				case !fix.Equal(cur):
					return &result.Counterexample{
						Kind:     result.CexBifurcation,
						Trace:    result.TraceMapFromStates(fixTrace),
						AltTrace: result.TraceMapFromStates(walk),
					}, nil, nil
				}
				markSettled(settled, walk, ids)
				break
			}
			nkey := next.Key(ids)
			if i, seen := pos[nkey]; seen {
				loop := walk[i:]
				if fix == nil {
					return &result.Counterexample{
						Kind:  result.CexCycle,
						Trace: result.TraceMapFromStates(loop),
					}, nil, nil
				}
				return &result.Counterexample{
					Kind:     result.CexFixpoint,
					Trace:    result.TraceMapFromStates(fixTrace),
					AltTrace: result.TraceMapFromStates(loop),
				}, nil, nil
			}
			if settled[nkey] {
				markSettled(settled, walk, ids)
				break
			}
			pos[nkey] = len(walk)
			walk = append(walk, next)
		}
	}
	return nil, fix, nil
}

func markSettled(settled map[string]bool, walk []qn.State, ids []int) {
	for _, s := range walk {
		settled[s.Key(ids)] = true
	}
}

// successorsAsync returns the value-changing single-variable updates of s
// in ascending id order. A state with none is an asynchronous fixpoint.
func successorsAsync(n *qn.Network, s qn.State, ids []int) ([]qn.State, error) {
	var out []qn.State
	for _, id := range ids {
		next, err := sim.ApplyUpdates(n, s, []int{id})
		if err != nil {
			return nil, err
		}
		if !next.Equal(s) {
			out = append(out, next)
		}
	}
	return out, nil
}

type frame struct {
	state qn.State
	succs []qn.State
	next  int
}

// searchAsync explores the nondeterministic successor graph depth first,
// expanding successors in ascending variable order. A back edge to a
// state on the current path is a loop the adversarial scheduler can
// repeat forever; it is classified as a Cycle or an EndComponent, or
// folded into a Fixpoint witness when a fixpoint is already known, the
// same way the synchronous search treats cycles.
func searchAsync(n *qn.Network, ranges map[int]interval.Interval, budget *budgetTracker) (*result.Counterexample, qn.State, error) {
	ids := n.VariableIDs()
	odo := newOdometer(ids, ranges)

	const (
		gray  = byte(1)
		black = byte(2)
	)
	color := map[string]byte{}
	var (
		fix      qn.State
		fixTrace []qn.State
		stack    []*frame
	)

	push := func(s qn.State) (bool, error) {
		if !budget.charge() {
			return false, nil
		}
		succs, err := successorsAsync(n, s, ids)
		if err != nil {
			return false, fmt.Errorf("asynchronous search from state %s: %w", s.Key(ids), err)
		}
		color[s.Key(ids)] = gray
		stack = append(stack, &frame{state: s, succs: succs})
		return true, nil
	}

	for {
		init, ok := odo.next()
		if !ok {
			break
		}
		if color[init.Key(ids)] != 0 {
			continue
		}
		ok, err := push(init)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, nil
		}

		for len(stack) > 0 {
			top := stack[len(stack)-1]

			if len(top.succs) == 0 {
				switch {
				case fix == nil:
					fix = top.state
					fixTrace = pathStates(stack)
				case !fix.Equal(top.state):
					return &result.Counterexample{
						Kind:     result.CexBifurcation,
						Trace:    result.TraceMapFromStates(fixTrace),
						AltTrace: result.TraceMapFromStates(pathStates(stack)),
					}, nil, nil
				}
				color[top.state.Key(ids)] = black
				stack = stack[:len(stack)-1]
				continue
			}

			if top.next >= len(top.succs) {
				color[top.state.Key(ids)] = black
				stack = stack[:len(stack)-1]
				continue
			}

			succ := top.succs[top.next]
			top.next++
			skey := succ.Key(ids)
			switch color[skey] {
			case gray:
				loop := loopFromStack(stack, skey, ids)
				if fix != nil {
					return &result.Counterexample{
						Kind:     result.CexFixpoint,
						Trace:    result.TraceMapFromStates(fixTrace),
						AltTrace: result.TraceMapFromStates(loop),
					}, nil, nil
				}
				kind, err := classifyLoop(n, loop, ids, budget)
				if err != nil {
					return nil, nil, err
				}
				return &result.Counterexample{
					Kind:  kind,
					Trace: result.TraceMapFromStates(loop),
				}, nil, nil
			case black:
				continue
			default:
				ok, err := push(succ)
				if err != nil {
					return nil, nil, err
				}
				if !ok {
					return nil, nil, nil
				}
			}
		}
	}
	return nil, fix, nil
}

func pathStates(stack []*frame) []qn.State {
	out := make([]qn.State, len(stack))
	for i, f := range stack {
		out[i] = f.state
	}
	return out
}

func loopFromStack(stack []*frame, fromKey string, ids []int) []qn.State {
	start := 0
	for i, f := range stack {
		if f.state.Key(ids) == fromKey {
			start = i
			break
		}
	}
	return pathStates(stack[start:])
}

// classifyLoop separates plain cycles from end components. The loop's
// forward closure is walked breadth first: a closure with no fixpoint and
// a branch somewhere is a region the adversary can stay in forever while
// still making choices, which is the end-component shape. A reachable
// fixpoint or a branch-free closure reads as a plain cycle. Running out
// of budget during the walk keeps the plain cycle kind, since the loop
// itself already refutes stabilization.
func classifyLoop(n *qn.Network, loop []qn.State, ids []int, budget *budgetTracker) (result.CexKind, error) {
	frontier := append([]qn.State{}, loop...)
	seen := map[string]bool{}
	for _, s := range loop {
		seen[s.Key(ids)] = true
	}
	branchy := false
	for len(frontier) > 0 {
		if !budget.charge() {
			return result.CexCycle, nil
		}
		s := frontier[0]
		frontier = frontier[1:]
		succs, err := successorsAsync(n, s, ids)
		if err != nil {
			return 0, err
		}
		if len(succs) == 0 {
			return result.CexCycle, nil
		}
		if len(succs) > 1 {
			branchy = true
		}
		for _, succ := range succs {
			k := succ.Key(ids)
			if !seen[k] {
				seen[k] = true
				frontier = append(frontier, succ)
			}
		}
	}
	if branchy {
		return result.CexEndComponent, nil
	}
	return result.CexCycle, nil
}
