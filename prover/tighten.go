package prover

import (
	"context"
	"fmt"
	"sync"

	"github.com/hallba/qncheck/expr"
	"github.com/hallba/qncheck/internal/logging"
	"github.com/hallba/qncheck/interval"
	"github.com/hallba/qncheck/qn"
	"github.com/hallba/qncheck/result"
)

type tightenOutcome struct {
	ranges    map[int]interval.Interval
	history   []result.HistoryPoint
	rounds    int
	warnings  []string
	converged bool
}

type rangesEnv map[int]interval.Interval

func (e rangesEnv) Range(id int) (interval.Interval, bool) {
	iv, ok := e[id]
	return iv, ok
}

// TightenRanges runs only the range-tightening phase and returns its
// history: the declared ranges at round zero followed by one point per
// round that narrowed something. A context error returns the partial
// history gathered so far alongside the error.
func TightenRanges(ctx context.Context, n *qn.Network, opts ...Option) ([]result.HistoryPoint, error) {
	if n == nil {
		return nil, ErrNilNetwork
	}
	cfg := newConfig(opts)
	out, err := tighten(ctx, n, cfg, cfg.log)
	return out.history, err
}

// tighten runs Jacobi-style rounds: every formula is evaluated over the
// same snapshot of current ranges, each resulting interval is clamped
// into the variable's declared range and intersected with its current
// one, and all updates land together before the next round. Evaluations
// within a round are spread over cfg.workers goroutines; the merge walks
// proposals in ascending id order, so the worker count cannot change the
// outcome.
func tighten(ctx context.Context, n *qn.Network, cfg config, log logging.Logger) (tightenOutcome, error) {
	ids := n.VariableIDs()
	out := tightenOutcome{ranges: n.FullRanges()}
	out.history = append(out.history, snapshot(0, out.ranges))

	type proposal struct {
		iv       interval.Interval
		warnings []string
		err      error
	}
	props := make([]proposal, len(ids))
	seenWarning := map[string]bool{}

	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if out.rounds >= cfg.budget.MaxRounds {
			return out, nil
		}

		env := rangesEnv(out.ranges)
		workers := cfg.workers
		if workers > len(ids) {
			workers = len(ids)
		}
		var wg sync.WaitGroup
		work := make(chan int)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range work {
					f, _ := n.FormulaOf(ids[i])
					re := expr.RangeEvaluator{Env: env}
					iv, err := re.Eval(f)
					props[i] = proposal{iv: iv, warnings: re.Warnings, err: err}
				}
			}()
		}
		for i := range ids {
			work <- i
		}
		close(work)
		wg.Wait()

		out.rounds++
		changed := false
		for i, id := range ids {
			p := props[i]
			if p.err != nil {
				return out, fmt.Errorf("tighten variable %d: %w", id, p.err)
			}
			for _, w := range p.warnings {
				if !seenWarning[w] {
					seenWarning[w] = true
					out.warnings = append(out.warnings, w)
				}
			}
			declared, _ := n.RangeOf(id)
			next := p.iv.ClampInto(declared)
			cur := out.ranges[id]
			tightened, ok := cur.Intersect(next)
			if !ok {
				// Interval evaluation is inclusion-monotone, so a proposal
				// always overlaps the current range. A disjoint one would
				// mean an evaluator bug; keep the old range so the check
				// stays sound.
				log.Warn(ctx, "tightening proposed disjoint range; keeping current",
					logging.Int("variable", id),
					logging.String("current", cur.String()),
					logging.String("proposed", next.String()),
				)
				continue
			}
			if tightened != cur {
				out.ranges[id] = tightened
				changed = true
			}
		}

		if !changed {
			out.converged = true
			return out, nil
		}
		point := snapshot(out.rounds, out.ranges)
		out.history = append(out.history, point)
		if cfg.progress != nil {
			cfg.progress(point)
		}
		log.Debug(ctx, "tightening round narrowed ranges", logging.Int("round", out.rounds))
	}
}

func snapshot(round int, ranges map[int]interval.Interval) result.HistoryPoint {
	cp := make(map[int]interval.Interval, len(ranges))
	for id, iv := range ranges {
		cp[id] = iv
	}
	return result.HistoryPoint{Round: round, Ranges: cp}
}

func singletonState(ranges map[int]interval.Interval) (qn.State, bool) {
	s := make(qn.State, len(ranges))
	for id, iv := range ranges {
		if !iv.IsPoint() {
			return nil, false
		}
		s[id] = iv.Lo
	}
	return s, true
}
