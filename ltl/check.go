package ltl

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/hallba/qncheck/internal/logging"
	"github.com/hallba/qncheck/internal/observability"
	"github.com/hallba/qncheck/interval"
	"github.com/hallba/qncheck/prover"
	"github.com/hallba/qncheck/qn"
	"github.com/hallba/qncheck/result"
	"github.com/hallba/qncheck/sim"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrNilFormula is returned when a check is invoked without a query.
	ErrNilFormula = errors.New("nil formula")
	// ErrInvalidDepth is returned when the unroll depth is not positive.
	ErrInvalidDepth = errors.New("path depth must be positive")
	// ErrBudgetExhausted is returned when the simulation budget runs out
	// before every execution has been checked. It is an abort, not a
	// verdict: the paths checked so far are discarded.
	ErrBudgetExhausted = errors.New("simulation budget exhausted")
)

// Result carries both polarities of a bounded check, the way the engine
// has always reported LTL queries: the query and its negation are
// checked side by side and each gets its own witness execution.
type Result struct {
	// Holds reports whether some execution satisfies the query within
	// the unrolled depth; Witness is that execution.
	Holds   bool
	Witness *result.Table

	// NegationHolds and NegationWitness report the same for the negated
	// query. Both polarities can hold at once on different executions,
	// and on paths too short to close their loop both can fail.
	NegationHolds   bool
	NegationWitness *result.Table

	// PathLength is the number of timesteps in every unrolled path.
	PathLength int
}

type config struct {
	budget  prover.Budget
	log     logging.Logger
	workers int
}

// Option customises a bounded check.
type Option func(*config)

// WithBudget replaces the default budget. MaxRounds bounds the range
// pass, MaxStates the total number of simulated steps, and Timeout the
// whole check.
func WithBudget(b prover.Budget) Option {
	return func(c *config) { c.budget = b }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithWorkers sets the parallelism of the range pass.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

func newConfig(opts []Option) config {
	c := config{
		budget:  prover.DefaultBudget(),
		log:     logging.Noop(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	def := prover.DefaultBudget()
	if c.budget.MaxRounds <= 0 {
		c.budget.MaxRounds = def.MaxRounds
	}
	if c.budget.MaxStates <= 0 {
		c.budget.MaxStates = def.MaxStates
	}
	if c.workers <= 0 {
		c.workers = 1
	}
	return c
}

// CheckBounded evaluates the query and its negation against every
// synchronous execution the network admits, each unrolled to steps
// timesteps.
//
// Initial states are drawn from the network's tightened ranges, the same
// range pass the stability prover runs first, so executions start inside
// the long-run envelope rather than the full declared box. When the
// successor of a path's final state revisits the path, the path is a
// lasso and the query is decided exactly on the induced infinite
// execution; otherwise conservative bounded semantics apply, under which
// an obligation that extends past the window counts as unwitnessed for
// both polarities. A false verdict therefore means "no witness at this
// depth", never a proof of impossibility.
func CheckBounded(ctx context.Context, n *qn.Network, f Formula, steps int, opts ...Option) (Result, error) {
	if n == nil {
		return Result{}, prover.ErrNilNetwork
	}
	if f == nil {
		return Result{}, ErrNilFormula
	}
	if steps < 1 {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidDepth, steps)
	}
	for _, id := range Vars(f) {
		if _, ok := n.RangeOf(id); !ok {
			return Result{}, fmt.Errorf("query references %w: id %d", qn.ErrUnknownVariable, id)
		}
	}

	cfg := newConfig(opts)
	ctx, log := logging.WithRunLogger(ctx, cfg.log)
	ctx, span := observability.StartAnalysisSpan(ctx, "ltl.CheckBounded", n.Name(),
		attribute.String("query", f.String()),
		attribute.Int("steps", steps),
	)
	defer span.End()

	if cfg.budget.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.budget.Timeout)
		defer cancel()
	}

	start := time.Now()
	log.Info(ctx, "bounded check started",
		logging.String("network", n.Name()),
		logging.String("query", f.String()),
		logging.Int("steps", steps),
	)

	res, err := runBounded(ctx, n, f, steps, cfg)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error(ctx, "bounded check failed",
			logging.String("network", n.Name()),
			logging.String("error", err.Error()),
			logging.Duration("elapsed", elapsed),
		)
		return Result{}, err
	}

	span.SetAttributes(
		attribute.Bool("holds", res.Holds),
		attribute.Bool("negation_holds", res.NegationHolds),
	)
	log.Info(ctx, "bounded check finished",
		logging.String("network", n.Name()),
		logging.String("query", f.String()),
		logging.Any("holds", res.Holds),
		logging.Any("negation_holds", res.NegationHolds),
		logging.Duration("elapsed", elapsed),
	)
	return res, nil
}

func runBounded(ctx context.Context, n *qn.Network, f Formula, steps int, cfg config) (Result, error) {
	history, err := prover.TightenRanges(ctx, n,
		prover.WithBudget(cfg.budget),
		prover.WithWorkers(cfg.workers),
		prover.WithLogger(cfg.log),
	)
	if err != nil {
		return Result{}, fmt.Errorf("range pass: %w", err)
	}
	ranges := history[len(history)-1].Ranges
	ids := n.VariableIDs()

	query := nnf(f)
	negQuery := neg(f)

	res := Result{PathLength: steps}
	budget := cfg.budget.MaxStates

	it := newBoxIter(ids, ranges)
	for !(res.Holds && res.NegationHolds) {
		init, ok := it.next()
		if !ok {
			break
		}
		path, loop, err := unroll(ctx, n, init, steps, ids, &budget)
		if err != nil {
			return Result{}, err
		}
		ev := &pathEval{path: path, loop: loop}
		if !res.Holds && ev.holds(query, 0) {
			tab, err := traceTable(path)
			if err != nil {
				return Result{}, err
			}
			res.Holds = true
			res.Witness = tab
		}
		if !res.NegationHolds && ev.holds(negQuery, 0) {
			tab, err := traceTable(path)
			if err != nil {
				return Result{}, err
			}
			res.NegationHolds = true
			res.NegationWitness = tab
		}
	}
	return res, nil
}

// unroll simulates the synchronous execution from init for steps
// timesteps. The returned loop index is the position the successor of
// the final state revisits, or -1 when the window closes no loop. Every
// simulated step draws down the shared budget.
func unroll(ctx context.Context, n *qn.Network, init qn.State, steps int, ids []int, budget *int) ([]qn.State, int, error) {
	path := make([]qn.State, 1, steps)
	path[0] = init
	seen := map[string]int{init.Key(ids): 0}

	for t := 1; t <= steps; t++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if *budget <= 0 {
			return nil, 0, ErrBudgetExhausted
		}
		*budget--

		next, err := sim.SyncStep(n, path[t-1])
		if err != nil {
			return nil, 0, fmt.Errorf("bounded check from state %s: %w", path[t-1].Key(ids), err)
		}
		key := next.Key(ids)
		if t == steps {
			// Lookahead only: the successor of the final state decides
			// whether the window closed a loop.
			if l, ok := seen[key]; ok {
				return path, l, nil
			}
			return path, -1, nil
		}
		if _, dup := seen[key]; !dup {
			seen[key] = t
		}
		path = append(path, next)
	}
	return path, -1, nil
}

func traceTable(path []qn.State) (*result.Table, error) {
	return result.NewTable(result.TraceMapFromStates(path))
}

// boxIter streams every state of a range box in ascending order, the
// highest variable id varying fastest.
type boxIter struct {
	ids    []int
	ranges map[int]interval.Interval
	cur    qn.State
	first  bool
	done   bool
}

func newBoxIter(ids []int, ranges map[int]interval.Interval) *boxIter {
	it := &boxIter{ids: ids, ranges: ranges, cur: make(qn.State, len(ids)), first: true}
	for _, id := range ids {
		it.cur[id] = ranges[id].Lo
	}
	return it
}

func (it *boxIter) next() (qn.State, bool) {
	if it.done {
		return nil, false
	}
	if it.first {
		it.first = false
		return it.cur.Clone(), true
	}
	for i := len(it.ids) - 1; i >= 0; i-- {
		id := it.ids[i]
		if it.cur[id] < it.ranges[id].Hi {
			it.cur[id]++
			for j := i + 1; j < len(it.ids); j++ {
				it.cur[it.ids[j]] = it.ranges[it.ids[j]].Lo
			}
			return it.cur.Clone(), true
		}
	}
	it.done = true
	return nil, false
}

// pathEval decides a negation-normal-form formula over one unrolled
// path. With a loop the path denotes an infinite execution and every
// operator is exact; without one the evaluation is conservative, so
// Globally and an unreleased Release are unwitnessable and Next fails at
// the final position.
type pathEval struct {
	path []qn.State
	loop int
}

// succ returns the following position, or -1 past the end of a loopless
// path.
func (p *pathEval) succ(i int) int {
	if i+1 < len(p.path) {
		return i + 1
	}
	return p.loop
}

func (p *pathEval) holds(f Formula, i int) bool {
	switch n := f.(type) {
	case True:
		return true
	case False:
		return false
	case Prop:
		return n.test(p.path[i][n.Var])
	case And:
		return p.holds(n.L, i) && p.holds(n.R, i)
	case Or:
		return p.holds(n.L, i) || p.holds(n.R, i)
	case Next:
		j := p.succ(i)
		return j >= 0 && p.holds(n.F, j)
	case Finally:
		// Walking len(path) positions from i covers the whole forward
		// orbit, with or without a loop.
		for j, step := i, 0; j >= 0 && step < len(p.path); j, step = p.succ(j), step+1 {
			if p.holds(n.F, j) {
				return true
			}
		}
		return false
	case Globally:
		if p.loop < 0 {
			return false
		}
		for j, step := i, 0; step < len(p.path); j, step = p.succ(j), step+1 {
			if !p.holds(n.F, j) {
				return false
			}
		}
		return true
	case Until:
		// A later witness would see a superset of the positions already
		// walked, so the first failure of the left operand is final.
		for j, step := i, 0; j >= 0 && step < len(p.path); j, step = p.succ(j), step+1 {
			if p.holds(n.R, j) {
				return true
			}
			if !p.holds(n.L, j) {
				return false
			}
		}
		return false
	case Release:
		for j, step := i, 0; step < len(p.path); j, step = p.succ(j), step+1 {
			if j < 0 {
				// Ran off a loopless path with the obligation still open.
				return false
			}
			if !p.holds(n.R, j) {
				return false
			}
			if p.holds(n.L, j) {
				return true
			}
		}
		return p.loop >= 0
	default:
		return false
	}
}
