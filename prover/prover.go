// Package prover decides whether a qualitative network stabilizes, meaning
// every execution reaches one unique fixpoint and stays there.
//
// A check runs in two phases. Range tightening repeatedly evaluates every
// formula over the current per-variable intervals and intersects the
// results with what is already known; when all ranges collapse to single
// values the network provably stabilizes. When ranges stay wide, a bounded
// concrete search over the residual state space looks for a witness
// refuting stabilization: a cycle, an end component, a stray fixpoint, or
// a bifurcation. Both phases respect an explicit budget, so a check always
// terminates with a verdict and reports Inconclusive rather than hanging.
package prover

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/hallba/qncheck/internal/logging"
	"github.com/hallba/qncheck/internal/observability"
	"github.com/hallba/qncheck/qn"
	"github.com/hallba/qncheck/result"
	"github.com/hallba/qncheck/sim"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNilNetwork is returned when a check is invoked without a network.
var ErrNilNetwork = errors.New("nil network")

// Metrics receives measurements from stability checks. The analysis
// collector in internal/observability satisfies it; a nil Metrics records
// nothing.
type Metrics interface {
	ObserveCheck(discipline, verdict string, d time.Duration)
	ObserveTighteningRounds(rounds int)
	AddStatesExplored(n int)
	AddUnsoundDivisions(n int)
}

// Budget bounds a stability check so it always terminates. Zero or
// negative fields fall back to the defaults.
type Budget struct {
	// MaxRounds caps the number of range-tightening rounds.
	MaxRounds int
	// MaxStates caps the number of concrete states the counterexample
	// search may visit.
	MaxStates int
	// Timeout bounds the whole check in wall-clock time; zero disables it.
	Timeout time.Duration
}

// DefaultBudget is sized for interactive use on small and mid-size
// networks. Callers analysing large asynchronous networks should raise
// MaxStates and set a Timeout instead of relying on the defaults.
func DefaultBudget() Budget {
	return Budget{MaxRounds: 10000, MaxStates: 1 << 18}
}

type config struct {
	budget   Budget
	log      logging.Logger
	metrics  Metrics
	workers  int
	progress func(result.HistoryPoint)
}

// Option customises a stability check.
type Option func(*config)

// WithBudget replaces the default search budget.
func WithBudget(b Budget) Option {
	return func(c *config) { c.budget = b }
}

// WithLogger attaches a structured logger. Checks log per-round progress
// at debug level and the verdict at info level.
func WithLogger(l logging.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics attaches a metrics sink for check outcomes.
func WithMetrics(m Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithWorkers sets how many goroutines evaluate formulas within one
// tightening round. Values below one fall back to GOMAXPROCS. Results are
// merged in ascending id order, so the worker count never changes the
// outcome.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithProgress registers a callback invoked after every tightening round
// that narrowed at least one range, with the same history point appended
// to the result. The callback runs on the checking goroutine.
func WithProgress(fn func(result.HistoryPoint)) Option {
	return func(c *config) { c.progress = fn }
}

func newConfig(opts []Option) config {
	c := config{
		budget:  DefaultBudget(),
		log:     logging.Noop(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	def := DefaultBudget()
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

// CheckStability proves or refutes convergence of the network to a single
// fixpoint under the given update discipline.
//
// The verdict is Stabilizing only when the proof covers every execution,
// NotStabilizing only when a concrete witness was found and attached as
// the Counterexample, and Inconclusive when the budget or deadline ran
// out first. Budget exhaustion is not an error: the returned Stability
// still carries the partial history and the search counters. Errors are
// reserved for broken inputs, such as a formula dividing by a constant
// zero.
func CheckStability(ctx context.Context, n *qn.Network, d sim.Discipline, opts ...Option) (result.Stability, error) {
	if n == nil {
		return result.Stability{}, ErrNilNetwork
	}
	cfg := newConfig(opts)
	ctx, log := logging.WithRunLogger(ctx, cfg.log)
	ctx, span := observability.StartAnalysisSpan(ctx, "prover.CheckStability", n.Name(),
		attribute.String("discipline", d.String()),
	)
	defer span.End()

	if cfg.budget.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.budget.Timeout)
		defer cancel()
	}

	start := time.Now()
	log.Info(ctx, "stability check started",
		logging.String("network", n.Name()),
		logging.String("discipline", d.String()),
		logging.Int("variables", n.Size()),
	)

	res, err := runCheck(ctx, n, d, cfg, log)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error(ctx, "stability check failed",
			logging.String("network", n.Name()),
			logging.String("error", err.Error()),
			logging.Duration("elapsed", elapsed),
		)
		return result.Stability{}, err
	}

	if cfg.metrics != nil {
		cfg.metrics.ObserveCheck(d.String(), res.Verdict.String(), elapsed)
		cfg.metrics.ObserveTighteningRounds(res.Rounds)
		cfg.metrics.AddStatesExplored(res.StatesExplored)
		cfg.metrics.AddUnsoundDivisions(len(res.Warnings))
	}
	span.SetAttributes(
		attribute.String("verdict", res.Verdict.String()),
		attribute.Int("rounds", res.Rounds),
		attribute.Int("states_explored", res.StatesExplored),
	)
	log.Info(ctx, "stability check finished",
		logging.String("network", n.Name()),
		logging.String("discipline", d.String()),
		logging.String("verdict", res.Verdict.String()),
		logging.Int("rounds", res.Rounds),
		logging.Int("states_explored", res.StatesExplored),
		logging.Duration("elapsed", elapsed),
	)
	return res, nil
}

func runCheck(ctx context.Context, n *qn.Network, d sim.Discipline, cfg config, log logging.Logger) (result.Stability, error) {
	tctx, tspan := observability.StartAnalysisSpan(ctx, "prover.tighten", n.Name())
	tight, err := tighten(tctx, n, cfg, log)
	tspan.SetAttributes(attribute.Int("rounds", tight.rounds))
	tspan.End()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			reason := "deadline exceeded during range tightening"
			if errors.Is(err, context.Canceled) {
				reason = "canceled during range tightening"
			}
			return result.Stability{
				Verdict:  result.Inconclusive,
				History:  tight.history,
				Rounds:   tight.rounds,
				Reason:   reason,
				Warnings: tight.warnings,
			}, nil
		}
		return result.Stability{}, err
	}
	if !tight.converged {
		return result.Stability{
			Verdict:  result.Inconclusive,
			History:  tight.history,
			Rounds:   tight.rounds,
			Reason:   "tightening round budget exhausted",
			Warnings: tight.warnings,
		}, nil
	}
	if fix, ok := singletonState(tight.ranges); ok {
		return result.Stability{
			Verdict:    result.Stabilizing,
			History:    tight.history,
			FinalState: fix,
			Rounds:     tight.rounds,
			Warnings:   tight.warnings,
		}, nil
	}

	log.Debug(ctx, "ranges not singleton after tightening; searching residual space",
		logging.Int("rounds", tight.rounds),
	)
	sctx, sspan := observability.StartAnalysisSpan(ctx, "prover.search", n.Name(),
		attribute.String("discipline", d.String()),
	)
	defer sspan.End()
	return searchResidual(sctx, n, d, tight, cfg)
}
