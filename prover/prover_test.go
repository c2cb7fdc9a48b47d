package prover

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hallba/qncheck/expr"
	"github.com/hallba/qncheck/interval"
	"github.com/hallba/qncheck/qn"
	"github.com/hallba/qncheck/result"
	"github.com/hallba/qncheck/sim"
)

func mustNetwork(t *testing.T, name string, vars []qn.Variable, rels []qn.Relationship) *qn.Network {
	t.Helper()
	n, err := qn.New(name, vars, rels)
	if err != nil {
		t.Fatalf("New(%s): %v", name, err)
	}
	return n
}

// constantNet pins its only variable to 1, the simplest stabilizing
// network: tightening collapses the range without any search.
func constantNet(t *testing.T) *qn.Network {
	t.Helper()
	return mustNetwork(t, "constant", []qn.Variable{
		{ID: 0, Name: "gene", Range: interval.New(0, 1), Formula: expr.Const{Value: 1}},
	}, nil)
}

// selfInhibitor is the canonical oscillator: v0 updates to 1 - v0, so no
// state is ever stable and every execution alternates forever.
func selfInhibitor(t *testing.T) *qn.Network {
	t.Helper()
	return mustNetwork(t, "self-inhibitor", []qn.Variable{
		{ID: 0, Name: "osc", Range: interval.New(0, 1), Formula: expr.Binary{
			Op: expr.OpSub,
			X:  expr.Const{Value: 1},
			Y:  expr.Var{ID: 0},
		}},
	}, []qn.Relationship{
		{ID: 1, From: 0, To: 0, Polarity: qn.PolarityInhibitor},
	})
}

// settleChain needs two rounds of propagation: the driver settles to 1
// first and the follower copies it one round later.
func settleChain(t *testing.T) *qn.Network {
	t.Helper()
	return mustNetwork(t, "settle-chain", []qn.Variable{
		{ID: 0, Name: "follower", Range: interval.New(0, 1), Formula: expr.Var{ID: 1}},
		{ID: 1, Name: "driver", Range: interval.New(0, 1), Formula: expr.Const{Value: 1}},
	}, []qn.Relationship{
		{ID: 2, From: 1, To: 0, Polarity: qn.PolarityActivator},
	})
}

// threeChain is a three-stage pipeline that tightens one variable per
// round, useful for exercising round budgets and history shape.
func threeChain(t *testing.T) *qn.Network {
	t.Helper()
	return mustNetwork(t, "three-chain", []qn.Variable{
		{ID: 0, Name: "head", Range: interval.New(0, 3), Formula: expr.Const{Value: 3}},
		{ID: 1, Name: "mid", Range: interval.New(0, 3), Formula: expr.Var{ID: 0}},
		{ID: 2, Name: "tail", Range: interval.New(0, 3), Formula: expr.Var{ID: 1}},
	}, nil)
}

func TestCheckStabilityNilNetwork(t *testing.T) {
	_, err := CheckStability(context.Background(), nil, sim.Synchronous)
	if !errors.Is(err, ErrNilNetwork) {
		t.Fatalf("error = %v, want ErrNilNetwork", err)
	}
}

func TestConstantNetworkStabilizesUnderBothDisciplines(t *testing.T) {
	n := constantNet(t)
	for _, d := range []sim.Discipline{sim.Synchronous, sim.Asynchronous} {
		t.Run(d.String(), func(t *testing.T) {
			res, err := CheckStability(context.Background(), n, d)
			if err != nil {
				t.Fatalf("CheckStability: %v", err)
			}
			if res.Verdict != result.Stabilizing {
				t.Fatalf("Verdict = %s, want Stabilizing (reason %q)", res.Verdict, res.Reason)
			}
			if got := res.FinalState[0]; got != 1 {
				t.Fatalf("FinalState[0] = %d, want 1", got)
			}
			if res.Counterexample != nil {
				t.Fatalf("Counterexample = %+v, want nil", res.Counterexample)
			}
			if res.StatesExplored != 0 {
				t.Fatalf("StatesExplored = %d, want 0: the proof needs no search", res.StatesExplored)
			}
		})
	}
}

func TestKnockoutRescuesOscillator(t *testing.T) {
	n := selfInhibitor(t)

	res, err := CheckStability(context.Background(), n, sim.Asynchronous)
	if err != nil {
		t.Fatalf("CheckStability(original): %v", err)
	}
	if res.Verdict != result.NotStabilizing || res.Counterexample == nil {
		t.Fatalf("original verdict = %s, cex = %v; want NotStabilizing with a witness", res.Verdict, res.Counterexample)
	}
	if res.Counterexample.Kind != result.CexCycle {
		t.Fatalf("original witness kind = %s, want Cycle", res.Counterexample.Kind)
	}

	ko, err := n.Knockout(0, nil)
	if err != nil {
		t.Fatalf("Knockout: %v", err)
	}
	kres, err := CheckStability(context.Background(), ko, sim.Asynchronous)
	if err != nil {
		t.Fatalf("CheckStability(knockout): %v", err)
	}
	if kres.Verdict != result.Stabilizing {
		t.Fatalf("knockout verdict = %s, want Stabilizing (reason %q)", kres.Verdict, kres.Reason)
	}
	if got := kres.FinalState[0]; got != 0 {
		t.Fatalf("knockout FinalState[0] = %d, want 0", got)
	}

	// The original network is untouched by the knockout.
	f, ok := n.FormulaOf(0)
	if !ok || f.String() != "(1 - var(0))" {
		t.Fatalf("original formula = %v, %v; want (1 - var(0))", f, ok)
	}
	again, err := CheckStability(context.Background(), n, sim.Asynchronous)
	if err != nil {
		t.Fatalf("CheckStability(original, again): %v", err)
	}
	if again.Verdict != result.NotStabilizing {
		t.Fatalf("original re-check verdict = %s, want NotStabilizing", again.Verdict)
	}
}

func TestCanceledContextInconclusive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := CheckStability(ctx, selfInhibitor(t), sim.Asynchronous)
	if err != nil {
		t.Fatalf("CheckStability: %v; cancellation is a verdict, not an error", err)
	}
	if res.Verdict != result.Inconclusive {
		t.Fatalf("Verdict = %s, want Inconclusive", res.Verdict)
	}
	if res.Reason != "canceled during range tightening" {
		t.Fatalf("Reason = %q, want canceled during range tightening", res.Reason)
	}
	if res.Rounds != 0 || len(res.History) != 1 {
		t.Fatalf("Rounds = %d, History len %d; want 0 rounds and only the declared ranges", res.Rounds, len(res.History))
	}
}

func TestExpiredDeadlineInconclusive(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Hour))
	defer cancel()

	res, err := CheckStability(ctx, selfInhibitor(t), sim.Synchronous)
	if err != nil {
		t.Fatalf("CheckStability: %v", err)
	}
	if res.Verdict != result.Inconclusive {
		t.Fatalf("Verdict = %s, want Inconclusive", res.Verdict)
	}
	if res.Reason != "deadline exceeded during range tightening" {
		t.Fatalf("Reason = %q, want deadline exceeded during range tightening", res.Reason)
	}
}

func TestRoundBudgetInconclusive(t *testing.T) {
	res, err := CheckStability(context.Background(), threeChain(t), sim.Synchronous,
		WithBudget(Budget{MaxRounds: 1, MaxStates: 10}),
	)
	if err != nil {
		t.Fatalf("CheckStability: %v", err)
	}
	if res.Verdict != result.Inconclusive {
		t.Fatalf("Verdict = %s, want Inconclusive", res.Verdict)
	}
	if res.Reason != "tightening round budget exhausted" {
		t.Fatalf("Reason = %q", res.Reason)
	}
	if res.Rounds != 1 {
		t.Fatalf("Rounds = %d, want 1", res.Rounds)
	}
	if len(res.History) != 2 {
		t.Fatalf("History len = %d, want 2: declared ranges plus one narrowed round", len(res.History))
	}
	if res.Counterexample != nil {
		t.Fatalf("Counterexample = %+v, want nil under an Inconclusive verdict", res.Counterexample)
	}
}

func TestStateBudgetInconclusive(t *testing.T) {
	res, err := CheckStability(context.Background(), selfInhibitor(t), sim.Asynchronous,
		WithBudget(Budget{MaxRounds: 100, MaxStates: 1}),
	)
	if err != nil {
		t.Fatalf("CheckStability: %v", err)
	}
	if res.Verdict != result.Inconclusive {
		t.Fatalf("Verdict = %s, want Inconclusive", res.Verdict)
	}
	if !strings.Contains(res.Reason, "state budget") {
		t.Fatalf("Reason = %q, want a state budget explanation", res.Reason)
	}
	if res.StatesExplored != 1 {
		t.Fatalf("StatesExplored = %d, want exactly the budget", res.StatesExplored)
	}
}

func TestNonPositiveBudgetFallsBackToDefaults(t *testing.T) {
	res, err := CheckStability(context.Background(), settleChain(t), sim.Synchronous,
		WithBudget(Budget{MaxRounds: -5, MaxStates: 0}),
	)
	if err != nil {
		t.Fatalf("CheckStability: %v", err)
	}
	if res.Verdict != result.Stabilizing {
		t.Fatalf("Verdict = %s, want Stabilizing: non-positive budget fields mean defaults", res.Verdict)
	}
}

type recordingMetrics struct {
	mu         sync.Mutex
	checks     []string
	rounds     []int
	states     []int
	unsound    []int
	lastElapse time.Duration
}

func (m *recordingMetrics) ObserveCheck(discipline, verdict string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, discipline+"/"+verdict)
	m.lastElapse = d
}

func (m *recordingMetrics) ObserveTighteningRounds(rounds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, rounds)
}

func (m *recordingMetrics) AddStatesExplored(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, n)
}

func (m *recordingMetrics) AddUnsoundDivisions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsound = append(m.unsound, n)
}

func TestMetricsObserveEveryCheck(t *testing.T) {
	rec := &recordingMetrics{}
	res, err := CheckStability(context.Background(), constantNet(t), sim.Synchronous, WithMetrics(rec))
	if err != nil {
		t.Fatalf("CheckStability: %v", err)
	}
	if len(rec.checks) != 1 || rec.checks[0] != "synchronous/Stabilizing" {
		t.Fatalf("checks = %v, want one synchronous/Stabilizing observation", rec.checks)
	}
	if len(rec.rounds) != 1 || rec.rounds[0] != res.Rounds {
		t.Fatalf("rounds = %v, want [%d]", rec.rounds, res.Rounds)
	}
	if len(rec.states) != 1 || rec.states[0] != res.StatesExplored {
		t.Fatalf("states = %v, want [%d]", rec.states, res.StatesExplored)
	}
	if len(rec.unsound) != 1 || rec.unsound[0] != 0 {
		t.Fatalf("unsound = %v, want [0]", rec.unsound)
	}
	if rec.lastElapse < 0 {
		t.Fatalf("elapsed = %v, want non-negative", rec.lastElapse)
	}
}

func TestConcurrentChecksAreIndependent(t *testing.T) {
	stable := constantNet(t)
	unstable := selfInhibitor(t)

	const per = 4
	verdicts := make([]result.Verdict, 2*per)
	var wg sync.WaitGroup
	for i := 0; i < per; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			res, err := CheckStability(context.Background(), stable, sim.Synchronous, WithWorkers(2))
			if err != nil {
				t.Errorf("stable check: %v", err)
				return
			}
			verdicts[i] = res.Verdict
		}(i)
		go func(i int) {
			defer wg.Done()
			res, err := CheckStability(context.Background(), unstable, sim.Asynchronous, WithWorkers(2))
			if err != nil {
				t.Errorf("unstable check: %v", err)
				return
			}
			verdicts[per+i] = res.Verdict
		}(i)
	}
	wg.Wait()

	for i := 0; i < per; i++ {
		if verdicts[i] != result.Stabilizing {
			t.Errorf("stable run %d verdict = %s, want Stabilizing", i, verdicts[i])
		}
		if verdicts[per+i] != result.NotStabilizing {
			t.Errorf("unstable run %d verdict = %s, want NotStabilizing", i, verdicts[per+i])
		}
	}
}
