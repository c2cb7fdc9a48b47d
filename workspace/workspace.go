// Package workspace holds a named collection of qualitative networks and
// memoizes stability verdicts for them. It is the layer a host application
// talks to when it manages several models at once: add and remove models,
// derive knockouts, run proofs, and subscribe to change notifications.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hallba/qncheck/expr"
	"github.com/hallba/qncheck/internal/logging"
	"github.com/hallba/qncheck/internal/observability"
	"github.com/hallba/qncheck/prover"
	"github.com/hallba/qncheck/qn"
	"github.com/hallba/qncheck/result"
	"github.com/hallba/qncheck/sim"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrModelExists reports an attempt to register a model under a name
	// that is already taken.
	ErrModelExists = errors.New("model already exists")
	// ErrModelNotFound reports a lookup of a name with no registered model.
	ErrModelNotFound = errors.New("model not found")
)

// EventType indicates what kind of change happened in the workspace.
type EventType int

const (
	EventModelAdded EventType = iota
	EventModelRemoved
	EventAnalysisCompleted
)

// Event is emitted to subscribers when the workspace changes or an
// analysis finishes. Verdict is meaningful only for
// EventAnalysisCompleted.
type Event struct {
	Type    EventType
	Model   string
	Verdict result.Verdict
}

// MetricsRecorder receives gauge updates whenever the workspace mutates.
// The observability collector satisfies it.
type MetricsRecorder interface {
	SetWorkspaceCounts(models, cachedResults int)
}

type entry struct {
	net    *qn.Network
	cached map[sim.Discipline]result.Stability
}

// Workspace is an in-memory, thread-safe store of named networks with a
// per-discipline cache of stability results.
type Workspace struct {
	mu      sync.RWMutex
	entries map[string]*entry
	subs    []func(Event)

	log       logging.Logger
	metrics   MetricsRecorder
	checkOpts []prover.Option
}

// Option customises a Workspace.
type Option func(*Workspace)

// WithLogger attaches a structured logger to workspace operations.
func WithLogger(l logging.Logger) Option {
	return func(w *Workspace) {
		if l != nil {
			w.log = l
		}
	}
}

// WithMetrics wires a recorder for the model and cached-result gauges.
func WithMetrics(m MetricsRecorder) Option {
	return func(w *Workspace) { w.metrics = m }
}

// WithCheckOptions sets prover options applied to every stability check
// the workspace runs, such as budgets or worker counts.
func WithCheckOptions(opts ...prover.Option) Option {
	return func(w *Workspace) { w.checkOpts = opts }
}

// New constructs an empty workspace.
func New(opts ...Option) *Workspace {
	w := &Workspace{
		entries: make(map[string]*entry),
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AddModel registers a network under name. It returns ErrModelExists if
// the name is already taken.
func (w *Workspace) AddModel(name string, n *qn.Network) error {
	if n == nil {
		return prover.ErrNilNetwork
	}

	w.mu.Lock()
	if _, exists := w.entries[name]; exists {
		w.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrModelExists, name)
	}
	w.entries[name] = &entry{
		net:    n,
		cached: make(map[sim.Discipline]result.Stability),
	}
	w.recordCountsLocked()
	subs := w.snapshotSubsLocked()
	w.mu.Unlock()

	w.log.Info(context.Background(), "model added",
		logging.String("model", name),
		logging.Int("variables", n.Size()))
	notify(subs, Event{Type: EventModelAdded, Model: name})
	return nil
}

// Model returns the network registered under name.
func (w *Workspace) Model(name string) (*qn.Network, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ent, ok := w.entries[name]
	if !ok {
		return nil, false
	}
	return ent.net, true
}

// Names lists the registered model names in sorted order.
func (w *Workspace) Names() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.entries))
	for name := range w.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoveModel deletes a model and its cached results. It returns
// ErrModelNotFound if no model has that name.
func (w *Workspace) RemoveModel(name string) error {
	w.mu.Lock()
	if _, ok := w.entries[name]; !ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	delete(w.entries, name)
	w.recordCountsLocked()
	subs := w.snapshotSubsLocked()
	w.mu.Unlock()

	w.log.Info(context.Background(), "model removed", logging.String("model", name))
	notify(subs, Event{Type: EventModelRemoved, Model: name})
	return nil
}

// Clear removes every model. It does not emit per-model events.
func (w *Workspace) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = make(map[string]*entry)
	w.recordCountsLocked()
}

// Knockout derives a copy of model src with variable id pinned to
// formula (nil pins it to zero), registers the copy under derived, and
// returns it. The source model is left untouched.
func (w *Workspace) Knockout(src string, id int, formula expr.Expr, derived string) (*qn.Network, error) {
	w.mu.RLock()
	ent, ok := w.entries[src]
	var net *qn.Network
	if ok {
		net = ent.net
	}
	w.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, src)
	}

	ko, err := net.Knockout(id, formula)
	if err != nil {
		return nil, fmt.Errorf("knockout from %q: %w", src, err)
	}
	if err := w.AddModel(derived, ko); err != nil {
		return nil, err
	}
	return ko, nil
}

// CheckStability proves or refutes stabilization of the named model
// under the given update discipline. Conclusive verdicts are cached per
// discipline, so repeated calls return the stored result; Inconclusive
// verdicts are recomputed on every call. Concurrent checks of the same
// model may race to fill the cache, in which case the last write wins.
// Callers must treat the returned result as read-only.
func (w *Workspace) CheckStability(ctx context.Context, name string, d sim.Discipline) (result.Stability, error) {
	w.mu.RLock()
	ent, ok := w.entries[name]
	if !ok {
		w.mu.RUnlock()
		return result.Stability{}, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	if res, hit := ent.cached[d]; hit {
		w.mu.RUnlock()
		w.log.Debug(ctx, "stability result served from cache",
			logging.String("model", name),
			logging.String("discipline", d.String()))
		return res, nil
	}
	net := ent.net
	w.mu.RUnlock()

	opts := append([]prover.Option{prover.WithLogger(w.log)}, w.checkOpts...)
	res, err := prover.CheckStability(ctx, net, d, opts...)
	if err != nil {
		return result.Stability{}, fmt.Errorf("check %q: %w", name, err)
	}

	w.mu.Lock()
	// Skip the write-back if the model was removed or replaced while the
	// proof ran.
	if ent, ok := w.entries[name]; ok && ent.net == net && res.Verdict != result.Inconclusive {
		ent.cached[d] = res
	}
	w.recordCountsLocked()
	subs := w.snapshotSubsLocked()
	w.mu.Unlock()

	notify(subs, Event{Type: EventAnalysisCompleted, Model: name, Verdict: res.Verdict})
	return res, nil
}

// CachedResult returns the stored verdict for a model and discipline, if
// one exists.
func (w *Workspace) CachedResult(name string, d sim.Discipline) (result.Stability, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ent, ok := w.entries[name]
	if !ok {
		return result.Stability{}, false
	}
	res, hit := ent.cached[d]
	return res, hit
}

// Invalidate drops the cached results of a model, forcing the next
// CheckStability call to recompute. The model itself stays registered.
func (w *Workspace) Invalidate(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ent, ok := w.entries[name]
	if !ok {
		return
	}
	ent.cached = make(map[sim.Discipline]result.Stability)
	w.recordCountsLocked()
}

// Comparison pairs the verdicts of a model and one of its knockouts.
type Comparison struct {
	Baseline  result.Stability
	Perturbed result.Stability
}

// CompareKnockout proves the named model and a transient knockout of it
// side by side and returns both verdicts. The perturbed network is not
// registered in the workspace; the baseline check goes through the
// cache like any other.
func (w *Workspace) CompareKnockout(ctx context.Context, name string, id int, formula expr.Expr, d sim.Discipline) (Comparison, error) {
	w.mu.RLock()
	ent, ok := w.entries[name]
	var net *qn.Network
	if ok {
		net = ent.net
	}
	w.mu.RUnlock()
	if !ok {
		return Comparison{}, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}

	perturbed, err := net.Knockout(id, formula)
	if err != nil {
		return Comparison{}, fmt.Errorf("compare %q: %w", name, err)
	}

	ctx, span := observability.StartAnalysisSpan(ctx, "workspace.CompareKnockout", name,
		attribute.Int("variable", id),
	)
	defer span.End()

	var (
		cmp     Comparison
		baseErr error
		koErr   error
		wg      sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		cmp.Baseline, baseErr = w.CheckStability(ctx, name, d)
	}()
	go func() {
		defer wg.Done()
		opts := append([]prover.Option{prover.WithLogger(w.log)}, w.checkOpts...)
		cmp.Perturbed, koErr = prover.CheckStability(ctx, perturbed, d, opts...)
	}()
	wg.Wait()

	if baseErr != nil {
		return Comparison{}, fmt.Errorf("baseline %q: %w", name, baseErr)
	}
	if koErr != nil {
		return Comparison{}, fmt.Errorf("knockout of var %d in %q: %w", id, name, koErr)
	}
	return cmp, nil
}

// Subscribe registers fn to be called on every workspace event. The
// returned function removes the subscription; calling it more than once
// is harmless. Subscribers run synchronously on the goroutine that
// triggered the event and must not call back into the workspace.
func (w *Workspace) Subscribe(fn func(Event)) (unsubscribe func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.subs = append(w.subs, fn)
	idx := len(w.subs) - 1
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if idx >= 0 {
			w.subs[idx] = nil
			idx = -1
		}
	}
}

// snapshotSubsLocked copies the live subscribers so they can be notified
// outside the lock. Callers must hold mu.
func (w *Workspace) snapshotSubsLocked() []func(Event) {
	if len(w.subs) == 0 {
		return nil
	}
	subs := make([]func(Event), 0, len(w.subs))
	for _, fn := range w.subs {
		if fn != nil {
			subs = append(subs, fn)
		}
	}
	return subs
}

// notify runs outside the lock to avoid deadlocks with subscribers that
// take their own locks.
func notify(subs []func(Event), e Event) {
	for _, fn := range subs {
		fn(e)
	}
}

// recordCountsLocked pushes the current gauge values. Callers must hold
// mu.
func (w *Workspace) recordCountsLocked() {
	if w.metrics == nil {
		return
	}
	cached := 0
	for _, ent := range w.entries {
		cached += len(ent.cached)
	}
	w.metrics.SetWorkspaceCounts(len(w.entries), cached)
}
