package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AnalysisCollector bundles Prometheus metrics for the analysis engine and
// provides helpers to wire them into HTTP handlers and the workspace.
type AnalysisCollector struct {
	gatherer prometheus.Gatherer

	StabilityChecks *prometheus.CounterVec
	CheckDurations  *prometheus.HistogramVec

	TighteningRounds prometheus.Histogram
	StatesExplored   prometheus.Counter
	UnsoundDivisions prometheus.Counter

	WorkspaceModels        prometheus.Gauge
	WorkspaceCachedResults prometheus.Gauge
}

// NewAnalysisCollector registers analysis Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewAnalysisCollector(reg prometheus.Registerer) (*AnalysisCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stability_checks_total",
		Help: "Total number of completed stability checks, labeled by update discipline and verdict.",
	}, []string{"discipline", "verdict"})
	checks, err := registerCounterVec(reg, checks, "stability_checks_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stability_check_duration_seconds",
		Help:    "Stability check latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"discipline"})
	durations, err = registerHistogramVec(reg, durations, "stability_check_duration_seconds")
	if err != nil {
		return nil, err
	}

	rounds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "prover_tightening_rounds",
		Help:    "Range-tightening rounds executed per stability check.",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	rounds, err = registerHistogram(reg, rounds, "prover_tightening_rounds")
	if err != nil {
		return nil, err
	}

	states, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prover_states_explored_total",
		Help: "Cumulative number of concrete states visited during counterexample searches.",
	}), "prover_states_explored_total")
	if err != nil {
		return nil, err
	}

	unsound, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "range_unsound_divisions_total",
		Help: "Cumulative number of interval divisions whose divisor straddled zero and forced a widened quotient.",
	}), "range_unsound_divisions_total")
	if err != nil {
		return nil, err
	}

	models, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workspace_models",
		Help: "Current number of models held in the workspace.",
	}), "workspace_models")
	if err != nil {
		return nil, err
	}
	cached, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workspace_cached_results",
		Help: "Current number of memoized stability results held in the workspace.",
	}), "workspace_cached_results")
	if err != nil {
		return nil, err
	}

	return &AnalysisCollector{
		gatherer:               gatherer,
		StabilityChecks:        checks,
		CheckDurations:         durations,
		TighteningRounds:       rounds,
		StatesExplored:         states,
		UnsoundDivisions:       unsound,
		WorkspaceModels:        models,
		WorkspaceCachedResults: cached,
	}, nil
}

// ObserveCheck records one completed stability check.
func (c *AnalysisCollector) ObserveCheck(discipline, verdict string, d time.Duration) {
	if c == nil {
		return
	}
	if c.StabilityChecks != nil {
		c.StabilityChecks.WithLabelValues(discipline, verdict).Inc()
	}
	if c.CheckDurations != nil {
		c.CheckDurations.WithLabelValues(discipline).Observe(d.Seconds())
	}
}

// ObserveTighteningRounds records how many tightening rounds a check executed.
func (c *AnalysisCollector) ObserveTighteningRounds(rounds int) {
	if c == nil || c.TighteningRounds == nil {
		return
	}
	c.TighteningRounds.Observe(float64(rounds))
}

// AddStatesExplored adds to the cumulative explored-state counter.
func (c *AnalysisCollector) AddStatesExplored(n int) {
	if c == nil || c.StatesExplored == nil || n <= 0 {
		return
	}
	c.StatesExplored.Add(float64(n))
}

// AddUnsoundDivisions adds to the widened-division counter.
func (c *AnalysisCollector) AddUnsoundDivisions(n int) {
	if c == nil || c.UnsoundDivisions == nil || n <= 0 {
		return
	}
	c.UnsoundDivisions.Add(float64(n))
}

// SetWorkspaceCounts satisfies the workspace's MetricsRecorder interface so
// the Workspace can drive gauge values directly from its mutators.
func (c *AnalysisCollector) SetWorkspaceCounts(models, cachedResults int) {
	if c == nil {
		return
	}
	if c.WorkspaceModels != nil {
		c.WorkspaceModels.Set(float64(models))
	}
	if c.WorkspaceCachedResults != nil {
		c.WorkspaceCachedResults.Set(float64(cachedResults))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *AnalysisCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *AnalysisCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
