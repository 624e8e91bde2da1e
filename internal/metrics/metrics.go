// Package metrics exposes Prometheus collectors for probe runs.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JakeFAU/execution-probe/internal/probe"
)

// Recorder owns a private registry so a run can be exported as a
// node-exporter textfile without global state. It implements probe.Observer.
type Recorder struct {
	registry *prometheus.Registry

	attemptsTotal    *prometheus.CounterVec
	endpointsTotal   *prometheus.CounterVec
	authUpgrades     prometheus.Counter
	graphqlTotal     *prometheus.CounterVec
	normalizedTotal  *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	lastRunTimestamp prometheus.Gauge
}

var _ probe.Observer = (*Recorder)(nil)

// New registers the probe collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probe_attempts_total",
				Help: "Total endpoint attempts, labeled by endpoint and classified result.",
			},
			[]string{"endpoint", "result"},
		),
		endpointsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probe_endpoints_total",
				Help: "Total endpoints probed, labeled by final outcome.",
			},
			[]string{"result"},
		),
		authUpgrades: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "probe_auth_upgrades_total",
				Help: "Times the secondary auth header was added after a 401.",
			},
		),
		graphqlTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probe_graphql_fallback_total",
				Help: "GraphQL fallback probes, labeled by result.",
			},
			[]string{"result"},
		),
		normalizedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probe_normalized_source_total",
				Help: "Runs normalized, labeled by the winning source (none when nothing was usable).",
			},
			[]string{"source"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probe_runs_total",
				Help: "Completed runs, labeled by exit code.",
			},
			[]string{"exit_code"},
		),
		lastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "probe_last_run_timestamp_seconds",
				Help: "Unix time the last run finished.",
			},
		),
	}
}

// ObserveAttempt implements probe.Observer.
func (r *Recorder) ObserveAttempt(endpoint, result string) {
	r.attemptsTotal.WithLabelValues(endpoint, result).Inc()
}

// ObserveEndpoint implements probe.Observer.
func (r *Recorder) ObserveEndpoint(kind probe.OutcomeKind) {
	r.endpointsTotal.WithLabelValues(string(kind)).Inc()
}

// ObserveAuthUpgrade implements probe.Observer.
func (r *Recorder) ObserveAuthUpgrade() {
	r.authUpgrades.Inc()
}

// ObserveGraphQL implements probe.Observer.
func (r *Recorder) ObserveGraphQL(result string) {
	r.graphqlTotal.WithLabelValues(result).Inc()
}

// ObserveNormalized records the source the tree came from; empty means none.
func (r *Recorder) ObserveNormalized(source string) {
	if source == "" {
		source = "none"
	}
	r.normalizedTotal.WithLabelValues(source).Inc()
}

// ObserveRun records the exit code and finish time of a run.
func (r *Recorder) ObserveRun(exitCode int, finishedUnix float64) {
	r.runsTotal.WithLabelValues(fmt.Sprintf("%d", exitCode)).Inc()
	r.lastRunTimestamp.Set(finishedUnix)
}

// Gatherer exposes the registry, e.g. for promhttp or testutil.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes all collectors in the text exposition format. The
// file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
