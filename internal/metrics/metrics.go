// Package metrics keeps per-run Prometheus collectors and writes them as a
// node_exporter textfile when the run ends.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harrison/autocoder/internal/models"
)

const namespace = "autocoder"

// Metrics exposes Prometheus collectors that report orchestrator activity.
type Metrics struct {
	registry        *prometheus.Registry
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	actions         *prometheus.CounterVec
	commits         prometheus.Counter
	tasks           *prometheus.GaugeVec
	runDuration     prometheus.Gauge
	runSucceeded    prometheus.Gauge
	lastRun         prometheus.Gauge
}

// New registers the collectors with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_attempts_total",
			Help:      "Task attempts by outcome.",
		}, []string{"outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_attempt_duration_seconds",
			Help:      "Wall time of task attempts by outcome.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refiner_actions_total",
			Help:      "Refiner decisions by action.",
		}, []string{"action"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commits created for completed tasks.",
		}),
		tasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Tasks in the graph by status.",
		}, []string{"status"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		runSucceeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_succeeded",
			Help:      "1 when every task of the last run completed.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	m.registry.MustRegister(m.attempts, m.attemptDuration, m.actions, m.commits,
		m.tasks, m.runDuration, m.runSucceeded, m.lastRun)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAttempt records one executor result.
func (m *Metrics) ObserveAttempt(r *models.TaskResult) {
	if m == nil || r == nil {
		return
	}
	m.attempts.WithLabelValues(string(r.Status)).Inc()
	m.attemptDuration.WithLabelValues(string(r.Status)).Observe(r.Duration.Seconds())
}

// ObserveAction records a refiner decision.
func (m *Metrics) ObserveAction(a models.Action) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(a.Kind.String()).Inc()
}

// IncCommits counts a created commit.
func (m *Metrics) IncCommits() {
	if m == nil {
		return
	}
	m.commits.Inc()
}

// ObserveGraph sets the per-status task gauges.
func (m *Metrics) ObserveGraph(g *models.TaskGraph) {
	if m == nil || g == nil {
		return
	}
	counts := g.Counts()
	for _, s := range []models.Status{models.StatusPending, models.StatusInProgress, models.StatusCompleted, models.StatusFailed} {
		m.tasks.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// ObserveRun records the run summary.
func (m *Metrics) ObserveRun(s models.RunSummary, finished time.Time) {
	if m == nil {
		return
	}
	m.runDuration.Set(s.Duration.Seconds())
	if s.Succeeded() {
		m.runSucceeded.Set(1)
	} else {
		m.runSucceeded.Set(0)
	}
	m.lastRun.Set(float64(finished.Unix()))
}

// WriteFile writes the registry in the text exposition format. The file is
// replaced atomically.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
