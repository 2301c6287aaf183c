package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autocoder/internal/models"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveAttempt(&models.TaskResult{Status: models.OutcomePassed, Duration: 2 * time.Second})
	m.ObserveAttempt(&models.TaskResult{Status: models.OutcomeTestFailure, Duration: time.Second})
	m.ObserveAttempt(&models.TaskResult{Status: models.OutcomeTestFailure, Duration: time.Second})
	m.ObserveAction(models.Retry("again"))
	m.ObserveAction(models.Escalate("give up"))
	m.IncCommits()

	g := models.NewTaskGraph("req")
	g.Tasks = []*models.SubTask{
		{ID: "1", Status: models.StatusCompleted},
		{ID: "2", Status: models.StatusFailed},
		{ID: "3", Status: models.StatusPending},
		{ID: "4", Status: models.StatusPending},
	}
	m.ObserveGraph(g)
	m.ObserveRun(models.RunSummary{TotalTasks: 4, Completed: 1, Duration: 90 * time.Second}, time.Unix(1700000000, 0))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("passed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("test_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("escalate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasks.WithLabelValues("pending")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.tasks.WithLabelValues("in_progress")))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.runDuration))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runSucceeded))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.lastRun))
}

func TestWriteFile(t *testing.T) {
	m := New()
	m.IncCommits()
	m.ObserveRun(models.RunSummary{TotalTasks: 1, Completed: 1}, time.Now())

	path := filepath.Join(t.TempDir(), "state", "metrics.prom")
	require.NoError(t, m.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "autocoder_commits_total 1")
	assert.Contains(t, string(data), "autocoder_run_succeeded 1")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAttempt(&models.TaskResult{})
	m.ObserveAction(models.Retry("x"))
	m.IncCommits()
	m.ObserveGraph(models.NewTaskGraph("x"))
	m.ObserveRun(models.RunSummary{}, time.Now())
	assert.NoError(t, m.WriteFile("/nonexistent/metrics.prom"))
}
