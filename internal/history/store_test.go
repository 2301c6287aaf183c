package history

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autocoder/internal/models"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func failing(id string, attempt int, logs string) (*models.SubTask, *models.TaskResult) {
	task := &models.SubTask{ID: id, AttemptCount: attempt}
	return task, &models.TaskResult{
		TaskID:   id,
		Status:   models.OutcomeTestFailure,
		Logs:     logs,
		ExitCode: 1,
		Err:      errors.New("tests failed"),
		Edits:    []string{"a.go"},
		Duration: 1500 * time.Millisecond,
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", DefaultFileName)
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
	assert.Equal(t, path, s.Path())
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	s, err := Open(path)
	require.NoError(t, err)
	task, res := failing("1", 1, "boom")
	_, err = s.RecordAttempt(context.Background(), "run-a", task, res)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	last, err := s.LastAttempt(context.Background(), "1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "boom", last.Logs)
}

func TestRecordAndReadAttempts(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	task, res := failing("2", 1, "FAIL at line 10")
	a, err := s.RecordAttempt(ctx, "run-1", task, res)
	require.NoError(t, err)
	assert.NotZero(t, a.ID)
	assert.Equal(t, res.Signature(), a.Signature)

	task.AttemptCount = 2
	_, err = s.RecordAttempt(ctx, "run-1", task, &models.TaskResult{Status: models.OutcomePassed, Duration: time.Second})
	require.NoError(t, err)

	attempts, err := s.Attempts(ctx, "2")
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	first := attempts[0]
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, models.OutcomeTestFailure, first.Outcome)
	assert.Equal(t, 1, first.ExitCode)
	assert.Equal(t, "tests failed", first.Error)
	assert.Equal(t, []string{"a.go"}, first.Edits)
	assert.Equal(t, 1500*time.Millisecond, first.Duration)
	assert.False(t, first.Passed())

	last, err := s.LastAttempt(ctx, "2")
	require.NoError(t, err)
	assert.True(t, last.Passed())
	assert.Equal(t, 2, last.Number)
	assert.Empty(t, last.Signature)
	assert.Nil(t, last.Edits)
}

func TestLastAttemptUnknownTask(t *testing.T) {
	s := openMemory(t)
	last, err := s.LastAttempt(context.Background(), "9")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestSignaturesMatchAcrossAttempts(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		task, res := failing("3", i, "panic at 0xc000012345 after 12ms")
		_, err := s.RecordAttempt(ctx, "run", task, res)
		require.NoError(t, err)
	}
	attempts, err := s.Attempts(ctx, "3")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, attempts[0].Signature, attempts[1].Signature)
}

func TestLogsAreTruncatedToTail(t *testing.T) {
	s := openMemory(t)
	logs := strings.Repeat("x", MaxLogBytes) + "THE END"
	task, res := failing("1", 1, logs)
	a, err := s.RecordAttempt(context.Background(), "run", task, res)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.Logs, "...[truncated]\n"))
	assert.True(t, strings.HasSuffix(a.Logs, "THE END"))
}

func TestRunLifecycle(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.StartRun(ctx, "run-7", "build a calculator"))
	r, err := s.GetRun(ctx, "run-7")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "build a calculator", r.Requirement)
	assert.True(t, r.FinishedAt.IsZero())

	task, res := failing("1", 1, "x")
	_, err = s.RecordAttempt(ctx, "run-7", task, res)
	require.NoError(t, err)

	require.NoError(t, s.FinishRun(ctx, models.RunSummary{
		RunID:       "run-7",
		Completed:   2,
		FailedTasks: []string{"2"},
		Executions:  5,
		Commits:     2,
		Interrupted: true,
	}))
	r, err = s.GetRun(ctx, "run-7")
	require.NoError(t, err)
	assert.False(t, r.FinishedAt.IsZero())
	assert.Equal(t, 2, r.Completed)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 5, r.Executions)
	assert.True(t, r.Interrupted)

	attempts, err := s.RunAttempts(ctx, "run-7")
	require.NoError(t, err)
	assert.Len(t, attempts, 1)

	assert.Error(t, s.FinishRun(ctx, models.RunSummary{RunID: "missing"}))
	missing, err := s.GetRun(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecordAttemptRejectsNil(t *testing.T) {
	s := openMemory(t)
	_, err := s.RecordAttempt(context.Background(), "run", nil, &models.TaskResult{})
	assert.Error(t, err)
}
