package refiner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autocoder/internal/history"
	"github.com/harrison/autocoder/internal/models"
)

type fakeBreakdown struct {
	specs []models.SubTaskSpec
	err   error
	calls int
}

func (f *fakeBreakdown) Breakdown(ctx context.Context, task *models.SubTask, reason, logs string) ([]models.SubTaskSpec, error) {
	f.calls++
	return f.specs, f.err
}

func twoChildren() []models.SubTaskSpec {
	return []models.SubTaskSpec{{Title: "first half"}, {Title: "second half"}}
}

func graphWith(t *testing.T, ids ...string) *models.TaskGraph {
	t.Helper()
	g := models.NewTaskGraph("req")
	for _, id := range ids {
		task, err := models.NewSubTask(id, "task "+id, "", "true", time.Unix(0, 0))
		require.NoError(t, err)
		g.Tasks = append(g.Tasks, task)
	}
	return g
}

func failed(status models.Outcome, logs string) *models.TaskResult {
	return &models.TaskResult{TaskID: "2", Status: status, Logs: logs, ExitCode: 1}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		ids       []string
		taskID    string
		attempts  int
		result    *models.TaskResult
		history   []*history.Attempt
		breakdown *fakeBreakdown
		want      models.ActionKind
		wantCalls int
	}{
		{
			name: "test failure with attempts left retries", ids: []string{"2"}, taskID: "2", attempts: 1,
			result: failed(models.OutcomeTestFailure, "FAIL"), breakdown: &fakeBreakdown{specs: twoChildren()},
			want: models.ActionRetry,
		},
		{
			name: "test failure at max decomposes", ids: []string{"2"}, taskID: "2", attempts: 3,
			result: failed(models.OutcomeTestFailure, "FAIL"), breakdown: &fakeBreakdown{specs: twoChildren()},
			want: models.ActionInsertSubtasks, wantCalls: 1,
		},
		{
			name: "test failure at max with empty breakdown escalates", ids: []string{"2"}, taskID: "2", attempts: 3,
			result: failed(models.OutcomeTestFailure, "FAIL"), breakdown: &fakeBreakdown{},
			want: models.ActionEscalate, wantCalls: 1,
		},
		{
			name: "test failure at max with breakdown error escalates", ids: []string{"2"}, taskID: "2", attempts: 3,
			result: failed(models.OutcomeTestFailure, "FAIL"), breakdown: &fakeBreakdown{err: errors.New("backend down")},
			want: models.ActionEscalate, wantCalls: 1,
		},
		{
			name: "already decomposed escalates", ids: []string{"2", "2-1"}, taskID: "2", attempts: 3,
			result: failed(models.OutcomeTestFailure, "FAIL"), breakdown: &fakeBreakdown{specs: twoChildren()},
			want: models.ActionEscalate,
		},
		{
			name: "depth limit escalates", ids: []string{"1", "1-1", "1-1-1", "1-1-1-1"}, taskID: "1-1-1-1", attempts: 3,
			result: failed(models.OutcomeTestFailure, "FAIL"), breakdown: &fakeBreakdown{specs: twoChildren()},
			want: models.ActionEscalate,
		},
		{
			name: "execution error first time retries", ids: []string{"2"}, taskID: "2", attempts: 1,
			result: failed(models.OutcomeExecutionError, "invalid edit response"), breakdown: &fakeBreakdown{specs: twoChildren()},
			want: models.ActionRetry,
		},
		{
			name: "repeated execution error decomposes", ids: []string{"2"}, taskID: "2", attempts: 2,
			result: failed(models.OutcomeExecutionError, "invalid edit response"),
			history: []*history.Attempt{
				{Number: 1, Outcome: models.OutcomeExecutionError, Signature: models.FailureSignature(models.OutcomeExecutionError, "invalid edit response")},
			},
			breakdown: &fakeBreakdown{specs: twoChildren()},
			want:      models.ActionInsertSubtasks, wantCalls: 1,
		},
		{
			name: "repeated execution error already recorded decomposes", ids: []string{"2"}, taskID: "2", attempts: 2,
			result: failed(models.OutcomeExecutionError, "apply failed at 12:01"),
			history: []*history.Attempt{
				{Number: 1, Signature: models.FailureSignature(models.OutcomeExecutionError, "apply failed at 11:59")},
				{Number: 2, Signature: models.FailureSignature(models.OutcomeExecutionError, "apply failed at 12:01")},
			},
			breakdown: &fakeBreakdown{specs: twoChildren()},
			want:      models.ActionInsertSubtasks, wantCalls: 1,
		},
		{
			name: "different execution errors retry", ids: []string{"2"}, taskID: "2", attempts: 2,
			result: failed(models.OutcomeExecutionError, "backend timeout"),
			history: []*history.Attempt{
				{Number: 1, Signature: models.FailureSignature(models.OutcomeExecutionError, "unsafe path")},
			},
			breakdown: &fakeBreakdown{specs: twoChildren()},
			want:      models.ActionRetry,
		},
		{
			name: "execution error at max decomposes", ids: []string{"2"}, taskID: "2", attempts: 3,
			result: failed(models.OutcomeExecutionError, "x"), breakdown: &fakeBreakdown{specs: twoChildren()},
			want: models.ActionInsertSubtasks, wantCalls: 1,
		},
		{
			name: "timeout escalates", ids: []string{"2"}, taskID: "2", attempts: 1,
			result: failed(models.OutcomeTimeout, ""), breakdown: &fakeBreakdown{specs: twoChildren()},
			want: models.ActionEscalate,
		},
		{
			name: "git error escalates", ids: []string{"2"}, taskID: "2", attempts: 1,
			result: failed(models.OutcomeGitError, ""), breakdown: &fakeBreakdown{specs: twoChildren()},
			want: models.ActionEscalate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graphWith(t, tt.ids...)
			task := g.Get(tt.taskID)
			require.NotNil(t, task)
			task.AttemptCount = tt.attempts

			r := New(tt.breakdown, 3, 4)
			action := r.Decide(context.Background(), g, task, tt.result, tt.history)

			assert.Equal(t, tt.want, action.Kind, "reason: %s", action.Reason)
			assert.NotEmpty(t, action.Reason)
			assert.Equal(t, tt.wantCalls, tt.breakdown.calls)
			if action.Kind == models.ActionInsertSubtasks {
				assert.Equal(t, twoChildren(), action.Subtasks)
			} else {
				assert.Empty(t, action.Subtasks)
			}
		})
	}
}

func TestDecideWithoutBreakdownEscalates(t *testing.T) {
	g := graphWith(t, "1")
	task := g.Get("1")
	task.AttemptCount = 3
	action := New(nil, 3, 4).Decide(context.Background(), g, task, failed(models.OutcomeTestFailure, "x"), nil)
	assert.Equal(t, models.ActionEscalate, action.Kind)
}
