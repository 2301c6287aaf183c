package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func TestNewSubTask(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		wantErr    bool
		wantParent string
	}{
		{name: "root", id: "1", wantParent: ""},
		{name: "child", id: "1-2", wantParent: "1"},
		{name: "grandchild", id: "3-1-4", wantParent: "3-1"},
		{name: "empty id", id: "", wantErr: true},
		{name: "alphabetic id", id: "a", wantErr: true},
		{name: "trailing hyphen", id: "1-", wantErr: true},
		{name: "double hyphen", id: "1--2", wantErr: true},
		{name: "dotted id", id: "1.2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := NewSubTask(tt.id, "title", "desc", "true", fixedNow)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsSchemaError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusPending, task.Status)
			assert.Equal(t, tt.wantParent, task.ParentID)
			assert.Equal(t, fixedNow, task.CreatedTime)
			assert.Equal(t, fixedNow, task.UpdatedTime)
			assert.Zero(t, task.AttemptCount)
		})
	}
}

func TestSubTaskValidateStatus(t *testing.T) {
	task, err := NewSubTask("1", "t", "d", "", fixedNow)
	require.NoError(t, err)

	task.Status = "done"
	err = task.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status")

	task.Status = StatusCompleted
	task.ParentID = "7"
	require.Error(t, task.Validate())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" in_progress ")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)

	_, err = ParseStatus("skipped")
	assert.True(t, IsSchemaError(err))
}

func TestRetryable(t *testing.T) {
	task := &SubTask{ID: "1", Status: StatusFailed, AttemptCount: 2}
	assert.True(t, task.Retryable(3))
	assert.False(t, task.IsTerminal(3))

	task.AttemptCount = 3
	assert.False(t, task.Retryable(3))
	assert.True(t, task.IsTerminal(3))

	task.AttemptCount = 1
	task.Escalated = true
	assert.False(t, task.Retryable(3))
	assert.True(t, task.IsTerminal(3))

	task.Status = StatusPending
	task.Escalated = false
	assert.False(t, task.Retryable(3))
	assert.False(t, task.IsTerminal(3))
}

func TestIDHelpers(t *testing.T) {
	assert.Equal(t, "", ParentID("4"))
	assert.Equal(t, "4-1", ParentID("4-1-9"))
	assert.Equal(t, 3, Depth("4-1-9"))
	assert.Equal(t, 0, Depth(""))
	assert.True(t, IsAncestor("1", "1-2"))
	assert.True(t, IsAncestor("1", "1-2-3"))
	assert.False(t, IsAncestor("1", "10-2"))
	assert.False(t, IsAncestor("1-2", "1-2"))
}
