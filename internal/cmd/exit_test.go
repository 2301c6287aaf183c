package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/harrison/autocoder/internal/models"
	"github.com/harrison/autocoder/internal/orchestrator"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"usage", errors.New("a requirement is required"), ExitUsage},
		{"planning", &models.PlanningError{Reason: "invalid plan"}, ExitPlanning},
		{"wrapped planning", fmt.Errorf("plan: %w", &models.PlanningError{Reason: "x"}), ExitPlanning},
		{"timeout", models.NewTimeoutError("2", "go test", time.Minute), ExitExecution},
		{"git", &models.GitError{Op: "commit", Err: errors.New("hook failed")}, ExitExecution},
		{"incomplete", &orchestrator.IncompleteError{Failed: []string{"2"}}, ExitExecution},
		{"persistence", &models.PersistenceError{Path: "tasks.json", Op: "write", Err: errors.New("disk full")}, ExitPersistence},
		{"interrupted", orchestrator.ErrInterrupted, ExitInterrupted},
		{"cancelled", fmt.Errorf("plan: %w", context.Canceled), ExitInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
