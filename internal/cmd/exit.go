package cmd

import (
	"context"
	"errors"

	"github.com/harrison/autocoder/internal/models"
	"github.com/harrison/autocoder/internal/orchestrator"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitUsage       = 1
	ExitPlanning    = 2
	ExitExecution   = 3
	ExitPersistence = 4
	ExitInterrupted = 130
)

// ExitCode maps an error returned by the root command to a process exit code.
func ExitCode(err error) int {
	var incomplete *orchestrator.IncompleteError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, orchestrator.ErrInterrupted), errors.Is(err, context.Canceled):
		return ExitInterrupted
	case models.IsPersistenceError(err):
		return ExitPersistence
	case models.IsPlanningError(err):
		return ExitPlanning
	case models.IsTimeoutError(err), models.IsGitError(err), models.IsExecutionError(err),
		models.IsTestFailure(err), errors.As(err, &incomplete):
		return ExitExecution
	default:
		return ExitUsage
	}
}
