package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PlanningError reports a malformed or empty breakdown from the backend.
// It aborts the run before any task is persisted.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
	}
	return "planning failed: " + e.Reason
}

func (e *PlanningError) Unwrap() error { return e.Err }

// SchemaError reports an invalid task record or document.
type SchemaError struct {
	Field  string
	Value  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports a status change the state machine forbids.
type InvalidTransitionError struct {
	TaskID string
	From   Status
	To     Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("task %s: illegal transition %s -> %s", e.TaskID, e.From, e.To)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// ExecutionError reports a patch that could not be applied, a backend call
// that failed, or a test process that could not be spawned.
type ExecutionError struct {
	TaskID  string
	Message string
	Err     error
}

// NewExecutionError creates an ExecutionError for taskID.
func NewExecutionError(taskID, msg string, err error) *ExecutionError {
	return &ExecutionError{TaskID: taskID, Message: msg, Err: err}
}

func (e *ExecutionError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("task %s: %s", e.TaskID, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TestFailure reports a test command that exited nonzero.
type TestFailure struct {
	TaskID   string
	Command  string
	ExitCode int
	Logs     string
}

func (e *TestFailure) Error() string {
	return fmt.Sprintf("task %s: test command %q exited with code %d", e.TaskID, e.Command, e.ExitCode)
}

// TimeoutError reports a test command that exceeded its budget.
type TimeoutError struct {
	TaskID          string
	Command         string
	TimeoutDuration time.Duration
	Logs            string
	Timestamp       time.Time
}

// NewTimeoutError creates a TimeoutError stamped with the current time.
func NewTimeoutError(taskID, command string, d time.Duration) *TimeoutError {
	return &TimeoutError{TaskID: taskID, Command: command, TimeoutDuration: d, Timestamp: time.Now()}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s: test command %q timed out after %v", e.TaskID, e.Command, e.TimeoutDuration)
}

// Unwrap returns context.DeadlineExceeded so callers can use errors.Is.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// GitError reports a failed git operation. Transient errors (a stale
// index.lock) may succeed on a later run; the rest need the operator.
type GitError struct {
	Op        string
	Output    string
	Transient bool
	Err       error
}

func (e *GitError) Error() string {
	var sb strings.Builder
	sb.WriteString("git " + e.Op)
	if e.Transient {
		sb.WriteString(" (transient)")
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		sb.WriteString(": " + out)
	}
	return sb.String()
}

func (e *GitError) Unwrap() error { return e.Err }

// PersistenceError reports an unreadable, unwritable, or corrupt task store.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("task store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UnknownTaskError reports a reference to an id absent from the graph.
type UnknownTaskError struct {
	ID string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %q", e.ID)
}

// IsPlanningError checks if err is or wraps a PlanningError.
func IsPlanningError(err error) bool {
	var pe *PlanningError
	return errors.As(err, &pe)
}

// IsSchemaError checks if err is or wraps a SchemaError or InvalidTransitionError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	var te *InvalidTransitionError
	return errors.As(err, &se) || errors.As(err, &te)
}

// IsExecutionError checks if err is or wraps an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// IsTestFailure checks if err is or wraps a TestFailure.
func IsTestFailure(err error) bool {
	var tf *TestFailure
	return errors.As(err, &tf)
}

// IsTimeoutError checks if err is or wraps a TimeoutError.
func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsGitError checks if err is or wraps a GitError.
func IsGitError(err error) bool {
	var ge *GitError
	return errors.As(err, &ge)
}

// IsPersistenceError checks if err is or wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsUnknownTaskError checks if err is or wraps an UnknownTaskError.
func IsUnknownTaskError(err error) bool {
	var ue *UnknownTaskError
	return errors.As(err, &ue)
}
