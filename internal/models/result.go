package models

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Outcome classifies a single execution attempt.
type Outcome string

const (
	OutcomePassed         Outcome = "passed"
	OutcomeTestFailure    Outcome = "test_failure"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeExecutionError Outcome = "execution_error"
	OutcomeGitError       Outcome = "git_error"
)

// TaskResult is what the executor reports for one attempt at one task.
type TaskResult struct {
	TaskID   string        // Task that was run
	Status   Outcome       // Classification of the attempt
	Logs     string        // Combined test output, or the failure description
	ExitCode int           // Test command exit code, -1 when it never ran to completion
	Err      error         // Typed failure (TestFailure, TimeoutError, ExecutionError, GitError)
	Edits    []string      // Paths written or deleted by the applied patch
	Duration time.Duration // Wall time of the attempt

	// Revert restores the files the applied patch touched. Nil when no
	// patch landed.
	Revert func() error
}

// Passed reports whether the attempt succeeded.
func (r *TaskResult) Passed() bool {
	return r != nil && r.Status == OutcomePassed
}

var (
	digitRun   = regexp.MustCompile(`[0-9]+`)
	spaceRun   = regexp.MustCompile(`\s+`)
	hexAddress = regexp.MustCompile(`0x[0-9a-fA-F]+`)
)

// Signature fingerprints the failure so identical failures across attempts
// compare equal. Numbers are masked so timings and addresses don't differ.
func (r *TaskResult) Signature() string {
	if r == nil || r.Passed() {
		return ""
	}
	return FailureSignature(r.Status, r.Logs)
}

// FailureSignature hashes an outcome plus normalized logs.
func FailureSignature(outcome Outcome, logs string) string {
	norm := hexAddress.ReplaceAllString(logs, "0x")
	norm = digitRun.ReplaceAllString(norm, "N")
	norm = spaceRun.ReplaceAllString(strings.TrimSpace(norm), " ")
	sum := sha256.Sum256([]byte(string(outcome) + "\n" + norm))
	return hex.EncodeToString(sum[:8])
}

// RunSummary aggregates one orchestrator run.
type RunSummary struct {
	RunID       string        // Identifier stamped on history rows and logs
	TotalTasks  int           // Tasks in the graph at the end of the run
	Completed   int           // Tasks in completed status
	Pending     int           // Tasks still pending or retryable
	Executions  int           // Attempts started during this run
	Commits     int           // Commits created during this run
	FailedTasks []string      // Ids of tasks in terminal failed status
	ActiveTask  string        // Task in flight when the run stopped early
	StorePath   string        // Where the graph was last persisted
	Interrupted bool          // Operator cancelled the run
	Duration    time.Duration // Total wall time
}

// Succeeded reports whether every task completed.
func (s *RunSummary) Succeeded() bool {
	return s.TotalTasks > 0 && s.Completed == s.TotalTasks
}
