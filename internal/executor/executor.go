// Package executor runs a single task attempt: it gathers workspace context,
// asks the backend for edits, applies them, runs the task's test command and
// classifies what happened. It never commits and never changes task status.
package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/harrison/autocoder/internal/backend"
	"github.com/harrison/autocoder/internal/history"
	"github.com/harrison/autocoder/internal/models"
	"github.com/harrison/autocoder/internal/workspace"
)

// EditSource produces edits for a task. *backend.Client satisfies it.
type EditSource interface {
	Edits(ctx context.Context, in backend.CodeRequest) (*models.EditSet, error)
}

// ContextGatherer collects the workspace view for a task.
type ContextGatherer interface {
	Gather(ctx context.Context, task *models.SubTask) (*workspace.Context, error)
}

// EditApplier writes an edit set into the project.
type EditApplier interface {
	Apply(set *models.EditSet, snap *workspace.Snapshot) (*workspace.ApplyResult, error)
}

// AttemptHistory looks up the previous attempt of a task.
type AttemptHistory interface {
	LastAttempt(ctx context.Context, taskID string) (*history.Attempt, error)
}

// Logger receives executor diagnostics.
type Logger interface {
	LogDebug(message string)
	LogWarn(message string)
}

// previousLogLines bounds the prior attempt's output fed back to the backend.
const previousLogLines = 80

var errorPattern = regexp.MustCompile(`(?i)\b(error|errors|failed|failure|exception|panic)\b`)

// zeroCount lines like "0 failed" or "0 errors" are summaries, not problems.
var zeroCount = regexp.MustCompile(`(?i)\b0 (error|errors|failed|failures)\b`)

// Executor runs tasks against one project directory.
type Executor struct {
	Source      EditSource
	Gatherer    ContextGatherer
	Applier     EditApplier
	Runner      CommandRunner
	History     AttemptHistory // optional
	Logger      Logger         // optional
	TestTimeout time.Duration

	now func() time.Time
}

// New creates an Executor with the shell runner.
func New(source EditSource, gatherer ContextGatherer, applier EditApplier, testTimeout time.Duration) *Executor {
	return &Executor{
		Source:      source,
		Gatherer:    gatherer,
		Applier:     applier,
		Runner:      NewShellCommandRunner(),
		TestTimeout: testTimeout,
		now:         time.Now,
	}
}

// Run executes one attempt at task in projectDir. The returned result is
// never nil; failures are carried in its Status and Err.
func (e *Executor) Run(ctx context.Context, task *models.SubTask, projectDir string) *models.TaskResult {
	now := e.now
	if now == nil {
		now = time.Now
	}
	start := now()
	result := &models.TaskResult{TaskID: task.ID, ExitCode: -1}
	finish := func() *models.TaskResult {
		result.Duration = now().Sub(start)
		return result
	}
	fail := func(msg string, err error) *models.TaskResult {
		execErr := models.NewExecutionError(task.ID, msg, err)
		result.Status = models.OutcomeExecutionError
		result.Err = execErr
		result.Logs = execErr.Error()
		return finish()
	}

	wctx, err := e.Gatherer.Gather(ctx, task)
	if err != nil {
		return fail("gather context", err)
	}
	e.debug(fmt.Sprintf("task %s: context has %d files (%d tokens), %d omitted",
		task.ID, len(wctx.Files), wctx.Tokens, len(wctx.Omitted)))

	set, err := e.Source.Edits(ctx, backend.CodeRequest{
		Task:            task,
		Context:         wctx.Render(),
		PreviousFailure: e.previousFailure(ctx, task.ID),
	})
	if err != nil {
		return fail("backend", err)
	}

	applied, err := e.Applier.Apply(set, wctx.Snapshot)
	if err != nil {
		return fail("apply edits", err)
	}
	result.Edits = applied.Paths
	result.Revert = applied.Revert
	for _, s := range applied.Stats {
		e.debug(fmt.Sprintf("task %s: %s %s (+%d -%d)", task.ID, s.Action, s.Path, s.Added, s.Removed))
	}

	if strings.TrimSpace(task.TestCommand) == "" {
		result.Status = models.OutcomePassed
		result.ExitCode = 0
		result.Logs = "no test command; edits applied"
		return finish()
	}

	run, err := e.Runner.RunWithTimeout(ctx, projectDir, task.TestCommand, e.TestTimeout)
	if err != nil {
		if run != nil {
			result.Logs = run.Output
		}
		return fail("run test command", err)
	}
	result.Logs = run.Output
	result.ExitCode = run.ExitCode

	switch {
	case run.TimedOut:
		te := models.NewTimeoutError(task.ID, task.TestCommand, e.TestTimeout)
		te.Logs = run.Output
		result.Status = models.OutcomeTimeout
		result.Err = te
	case run.ExitCode != 0:
		result.Status = models.OutcomeTestFailure
		result.Err = &models.TestFailure{
			TaskID:   task.ID,
			Command:  task.TestCommand,
			ExitCode: run.ExitCode,
			Logs:     run.Output,
		}
	default:
		result.Status = models.OutcomePassed
		if line := suspiciousLine(run.Output); line != "" {
			e.warn(fmt.Sprintf("task %s: test command passed but output mentions a problem: %s", task.ID, line))
		}
	}
	return finish()
}

// previousFailure renders the last failed attempt for the retry prompt.
func (e *Executor) previousFailure(ctx context.Context, taskID string) string {
	if e.History == nil {
		return ""
	}
	last, err := e.History.LastAttempt(ctx, taskID)
	if err != nil {
		e.warn(fmt.Sprintf("task %s: could not read attempt history: %v", taskID, err))
		return ""
	}
	if last == nil || last.Passed() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Attempt %d outcome: %s", last.Number, last.Outcome)
	if last.ExitCode >= 0 && last.Outcome == models.OutcomeTestFailure {
		fmt.Fprintf(&b, " (exit code %d)", last.ExitCode)
	}
	b.WriteString("\n")
	if last.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", last.Error)
	}
	if logs := strings.TrimSpace(last.Logs); logs != "" {
		fmt.Fprintf(&b, "Output:\n%s\n", tailLines(logs, previousLogLines))
	}
	return b.String()
}

// suspiciousLine returns the first output line that looks like an error.
func suspiciousLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if errorPattern.MatchString(line) && !zeroCount.MatchString(line) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func (e *Executor) debug(msg string) {
	if e.Logger != nil {
		e.Logger.LogDebug(msg)
	}
}

func (e *Executor) warn(msg string) {
	if e.Logger != nil {
		e.Logger.LogWarn(msg)
	}
}
