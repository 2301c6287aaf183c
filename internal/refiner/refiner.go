// Package refiner decides what happens to a task after a failed attempt.
package refiner

import (
	"context"
	"fmt"

	"github.com/harrison/autocoder/internal/history"
	"github.com/harrison/autocoder/internal/models"
)

// Breakdowner splits a failing task into smaller children.
// *backend.Client satisfies it.
type Breakdowner interface {
	Breakdown(ctx context.Context, task *models.SubTask, reason, logs string) ([]models.SubTaskSpec, error)
}

// Refiner encapsulates the failure policy.
//
// Decision matrix (n = attempt_count, max = MaxAttempts):
// | Outcome         | Condition                                  | Action                          |
// |-----------------|--------------------------------------------|---------------------------------|
// | test_failure    | n < max                                    | Retry                           |
// | test_failure    | n >= max                                   | InsertSubtasks, else Escalate   |
// | execution_error | same signature twice in a row, or n >= max | InsertSubtasks, else Escalate   |
// | execution_error | otherwise                                  | Retry                           |
// | timeout         | any                                        | Escalate                        |
// | git_error       | any                                        | Escalate                        |
//
// InsertSubtasks needs a task with no children whose children would sit at
// most MaxDepth deep, and a breakdown that returns at least one child.
type Refiner struct {
	Breakdown   Breakdowner
	MaxAttempts int
	MaxDepth    int
}

// New creates a Refiner.
func New(b Breakdowner, maxAttempts, maxDepth int) *Refiner {
	return &Refiner{Breakdown: b, MaxAttempts: maxAttempts, MaxDepth: maxDepth}
}

// Decide returns the action for task after result. attempts is the task's
// attempt history, oldest first; it may or may not already include result.
func (r *Refiner) Decide(ctx context.Context, g *models.TaskGraph, task *models.SubTask, result *models.TaskResult, attempts []*history.Attempt) models.Action {
	switch result.Status {
	case models.OutcomeTestFailure:
		if task.AttemptCount < r.MaxAttempts {
			return models.Retry(fmt.Sprintf("test failed on attempt %d of %d", task.AttemptCount, r.MaxAttempts))
		}
		return r.decompose(ctx, g, task, result,
			fmt.Sprintf("test still failing after %d attempts", task.AttemptCount))

	case models.OutcomeExecutionError:
		if repeatedFailure(task, result, attempts) {
			return r.decompose(ctx, g, task, result, "same execution error on consecutive attempts")
		}
		if task.AttemptCount >= r.MaxAttempts {
			return r.decompose(ctx, g, task, result,
				fmt.Sprintf("execution still failing after %d attempts", task.AttemptCount))
		}
		return models.Retry(fmt.Sprintf("execution error on attempt %d of %d", task.AttemptCount, r.MaxAttempts))

	case models.OutcomeTimeout:
		return models.Escalate("test command timed out")

	case models.OutcomeGitError:
		return models.Escalate("git operation failed")

	default:
		return models.Escalate(fmt.Sprintf("unexpected outcome %q", result.Status))
	}
}

// decompose asks for corrective children, escalating when the task cannot
// be split further.
func (r *Refiner) decompose(ctx context.Context, g *models.TaskGraph, task *models.SubTask, result *models.TaskResult, reason string) models.Action {
	if g != nil && len(g.Children(task.ID)) > 0 {
		return models.Escalate(reason + "; task was already broken down")
	}
	if task.Depth()+1 > r.MaxDepth {
		return models.Escalate(fmt.Sprintf("%s; subtasks would exceed max depth %d", reason, r.MaxDepth))
	}
	if r.Breakdown == nil {
		return models.Escalate(reason)
	}
	specs, err := r.Breakdown.Breakdown(ctx, task, reason, result.Logs)
	if err != nil {
		return models.Escalate(fmt.Sprintf("%s; breakdown failed: %v", reason, err))
	}
	if len(specs) == 0 {
		return models.Escalate(reason + "; breakdown returned no subtasks")
	}
	return models.InsertSubtasks(reason, specs)
}

// repeatedFailure reports whether the last two attempts, counting result,
// failed with the same signature.
func repeatedFailure(task *models.SubTask, result *models.TaskResult, attempts []*history.Attempt) bool {
	var sigs []string
	for _, a := range attempts {
		sigs = append(sigs, a.Signature)
	}
	if n := len(attempts); n == 0 || attempts[n-1].Number != task.AttemptCount {
		sigs = append(sigs, result.Signature())
	}
	if len(sigs) < 2 {
		return false
	}
	last, prev := sigs[len(sigs)-1], sigs[len(sigs)-2]
	return last != "" && last == prev
}
