// Package orchestrator drives a task graph to completion: it plans, picks the
// next eligible task, executes it, commits on success and hands failures to
// the refiner, persisting the graph after every state change.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/autocoder/internal/config"
	"github.com/harrison/autocoder/internal/gitmgr"
	"github.com/harrison/autocoder/internal/history"
	"github.com/harrison/autocoder/internal/models"
	"github.com/harrison/autocoder/internal/store"
)

// ErrInterrupted is returned when the operator cancels a run. The graph has
// been persisted with the in-flight task still in_progress.
var ErrInterrupted = errors.New("run interrupted")

// IncompleteError reports a run that stopped with tasks left unfinished
// because they failed terminally or sit under a failed ancestor.
type IncompleteError struct {
	Failed  []string
	Pending int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("run incomplete: %d task(s) failed (%s), %d pending",
		len(e.Failed), strings.Join(e.Failed, ", "), e.Pending)
}

// Logger receives orchestrator progress.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogPlan(g *models.TaskGraph)
	LogTaskStart(task *models.SubTask, completed, total int)
	LogTaskResult(task *models.SubTask, result *models.TaskResult) error
	LogAction(task *models.SubTask, action models.Action)
	LogCommit(taskID, hash, header string)
	LogSummary(s models.RunSummary)
}

// Planner turns a requirement into subtask specs. *backend.Client satisfies it.
type Planner interface {
	Plan(ctx context.Context, requirement string) ([]models.SubTaskSpec, error)
}

// TaskRunner performs one attempt at a task. *executor.Executor satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, task *models.SubTask, projectDir string) *models.TaskResult
}

// Decider chooses what to do after a failed attempt. *refiner.Refiner
// satisfies it.
type Decider interface {
	Decide(ctx context.Context, g *models.TaskGraph, task *models.SubTask, result *models.TaskResult, attempts []*history.Attempt) models.Action
}

// Committer commits the work of a completed task. *gitmgr.Manager satisfies it.
type Committer interface {
	CommitTask(ctx context.Context, task *models.SubTask) (*gitmgr.CommitResult, error)
}

// AttemptHistory records runs and attempts. *history.Store satisfies it.
type AttemptHistory interface {
	StartRun(ctx context.Context, runID, requirement string) error
	FinishRun(ctx context.Context, summary models.RunSummary) error
	RecordAttempt(ctx context.Context, runID string, task *models.SubTask, result *models.TaskResult) (*history.Attempt, error)
	Attempts(ctx context.Context, taskID string) ([]*history.Attempt, error)
}

// RunMetrics observes run activity. *metrics.Metrics satisfies it.
type RunMetrics interface {
	ObserveAttempt(r *models.TaskResult)
	ObserveAction(a models.Action)
	IncCommits()
	ObserveGraph(g *models.TaskGraph)
	ObserveRun(s models.RunSummary, finished time.Time)
	WriteFile(path string) error
}

// Orchestrator owns one project's task graph for the duration of a run.
type Orchestrator struct {
	ProjectDir string
	Store      *store.TaskManager
	Planner    Planner
	Executor   TaskRunner
	Refiner    Decider
	Git        Committer
	Logger     Logger

	History     AttemptHistory // optional
	Metrics     RunMetrics     // optional
	MetricsPath string         // textfile written at the end of the run; empty disables
	MaxTasks    int            // stop after this many executions; 0 = unlimited
	RunID       string

	// HandleSignals cancels the run on SIGINT/SIGTERM.
	HandleSignals bool

	now func() time.Time
}

// New creates an Orchestrator with a fresh run id.
func New(projectDir string, st *store.TaskManager, planner Planner, runner TaskRunner, refiner Decider, git Committer, logger Logger) *Orchestrator {
	if st == nil {
		panic("task store cannot be nil")
	}
	return &Orchestrator{
		ProjectDir: projectDir,
		Store:      st,
		Planner:    planner,
		Executor:   runner,
		Refiner:    refiner,
		Git:        git,
		Logger:     logger,
		RunID:      uuid.NewString(),
		now:        time.Now,
	}
}

// Plan asks the planner for subtasks and builds a graph from them. Nothing is
// written; a PlanningError leaves any existing store untouched.
func (o *Orchestrator) Plan(ctx context.Context, requirement string) (*models.TaskGraph, error) {
	specs, err := o.Planner.Plan(ctx, requirement)
	if err != nil {
		return nil, err
	}
	g, err := o.Store.BuildGraph(requirement, specs)
	if err != nil {
		return nil, &models.PlanningError{Reason: "plan does not form a valid task graph", Err: err}
	}
	return g, nil
}

// Start plans requirement, persists the new graph and runs it.
func (o *Orchestrator) Start(ctx context.Context, requirement string) (*models.RunSummary, error) {
	g, err := o.Plan(ctx, requirement)
	if err != nil {
		return nil, err
	}
	o.Logger.LogPlan(g)
	if err := os.MkdirAll(filepath.Dir(o.Store.Path()), 0755); err != nil {
		return nil, &models.PersistenceError{Path: o.Store.Path(), Op: "mkdir", Err: err}
	}
	if err := o.Store.Save(g); err != nil {
		return nil, err
	}
	return o.Execute(ctx, g)
}

// Resume loads the persisted graph, returns interrupted tasks to pending and
// continues. There is no replanning.
func (o *Orchestrator) Resume(ctx context.Context) (*models.RunSummary, error) {
	if !o.Store.Exists() {
		return nil, &models.PersistenceError{Path: o.Store.Path(), Op: "read", Err: os.ErrNotExist}
	}
	g, err := o.Store.Load()
	if err != nil {
		return nil, err
	}
	if ids := o.Store.RecoverInterrupted(g); len(ids) > 0 {
		o.Logger.LogWarn(fmt.Sprintf("Recovered interrupted task(s): %s", strings.Join(ids, ", ")))
		if err := o.Store.Save(g); err != nil {
			return nil, err
		}
	}
	o.Logger.LogPlan(g)
	return o.Execute(ctx, g)
}

// Execute runs the main loop over g until no task is eligible, the task
// limit is reached, a fatal error occurs or the context is cancelled. The
// summary is always returned.
func (o *Orchestrator) Execute(ctx context.Context, g *models.TaskGraph) (*models.RunSummary, error) {
	if g == nil {
		return nil, fmt.Errorf("task graph cannot be nil")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if o.HandleSignals {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			select {
			case <-sigChan:
				o.Logger.LogWarn("Received interrupt signal, stopping after persisting state...")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	started := o.clock()
	summary := &models.RunSummary{RunID: o.RunID, StorePath: o.Store.Path()}

	if o.History != nil {
		if err := o.History.StartRun(ctx, o.RunID, g.Requirement); err != nil {
			o.Logger.LogWarn(fmt.Sprintf("history: %v", err))
		}
	}

	var runErr error
	limited := false
	for {
		if ctx.Err() != nil {
			runErr = ErrInterrupted
			break
		}
		if o.MaxTasks > 0 && summary.Executions >= o.MaxTasks {
			o.Logger.LogInfo(fmt.Sprintf("Reached max tasks (%d), stopping", o.MaxTasks))
			limited = true
			break
		}
		task := o.Store.NextTask(g)
		if task == nil {
			break
		}
		if err := o.step(ctx, g, task, summary); err != nil {
			runErr = err
			break
		}
	}

	o.finish(g, summary, started)
	if errors.Is(runErr, ErrInterrupted) {
		summary.Interrupted = true
	}
	if runErr == nil && !limited && !summary.Succeeded() {
		runErr = &IncompleteError{Failed: summary.FailedTasks, Pending: summary.Pending}
	}

	if o.History != nil {
		if err := o.History.FinishRun(context.WithoutCancel(ctx), *summary); err != nil {
			o.Logger.LogWarn(fmt.Sprintf("history: %v", err))
		}
	}
	if o.Metrics != nil {
		o.Metrics.ObserveGraph(g)
		o.Metrics.ObserveRun(*summary, o.clock())
		if o.MetricsPath != "" {
			if err := o.Metrics.WriteFile(o.MetricsPath); err != nil {
				o.Logger.LogWarn(fmt.Sprintf("metrics: %v", err))
			}
		}
	}
	o.Logger.LogSummary(*summary)
	return summary, runErr
}

// step runs one attempt at task and applies its consequences to g.
func (o *Orchestrator) step(ctx context.Context, g *models.TaskGraph, task *models.SubTask, summary *models.RunSummary) error {
	if err := o.Store.UpdateStatus(g, task.ID, models.StatusInProgress); err != nil {
		return err
	}
	if err := o.Store.Save(g); err != nil {
		return err
	}
	summary.Executions++
	o.Logger.LogTaskStart(task, g.Counts()[models.StatusCompleted], len(g.Tasks))

	result := o.Executor.Run(ctx, task, o.ProjectDir)
	if ctx.Err() != nil {
		o.revert(task, result)
		return o.interrupted(g, task, summary)
	}

	var commit *gitmgr.CommitResult
	if result.Passed() {
		c, err := o.Git.CommitTask(ctx, task)
		if err != nil {
			if ctx.Err() != nil {
				return o.interrupted(g, task, summary)
			}
			result = gitFailure(result, err)
		}
		commit = c
	}

	o.record(ctx, task, result)

	if result.Passed() {
		if commit != nil {
			summary.Commits++
			if o.Metrics != nil {
				o.Metrics.IncCommits()
			}
			o.Logger.LogCommit(task.ID, commit.Hash, commit.Message.Header())
		} else {
			o.Logger.LogInfo(fmt.Sprintf("Task %s: nothing to commit", task.ID))
		}
		if err := o.Store.UpdateStatus(g, task.ID, models.StatusCompleted); err != nil {
			return err
		}
		return o.Store.Save(g)
	}

	// uncommitted work never outlives its attempt
	o.revert(task, result)

	var gitErr *models.GitError
	if errors.As(result.Err, &gitErr) && gitErr.Transient {
		// Left in_progress; --recover retries it once the lock is gone.
		summary.ActiveTask = task.ID
		if err := o.Store.Save(g); err != nil {
			return err
		}
		return result.Err
	}

	// in_progress on disk until the decision is applied with the failure
	action := o.Refiner.Decide(ctx, g, task, result, o.attempts(ctx, task.ID))
	if ctx.Err() != nil {
		return o.interrupted(g, task, summary)
	}
	o.Logger.LogAction(task, action)
	if o.Metrics != nil {
		o.Metrics.ObserveAction(action)
	}
	if err := o.Store.UpdateStatus(g, task.ID, models.StatusFailed); err != nil {
		return err
	}
	if err := o.apply(g, task, action); err != nil {
		return err
	}
	if err := o.Store.Save(g); err != nil {
		return err
	}

	switch result.Status {
	case models.OutcomeTimeout, models.OutcomeGitError:
		summary.ActiveTask = task.ID
		o.Logger.LogError(fmt.Sprintf("Task %s: %v (store: %s)", task.ID, result.Err, o.Store.Path()))
		return result.Err
	}
	return nil
}

// revert restores the files an uncommitted attempt edited.
func (o *Orchestrator) revert(task *models.SubTask, result *models.TaskResult) {
	if result == nil || result.Revert == nil {
		return
	}
	if err := result.Revert(); err != nil {
		o.Logger.LogWarn(fmt.Sprintf("Task %s: could not revert edits: %v", task.ID, err))
		return
	}
	if len(result.Edits) > 0 {
		o.Logger.LogDebug(fmt.Sprintf("Task %s: reverted %s", task.ID, strings.Join(result.Edits, ", ")))
	}
}

// apply carries out a refiner decision on g.
func (o *Orchestrator) apply(g *models.TaskGraph, task *models.SubTask, action models.Action) error {
	switch action.Kind {
	case models.ActionRetry:
		return nil
	case models.ActionInsertSubtasks:
		created, err := o.Store.InsertChildren(g, task.ID, action.Subtasks)
		if err != nil {
			o.Logger.LogWarn(fmt.Sprintf("Task %s: could not insert subtasks (%v), escalating", task.ID, err))
			return o.Store.Escalate(g, task.ID)
		}
		ids := make([]string, len(created))
		for i, c := range created {
			ids[i] = c.ID
		}
		o.Logger.LogInfo(fmt.Sprintf("Task %s: added subtasks %s", task.ID, strings.Join(ids, ", ")))
		return o.Store.UpdateStatus(g, task.ID, models.StatusPending)
	default:
		return o.Store.Escalate(g, task.ID)
	}
}

// interrupted persists g with task still in_progress.
func (o *Orchestrator) interrupted(g *models.TaskGraph, task *models.SubTask, summary *models.RunSummary) error {
	summary.ActiveTask = task.ID
	if err := o.Store.Save(g); err != nil {
		return err
	}
	return ErrInterrupted
}

func (o *Orchestrator) record(ctx context.Context, task *models.SubTask, result *models.TaskResult) {
	if err := o.Logger.LogTaskResult(task, result); err != nil {
		o.Logger.LogWarn(fmt.Sprintf("log attempt: %v", err))
	}
	if o.Metrics != nil {
		o.Metrics.ObserveAttempt(result)
	}
	if o.History == nil {
		return
	}
	if _, err := o.History.RecordAttempt(ctx, o.RunID, task, result); err != nil {
		o.Logger.LogWarn(fmt.Sprintf("history: %v", err))
	}
}

func (o *Orchestrator) attempts(ctx context.Context, taskID string) []*history.Attempt {
	if o.History == nil {
		return nil
	}
	attempts, err := o.History.Attempts(ctx, taskID)
	if err != nil {
		o.Logger.LogWarn(fmt.Sprintf("history: %v", err))
		return nil
	}
	return attempts
}

func (o *Orchestrator) finish(g *models.TaskGraph, summary *models.RunSummary, started time.Time) {
	maxAttempts := o.Store.MaxAttempts()
	summary.TotalTasks = len(g.Tasks)
	summary.FailedTasks = nil
	summary.Completed, summary.Pending = 0, 0
	for _, t := range g.Tasks {
		switch {
		case t.Status == models.StatusCompleted:
			summary.Completed++
		case t.Status == models.StatusFailed && t.IsTerminal(maxAttempts):
			summary.FailedTasks = append(summary.FailedTasks, t.ID)
		default:
			summary.Pending++
		}
	}
	summary.Duration = o.clock().Sub(started)
}

func (o *Orchestrator) clock() time.Time {
	if o.now == nil {
		return time.Now()
	}
	return o.now()
}

// gitFailure turns a passing attempt whose commit failed into a git_error
// result, keeping the test output.
func gitFailure(result *models.TaskResult, err error) *models.TaskResult {
	failed := *result
	failed.Status = models.OutcomeGitError
	failed.Err = err
	if !models.IsGitError(err) {
		failed.Err = &models.GitError{Op: "commit", Err: err}
	}
	failed.Logs = strings.TrimSpace(result.Logs + "\n" + err.Error())
	return &failed
}

// EnsureStateDir creates the state directory with a .gitignore that keeps
// its contents out of task commits. dir must be named config.StateDirName.
func EnsureStateDir(dir string) error {
	if filepath.Base(dir) != config.StateDirName {
		return fmt.Errorf("%s is not a %s directory", dir, config.StateDirName)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	ignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignore); err == nil {
		return nil
	}
	return os.WriteFile(ignore, []byte("*\n"), 0644)
}
