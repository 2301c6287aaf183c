package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/autocoder/internal/models"
)

// FileLogger writes a per-run log plus one file per task attempt:
//
//	<dir>/run-YYYYMMDD-HHMMSS.log
//	<dir>/latest.log -> run-YYYYMMDD-HHMMSS.log
//	<dir>/tasks/task-<id>-attempt-<n>.log
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	tasksDir string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates the log directory, opens a timestamped run log and
// repoints latest.log at it.
func NewFileLogger(logDir, logLevel, runID string) (*FileLogger, error) {
	tasksDir := filepath.Join(logDir, "tasks")
	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	started := time.Now()
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", started.Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		tasksDir: tasksDir,
		logLevel: NormalizeLevel(logLevel),
	}
	fl.writeRunLog(fmt.Sprintf("=== autocoder run %s ===\nStarted at: %s\n\n", runID, started.Format(time.RFC3339)))
	return fl, nil
}

// RunFile returns the path of this run's log.
func (fl *FileLogger) RunFile() string { return fl.runFile }

// TasksDir returns the directory holding per-attempt logs.
func (fl *FileLogger) TasksDir() string { return fl.tasksDir }

func (fl *FileLogger) LogTrace(message string) { fl.logWithLevel("TRACE", message) }
func (fl *FileLogger) LogDebug(message string) { fl.logWithLevel("DEBUG", message) }
func (fl *FileLogger) LogInfo(message string)  { fl.logWithLevel("INFO", message) }
func (fl *FileLogger) LogWarn(message string)  { fl.logWithLevel("WARN", message) }
func (fl *FileLogger) LogError(message string) { fl.logWithLevel("ERROR", message) }

func (fl *FileLogger) logWithLevel(level, message string) {
	if !enabled(fl.logLevel, strings.ToLower(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), level, message))
}

func (fl *FileLogger) writeRunLog(s string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return
	}
	fl.runLog.WriteString(s)
}

// LogPlan records the full planned graph.
func (fl *FileLogger) LogPlan(g *models.TaskGraph) {
	if g == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Plan for %q (%d tasks)\n", g.Requirement, len(g.Tasks))
	for _, t := range g.Tasks {
		fmt.Fprintf(&b, "  %s%s [%s] %s\n", strings.Repeat("  ", t.Depth()-1), t.ID, t.Status, t.Title)
		if t.TestCommand != "" {
			fmt.Fprintf(&b, "  %s  test: %s\n", strings.Repeat("  ", t.Depth()-1), t.TestCommand)
		}
	}
	fl.LogInfo(b.String())
}

// LogTaskStart records the start of an attempt.
func (fl *FileLogger) LogTaskStart(task *models.SubTask, completed, total int) {
	if task == nil {
		return
	}
	fl.LogInfo(fmt.Sprintf("task %s attempt %d started (%d/%d completed): %s", task.ID, task.AttemptCount, completed, total, task.Title))
}

// LogTaskResult appends a line to the run log and writes the attempt's full
// output to tasks/task-<id>-attempt-<n>.log.
func (fl *FileLogger) LogTaskResult(task *models.SubTask, result *models.TaskResult) error {
	if task == nil || result == nil {
		return nil
	}
	fl.LogInfo(fmt.Sprintf("task %s attempt %d: %s (exit %d, %s)", task.ID, task.AttemptCount, result.Status, result.ExitCode, result.Duration))

	var b strings.Builder
	fmt.Fprintf(&b, "=== Task %s ===\n", task.ID)
	fmt.Fprintf(&b, "Title: %s\n", task.Title)
	fmt.Fprintf(&b, "Attempt: %d\n", task.AttemptCount)
	fmt.Fprintf(&b, "Test: %s\n", task.TestCommand)
	fmt.Fprintf(&b, "Outcome: %s\n", result.Status)
	fmt.Fprintf(&b, "Exit code: %d\n", result.ExitCode)
	fmt.Fprintf(&b, "Duration: %s\n", result.Duration)
	if len(result.Edits) > 0 {
		fmt.Fprintf(&b, "Files: %s\n", strings.Join(result.Edits, ", "))
	}
	if result.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", result.Err)
	}
	b.WriteString("\n--- output ---\n")
	b.WriteString(result.Logs)
	if !strings.HasSuffix(result.Logs, "\n") {
		b.WriteString("\n")
	}

	path := filepath.Join(fl.tasksDir, fmt.Sprintf("task-%s-attempt-%d.log", task.ID, task.AttemptCount))
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write task log: %w", err)
	}
	return nil
}

// LogAction records the refiner's decision and any inserted children.
func (fl *FileLogger) LogAction(task *models.SubTask, action models.Action) {
	if task == nil {
		return
	}
	msg := fmt.Sprintf("task %s action %s: %s", task.ID, action.Kind, action.Reason)
	for _, s := range action.Subtasks {
		msg += fmt.Sprintf("\n  + %s %s", s.ID, s.Title)
	}
	fl.LogInfo(msg)
}

// LogCommit records a created commit.
func (fl *FileLogger) LogCommit(taskID, hash, header string) {
	fl.LogInfo(fmt.Sprintf("task %s commit %s %s", taskID, hash, header))
}

// LogSummary writes the closing block regardless of level.
func (fl *FileLogger) LogSummary(s models.RunSummary) {
	status := "PARTIAL"
	switch {
	case s.Succeeded():
		status = "SUCCESS"
	case len(s.FailedTasks) > 0:
		status = "FAILED"
	case s.Interrupted:
		status = "INTERRUPTED"
	}
	var b strings.Builder
	b.WriteString("\n=== Run Summary ===\n")
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Run: %s\n", s.RunID)
	fmt.Fprintf(&b, "Tasks: %d completed, %d pending, %d failed of %d\n", s.Completed, s.Pending, len(s.FailedTasks), s.TotalTasks)
	if len(s.FailedTasks) > 0 {
		fmt.Fprintf(&b, "Failed: %s\n", strings.Join(s.FailedTasks, ", "))
	}
	if s.ActiveTask != "" {
		fmt.Fprintf(&b, "Active: %s\n", s.ActiveTask)
	}
	fmt.Fprintf(&b, "Attempts: %d\nCommits: %d\nDuration: %s\n", s.Executions, s.Commits, s.Duration)
	fl.writeRunLog(b.String())
}

// Close flushes and closes the run log.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return nil
	}
	err := fl.runLog.Close()
	fl.runLog = nil
	return err
}
