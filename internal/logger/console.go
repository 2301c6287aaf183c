package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/autocoder/internal/models"
)

// ConsoleLogger writes "[HH:MM:SS] [LEVEL] message" lines to a writer.
// Colour is enabled only when the writer is a terminal and NO_COLOR is unset.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
	progress    *ProgressBar
	now         func() time.Time
}

// NewConsoleLogger creates a ConsoleLogger. A nil writer discards everything.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	useColor := isTerminal(writer)
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    NormalizeLevel(logLevel),
		colorOutput: useColor,
		progress:    NewProgressBar(0, 20, useColor),
		now:         time.Now,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (cl *ConsoleLogger) paint(s string, attrs ...color.Attribute) string {
	if !cl.colorOutput {
		return s
	}
	c := color.New(attrs...)
	c.EnableColor()
	return c.Sprint(s)
}

func (cl *ConsoleLogger) LogTrace(message string) { cl.logWithLevel("TRACE", message) }
func (cl *ConsoleLogger) LogDebug(message string) { cl.logWithLevel("DEBUG", message) }
func (cl *ConsoleLogger) LogInfo(message string)  { cl.logWithLevel("INFO", message) }
func (cl *ConsoleLogger) LogWarn(message string)  { cl.logWithLevel("WARN", message) }
func (cl *ConsoleLogger) LogError(message string) { cl.logWithLevel("ERROR", message) }

func (cl *ConsoleLogger) logWithLevel(level, message string) {
	if cl.writer == nil || !enabled(cl.logLevel, strings.ToLower(level)) {
		return
	}
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", cl.timestamp(), cl.colorLevel(level), message)
}

func (cl *ConsoleLogger) colorLevel(level string) string {
	switch level {
	case "TRACE":
		return cl.paint(level, color.FgHiBlack)
	case "DEBUG":
		return cl.paint(level, color.FgCyan)
	case "INFO":
		return cl.paint(level, color.FgBlue)
	case "WARN":
		return cl.paint(level, color.FgYellow)
	case "ERROR":
		return cl.paint(level, color.FgRed)
	}
	return level
}

func (cl *ConsoleLogger) timestamp() string {
	return cl.now().Format("15:04:05")
}

// LogPlan prints the planned tasks, indented by depth.
func (cl *ConsoleLogger) LogPlan(g *models.TaskGraph) {
	if g == nil {
		return
	}
	cl.LogInfo(fmt.Sprintf("%s %d tasks for %q", cl.paint("Planned", color.Bold), len(g.Tasks), g.Requirement))
	if !enabled(cl.logLevel, "info") {
		return
	}
	for _, t := range g.Tasks {
		indent := strings.Repeat("  ", t.Depth()-1)
		cl.LogInfo(fmt.Sprintf("  %s%s %s", indent, cl.paint(t.ID, color.FgCyan), t.Title))
	}
}

// LogTaskStart announces an attempt and redraws the progress bar.
func (cl *ConsoleLogger) LogTaskStart(task *models.SubTask, completed, total int) {
	if task == nil {
		return
	}
	cl.progress.Set(completed, total)
	cl.LogInfo(fmt.Sprintf("%s task %s (attempt %d): %s  %s",
		cl.paint("▶", color.Bold), task.ID, task.AttemptCount, task.Title, cl.progress.Render()))
}

// LogTaskResult prints the outcome of one attempt. Failing output is only
// shown at debug level.
func (cl *ConsoleLogger) LogTaskResult(task *models.SubTask, result *models.TaskResult) error {
	if task == nil || result == nil {
		return nil
	}
	var status string
	switch result.Status {
	case models.OutcomePassed:
		status = cl.paint("PASS", color.FgGreen)
	case models.OutcomeTestFailure:
		status = cl.paint("FAIL", color.FgYellow)
	default:
		status = cl.paint(strings.ToUpper(string(result.Status)), color.FgRed)
	}
	msg := fmt.Sprintf("task %s %s in %s", task.ID, status, formatDuration(result.Duration))
	if n := len(result.Edits); n > 0 {
		msg += fmt.Sprintf(", %d files changed", n)
	}
	if result.Passed() {
		cl.LogInfo(msg)
		return nil
	}
	if result.Err != nil {
		msg += ": " + firstLine(result.Err.Error())
	}
	cl.LogWarn(msg)
	if logs := strings.TrimSpace(result.Logs); logs != "" {
		cl.LogDebug("output:\n" + logs)
	}
	return nil
}

// LogAction prints the refiner's decision.
func (cl *ConsoleLogger) LogAction(task *models.SubTask, action models.Action) {
	if task == nil {
		return
	}
	msg := fmt.Sprintf("task %s -> %s", task.ID, action.Kind)
	if action.Reason != "" {
		msg += " (" + action.Reason + ")"
	}
	switch action.Kind {
	case models.ActionEscalate:
		cl.LogError(msg)
	case models.ActionInsertSubtasks:
		cl.LogWarn(msg)
		for _, s := range action.Subtasks {
			cl.LogInfo(fmt.Sprintf("  + %s %s", cl.paint(s.ID, color.FgCyan), s.Title))
		}
	default:
		cl.LogInfo(msg)
	}
}

// LogCommit prints a created commit.
func (cl *ConsoleLogger) LogCommit(taskID, hash, header string) {
	short := hash
	if len(short) > 7 {
		short = short[:7]
	}
	cl.LogInfo(fmt.Sprintf("task %s committed %s %s", taskID, cl.paint(short, color.FgYellow), header))
}

// LogSummary prints the end-of-run block. It is written at every level.
func (cl *ConsoleLogger) LogSummary(s models.RunSummary) {
	if cl.writer == nil {
		return
	}
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	var b strings.Builder
	ts := cl.timestamp()
	fmt.Fprintf(&b, "[%s] %s\n", ts, cl.paint("=== Run Summary ===", color.Bold))
	fmt.Fprintf(&b, "[%s] Tasks: %d\n", ts, s.TotalTasks)
	fmt.Fprintf(&b, "[%s] %s\n", ts, cl.paint(fmt.Sprintf("Completed: %d", s.Completed), color.FgGreen))
	if s.Pending > 0 {
		fmt.Fprintf(&b, "[%s] %s\n", ts, cl.paint(fmt.Sprintf("Pending: %d", s.Pending), color.FgYellow))
	}
	if len(s.FailedTasks) > 0 {
		line := fmt.Sprintf("Failed: %d (%s)", len(s.FailedTasks), strings.Join(s.FailedTasks, ", "))
		fmt.Fprintf(&b, "[%s] %s\n", ts, cl.paint(line, color.FgRed))
	}
	fmt.Fprintf(&b, "[%s] Attempts: %d, commits: %d\n", ts, s.Executions, s.Commits)
	if s.Interrupted {
		line := "Interrupted"
		if s.ActiveTask != "" {
			line += " during task " + s.ActiveTask
		}
		fmt.Fprintf(&b, "[%s] %s, resume with --recover\n", ts, cl.paint(line, color.FgYellow))
	}
	if s.StorePath != "" {
		fmt.Fprintf(&b, "[%s] State: %s\n", ts, s.StorePath)
	}
	fmt.Fprintf(&b, "[%s] Duration: %s\n", ts, formatDuration(s.Duration))
	io.WriteString(cl.writer, b.String())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// formatDuration renders 5s, 1m30s or 2h15m.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		h := d / time.Hour
		m := (d % time.Hour) / time.Minute
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dm", h, m)
	case d >= time.Minute:
		m := d / time.Minute
		s := (d % time.Minute) / time.Second
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, s)
	case d > 0 && d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (NoOpLogger) LogTrace(string)                                        {}
func (NoOpLogger) LogDebug(string)                                        {}
func (NoOpLogger) LogInfo(string)                                         {}
func (NoOpLogger) LogWarn(string)                                         {}
func (NoOpLogger) LogError(string)                                        {}
func (NoOpLogger) LogPlan(*models.TaskGraph)                              {}
func (NoOpLogger) LogTaskStart(*models.SubTask, int, int)                 {}
func (NoOpLogger) LogTaskResult(*models.SubTask, *models.TaskResult) error { return nil }
func (NoOpLogger) LogAction(*models.SubTask, models.Action)               {}
func (NoOpLogger) LogCommit(string, string, string)                       {}
func (NoOpLogger) LogSummary(models.RunSummary)                           {}
