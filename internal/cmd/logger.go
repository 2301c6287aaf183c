package cmd

import (
	"github.com/harrison/autocoder/internal/models"
	"github.com/harrison/autocoder/internal/orchestrator"
)

// multiLogger implements orchestrator.Logger by delegating to multiple loggers
type multiLogger struct {
	loggers []orchestrator.Logger
}

func (ml *multiLogger) LogDebug(message string) {
	for _, l := range ml.loggers {
		l.LogDebug(message)
	}
}

func (ml *multiLogger) LogInfo(message string) {
	for _, l := range ml.loggers {
		l.LogInfo(message)
	}
}

func (ml *multiLogger) LogWarn(message string) {
	for _, l := range ml.loggers {
		l.LogWarn(message)
	}
}

func (ml *multiLogger) LogError(message string) {
	for _, l := range ml.loggers {
		l.LogError(message)
	}
}

// LogPlan forwards to all loggers
func (ml *multiLogger) LogPlan(g *models.TaskGraph) {
	for _, l := range ml.loggers {
		l.LogPlan(g)
	}
}

// LogTaskStart forwards to all loggers
func (ml *multiLogger) LogTaskStart(task *models.SubTask, completed, total int) {
	for _, l := range ml.loggers {
		l.LogTaskStart(task, completed, total)
	}
}

// LogTaskResult forwards to all loggers
func (ml *multiLogger) LogTaskResult(task *models.SubTask, result *models.TaskResult) error {
	var lastErr error
	for _, l := range ml.loggers {
		if err := l.LogTaskResult(task, result); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// LogAction forwards to all loggers
func (ml *multiLogger) LogAction(task *models.SubTask, action models.Action) {
	for _, l := range ml.loggers {
		l.LogAction(task, action)
	}
}

// LogCommit forwards to all loggers
func (ml *multiLogger) LogCommit(taskID, hash, header string) {
	for _, l := range ml.loggers {
		l.LogCommit(taskID, hash, header)
	}
}

// LogSummary forwards to all loggers
func (ml *multiLogger) LogSummary(s models.RunSummary) {
	for _, l := range ml.loggers {
		l.LogSummary(s)
	}
}
