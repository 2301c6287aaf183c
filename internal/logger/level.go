// Package logger provides the console and file sinks for orchestrator runs.
//
// Both sinks are safe for concurrent use and share the same level names:
// trace, debug, info, warn, error.
package logger

import "strings"

const (
	levelTrace int = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
)

// NormalizeLevel lowercases level and falls back to "info" for anything unknown.
func NormalizeLevel(level string) string {
	switch normalized := strings.ToLower(strings.TrimSpace(level)); normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	default:
		return "info"
	}
}

func levelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func enabled(configured, message string) bool {
	return levelToInt(message) >= levelToInt(configured)
}
