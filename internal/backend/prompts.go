package backend

import (
	"fmt"
	"strings"

	"github.com/harrison/autocoder/internal/models"
)

// PlannerSystemPrompt frames the planning conversation.
const PlannerSystemPrompt = `You are a senior software architect. Break a high-level requirement into small, incremental, testable subtasks.

Task ids are hierarchical strings:
- top-level tasks are "1", "2", "3", ...
- children join the parent id with "-": task "1" splits into "1-1", "1-2"; task "1-1" into "1-1-1", "1-1-2"
- every id is unique and a parent is listed before its children

Every task needs a shell test_command that exits 0 only when the task is done.
Output ONLY JSON: {"tasks": [{"id": "1", "title": "...", "description": "...", "test_command": "..."}]}`

// CoderSystemPrompt frames the implementation conversation.
const CoderSystemPrompt = `You are an expert software engineer implementing one subtask in an existing codebase.

Return the FULL content of every file you create or change. Paths are relative to the project root; never use absolute paths.
Output ONLY JSON: {"edits": [{"path": "dir/file.ext", "action": "write", "content": "..."}], "summary": "..."}
Use "action": "delete" to remove a file.

If you cannot produce JSON, use this format instead:
FILE: path/to/file
` + "```" + `
content
` + "```"

// BreakdownSystemPrompt frames the corrective decomposition conversation.
const BreakdownSystemPrompt = `You are a task breakdown specialist. Split a failing task into 2-3 smaller, independently testable subtasks. Output ONLY JSON.`

// PlannerPrompt renders the planning request.
func PlannerPrompt(requirement string) string {
	return "Requirement: " + strings.TrimSpace(requirement)
}

// CoderPrompt renders the implementation request.
func CoderPrompt(in CodeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subtask %s: %s\n", in.Task.ID, in.Task.Title)
	if d := strings.TrimSpace(in.Task.Description); d != "" {
		fmt.Fprintf(&b, "\n%s\n", d)
	}
	fmt.Fprintf(&b, "\nTest command (must exit 0): %s\n", in.Task.TestCommand)
	if in.PreviousFailure != "" {
		fmt.Fprintf(&b, "\nThe previous attempt failed:\n%s\n\nFix the cause of this failure.\n", in.PreviousFailure)
	}
	if in.Context != "" {
		fmt.Fprintf(&b, "\nCurrent codebase:\n%s\n", in.Context)
	}
	return b.String()
}

// BreakdownPrompt renders the corrective decomposition request.
func BreakdownPrompt(task *models.SubTask, reason, logs string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This task could not be completed (%s):\n\n", reason)
	fmt.Fprintf(&b, "Task id: %s\nTitle: %s\nDescription: %s\nTest command: %s\n", task.ID, task.Title, task.Description, task.TestCommand)
	if logs = strings.TrimSpace(logs); logs != "" {
		fmt.Fprintf(&b, "\nLast output:\n%s\n", tailLines(logs, 60))
	}
	fmt.Fprintf(&b, "\nBreak it into 2-3 smaller subtasks, each with id (%s-1, %s-2, ...), title, description and test_command.\n", task.ID, task.ID)
	b.WriteString(`Return ONLY a JSON object with a "tasks" array.`)
	return b.String()
}

func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
