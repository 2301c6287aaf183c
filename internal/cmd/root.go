package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for autocoder
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autocoder [requirement]",
		Short: "Autonomous task orchestrator for code generation",
		Long: `Autocoder turns a high-level requirement into a hierarchy of small,
testable subtasks and works through them one at a time.

Each subtask is implemented by a code-generation backend, verified with its
test command, and committed to git on success. Failures are retried, broken
down into smaller subtasks, or escalated. Progress is persisted in
.autocoder/tasks.json so an interrupted run can be resumed with --recover.

Configuration is loaded from .autocoder/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  autocoder "Add a calculator package with add and subtract"
  autocoder -C ./service "Expose /healthz" --model openai:gpt-4o
  autocoder --dry-run "Add a CLI flag for verbose output"
  autocoder --recover
  autocoder status`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCommand,
	}

	addRunFlags(cmd)
	cmd.AddCommand(NewStatusCommand())

	return cmd
}
