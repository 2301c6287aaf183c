package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/autocoder/internal/models"
	"github.com/harrison/autocoder/internal/store"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted task graph",
		Long: `Show the task graph persisted in .autocoder/tasks.json: every task with
its status and attempts, the task that would run next, and totals.`,
		Args: cobra.NoArgs,
		RunE: statusCommand,
	}
	cmd.Flags().StringP("project-dir", "C", ".", "Project root")
	cmd.Flags().String("config", "", "Path to config file (default: .autocoder/config.yaml)")
	return cmd
}

func statusCommand(cmd *cobra.Command, args []string) error {
	dir, err := projectDir(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, dir)
	if err != nil {
		return err
	}

	st := store.New(cfg.StorePath, cfg.MaxAttempts)
	if !st.Exists() {
		return &models.PersistenceError{Path: st.Path(), Op: "read", Err: os.ErrNotExist}
	}
	g, err := st.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Store: %s\n\n", st.Path())
	printGraph(out, g, cfg.MaxAttempts)

	fmt.Fprintln(out)
	if next := st.NextTask(g); next != nil {
		fmt.Fprintf(out, "Next task: %s %s\n", next.ID, next.Title)
	} else {
		fmt.Fprintln(out, "Next task: none")
	}
	counts := g.Counts()
	fmt.Fprintf(out, "Totals: %d tasks, %d completed, %d in progress, %d pending, %d failed\n",
		len(g.Tasks), counts[models.StatusCompleted], counts[models.StatusInProgress],
		counts[models.StatusPending], counts[models.StatusFailed])
	return nil
}

// printGraph writes one line per task, indented by depth.
func printGraph(w io.Writer, g *models.TaskGraph, maxAttempts int) {
	fmt.Fprintf(w, "Requirement: %s\n\n", g.Requirement)
	for _, t := range g.Tasks {
		indent := strings.Repeat("  ", t.Depth()-1)
		line := fmt.Sprintf("%s%-6s [%s] %s", indent, t.ID, t.Status, t.Title)
		if t.AttemptCount > 0 {
			line += fmt.Sprintf(" (attempts %d/%d)", t.AttemptCount, maxAttempts)
		}
		if t.Escalated {
			line += " escalated"
		}
		fmt.Fprintln(w, line)
		if t.TestCommand != "" {
			fmt.Fprintf(w, "%s       test: %s\n", indent, t.TestCommand)
		}
	}
}
