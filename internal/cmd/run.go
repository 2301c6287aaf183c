package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harrison/autocoder/internal/backend"
	"github.com/harrison/autocoder/internal/config"
	"github.com/harrison/autocoder/internal/executor"
	"github.com/harrison/autocoder/internal/filelock"
	"github.com/harrison/autocoder/internal/gitmgr"
	"github.com/harrison/autocoder/internal/history"
	"github.com/harrison/autocoder/internal/logger"
	"github.com/harrison/autocoder/internal/metrics"
	"github.com/harrison/autocoder/internal/models"
	"github.com/harrison/autocoder/internal/orchestrator"
	"github.com/harrison/autocoder/internal/refiner"
	"github.com/harrison/autocoder/internal/store"
	"github.com/harrison/autocoder/internal/workspace"
)

// newBackend builds the code-generation backend; tests replace it.
var newBackend = backend.New

// addRunFlags registers the flags of the root (run) command.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("project-dir", "C", ".", "Project root (git working tree)")
	cmd.Flags().StringP("workspace", "w", "", "Alias for --project-dir")
	_ = cmd.Flags().MarkDeprecated("workspace", "use --project-dir instead")
	cmd.Flags().String("model", "", "Backend configuration name, or provider:model (e.g. claude, openai:gpt-4o)")
	cmd.Flags().Bool("recover", false, "Resume from the persisted task store without replanning")
	cmd.Flags().Int("max-tasks", 0, "Stop after N task executions (0 = unlimited)")
	cmd.Flags().Int("max-attempts", 0, "Attempts per task before breakdown or escalation")
	cmd.Flags().String("test-timeout", "", "Timeout for each test command (e.g. 5m, 90s)")
	cmd.Flags().String("config", "", "Path to config file (default: .autocoder/config.yaml)")
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.Flags().String("log-dir", "", "Directory for log files (default: .autocoder/logs)")
	cmd.Flags().Bool("dry-run", false, "Plan only: print the task graph and exit")
}

// projectDir resolves --project-dir, honouring the deprecated --workspace.
func projectDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("project-dir")
	if cmd.Flags().Lookup("workspace") != nil && cmd.Flags().Changed("workspace") && !cmd.Flags().Changed("project-dir") {
		dir, _ = cmd.Flags().GetString("workspace")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid project directory %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("project directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project directory %s is not a directory", abs)
	}
	return abs, nil
}

// loadConfig loads the config file and merges the flags the user changed.
func loadConfig(cmd *cobra.Command, dir string) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	flags := cmd.Flags()
	var modelPtr, logLevelPtr, logDirPtr *string
	var maxAttemptsPtr, maxTasksPtr *int
	var testTimeoutPtr *time.Duration

	if flags.Lookup("model") != nil && flags.Changed("model") {
		v, _ := flags.GetString("model")
		modelPtr = &v
	}
	if flags.Lookup("max-attempts") != nil && flags.Changed("max-attempts") {
		v, _ := flags.GetInt("max-attempts")
		maxAttemptsPtr = &v
	}
	if flags.Lookup("max-tasks") != nil && flags.Changed("max-tasks") {
		v, _ := flags.GetInt("max-tasks")
		maxTasksPtr = &v
	}
	if flags.Lookup("test-timeout") != nil && flags.Changed("test-timeout") {
		raw, _ := flags.GetString("test-timeout")
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid test timeout format %q: %w", raw, err)
		}
		testTimeoutPtr = &d
	}
	if flags.Lookup("log-level") != nil && flags.Changed("log-level") {
		v, _ := flags.GetString("log-level")
		v = strings.ToLower(v)
		logLevelPtr = &v
	}
	if flags.Lookup("log-dir") != nil && flags.Changed("log-dir") {
		v, _ := flags.GetString("log-dir")
		logDirPtr = &v
	}

	cfg.MergeWithFlags(modelPtr, maxAttemptsPtr, maxTasksPtr, testTimeoutPtr, logLevelPtr, logDirPtr)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Resolve(dir)
	if err := cfg.CheckStatePaths(dir); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runCommand implements the root command: plan and run, or resume.
func runCommand(cmd *cobra.Command, args []string) error {
	recoverFlag, _ := cmd.Flags().GetBool("recover")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	requirement := strings.TrimSpace(strings.Join(args, " "))

	switch {
	case recoverFlag && requirement != "":
		return fmt.Errorf("--recover resumes the persisted plan and does not take a requirement")
	case recoverFlag && dryRun:
		return fmt.Errorf("cannot use --dry-run with --recover")
	case !recoverFlag && requirement == "":
		return fmt.Errorf("a requirement is required (or use --recover to resume)")
	}

	dir, err := projectDir(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, dir)
	if err != nil {
		return err
	}
	backendCfg, err := cfg.Backend(cfg.Model)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	console := logger.NewConsoleLogger(out, cfg.LogLevel)

	if dryRun {
		b, err := newBackend(backendCfg, backend.Options{
			Timeout:       cfg.BackendTimeout,
			RateLimitWait: cfg.RateLimitWait,
			Dir:           dir,
			Logger:        console,
		})
		if err != nil {
			return err
		}
		o := orchestrator.New(dir, store.New(cfg.StorePath, cfg.MaxAttempts), backend.NewClient(b), nil, nil, nil, console)
		g, err := o.Plan(ctx, requirement)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Dry-run mode: planned %d task(s), nothing was written.\n\n", len(g.Tasks))
		printGraph(out, g, cfg.MaxAttempts)
		return nil
	}

	stateDir := filepath.Join(dir, config.StateDirName)
	if err := orchestrator.EnsureStateDir(stateDir); err != nil {
		return &models.PersistenceError{Path: stateDir, Op: "mkdir", Err: err}
	}
	release, err := filelock.Acquire(filepath.Join(stateDir, "run.lock"))
	if err != nil {
		if errors.Is(err, filelock.ErrLocked) {
			return fmt.Errorf("another autocoder run is active in %s", dir)
		}
		return fmt.Errorf("acquire run lock: %w", err)
	}
	defer release()

	runID := uuid.NewString()
	fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel, runID)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer fileLog.Close()
	log := &multiLogger{loggers: []orchestrator.Logger{console, fileLog}}

	git := gitmgr.New(dir, gitmgr.WithAuthor(cfg.Git.AuthorName, cfg.Git.AuthorEmail))
	created, err := git.EnsureRepo(ctx)
	if err != nil {
		return err
	}
	if created {
		log.LogInfo(fmt.Sprintf("Initialized git repository in %s", dir))
	}

	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return &models.PersistenceError{Path: cfg.HistoryPath, Op: "open", Err: err}
	}
	defer hist.Close()

	b, err := newBackend(backendCfg, backend.Options{
		Timeout:       cfg.BackendTimeout,
		RateLimitWait: cfg.RateLimitWait,
		Dir:           dir,
		Logger:        log,
	})
	if err != nil {
		return err
	}
	client := backend.NewClient(b)

	relState, _ := filepath.Rel(dir, stateDir)
	gatherer := workspace.NewGatherer(dir, workspace.Options{
		Include:      cfg.Context.Include,
		Exclude:      cfg.Context.Exclude,
		MaxFileBytes: cfg.Context.MaxFileBytes,
		MaxTokens:    cfg.Context.MaxTokens,
		Tokenizer:    cfg.Context.Tokenizer,
		StateDir:     filepath.ToSlash(relState),
	}, git)
	applier, err := workspace.NewApplier(dir, filepath.ToSlash(relState))
	if err != nil {
		return err
	}

	exec := executor.New(client, gatherer, applier, cfg.TestTimeout)
	exec.History = hist
	exec.Logger = log

	st := store.New(cfg.StorePath, cfg.MaxAttempts)
	o := orchestrator.New(dir, st, client, exec, refiner.New(client, cfg.MaxAttempts, cfg.MaxDepth), git, log)
	o.RunID = runID
	o.History = hist
	o.MaxTasks = cfg.MaxTasks
	o.HandleSignals = true
	if cfg.Metrics.Enabled {
		o.Metrics = metrics.New()
		o.MetricsPath = cfg.Metrics.Path
	}

	if recoverFlag {
		_, err = o.Resume(ctx)
	} else {
		if st.Exists() {
			log.LogWarn(fmt.Sprintf("Replacing existing task store %s (use --recover to resume it)", st.Path()))
		}
		_, err = o.Start(ctx, requirement)
	}
	if err != nil {
		if errors.Is(err, orchestrator.ErrInterrupted) {
			log.LogInfo(fmt.Sprintf("State saved to %s; resume with --recover", st.Path()))
		}
		return err
	}
	return nil
}
