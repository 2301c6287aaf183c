// Package history records every task attempt in a SQLite database under the
// state directory. The executor reads the previous attempt's logs from it and
// the refiner compares failure signatures across attempts.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/autocoder/internal/models"
)

// DefaultFileName is the database file inside the state directory.
const DefaultFileName = "history.db"

// MaxLogBytes bounds stored logs; the tail is kept.
const MaxLogBytes = 64 * 1024

// Attempt is one recorded execution of one task.
type Attempt struct {
	ID        int64
	RunID     string
	TaskID    string
	Number    int // the task's attempt_count when it ran
	Outcome   models.Outcome
	ExitCode  int
	Logs      string
	Error     string
	Signature string // empty for passing attempts
	Edits     []string
	Duration  time.Duration
	CreatedAt time.Time
}

// Passed reports whether the attempt succeeded.
func (a *Attempt) Passed() bool {
	return a != nil && a.Outcome == models.OutcomePassed
}

// Run is one orchestrator invocation.
type Run struct {
	ID          string
	Requirement string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running or after a crash
	Completed   int
	Failed      int
	Executions  int
	Commits     int
	Interrupted bool
}

// Store wraps the history database.
type Store struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// Open opens or creates the database at dbPath and applies pending
// migrations. ":memory:" is accepted for tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// :memory: is per-connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: dbPath, now: time.Now}
	if err := s.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database location.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StartRun inserts a run row.
func (s *Store) StartRun(ctx context.Context, runID, requirement string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, requirement, started_at) VALUES (?, ?, ?)`,
		runID, requirement, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stamps the run with its final counters.
func (s *Store) FinishRun(ctx context.Context, summary models.RunSummary) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, completed = ?, failed = ?, executions = ?, commits = ?, interrupted = ?
		 WHERE id = ?`,
		s.now().UnixMilli(), summary.Completed, len(summary.FailedTasks), summary.Executions,
		summary.Commits, summary.Interrupted, summary.RunID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", summary.RunID)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, requirement, started_at, finished_at, completed, failed, executions, commits, interrupted
		 FROM runs WHERE id = ?`, runID).
		Scan(&r.ID, &r.Requirement, &started, &finished, &r.Completed, &r.Failed, &r.Executions, &r.Commits, &r.Interrupted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		r.FinishedAt = time.UnixMilli(finished.Int64)
	}
	return &r, nil
}

// RecordAttempt stores the outcome of one execution.
func (s *Store) RecordAttempt(ctx context.Context, runID string, task *models.SubTask, result *models.TaskResult) (*Attempt, error) {
	if task == nil || result == nil {
		return nil, errors.New("record attempt: nil task or result")
	}
	a := &Attempt{
		RunID:     runID,
		TaskID:    task.ID,
		Number:    task.AttemptCount,
		Outcome:   result.Status,
		ExitCode:  result.ExitCode,
		Logs:      tail(result.Logs, MaxLogBytes),
		Signature: result.Signature(),
		Edits:     result.Edits,
		Duration:  result.Duration,
		CreatedAt: s.now(),
	}
	if result.Err != nil {
		a.Error = result.Err.Error()
	}

	edits := "[]"
	if len(a.Edits) > 0 {
		data, err := json.Marshal(a.Edits)
		if err != nil {
			return nil, fmt.Errorf("marshal edits: %w", err)
		}
		edits = string(data)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts
		 (run_id, task_id, attempt, outcome, exit_code, logs, error_message, signature, duration_ms, created_at, edits)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.TaskID, a.Number, string(a.Outcome), a.ExitCode, a.Logs, a.Error, a.Signature,
		a.Duration.Milliseconds(), a.CreatedAt.UnixMilli(), edits)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get attempt id: %w", err)
	}
	a.ID = id
	return a, nil
}

const attemptColumns = `id, run_id, task_id, attempt, outcome, exit_code, logs, error_message, signature, duration_ms, created_at, edits`

// LastAttempt returns the most recent attempt for taskID across all runs, or
// nil when the task never ran.
func (s *Store) LastAttempt(ctx context.Context, taskID string) (*Attempt, error) {
	attempts, err := s.query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE task_id = ? ORDER BY id DESC LIMIT 1`, taskID)
	if err != nil || len(attempts) == 0 {
		return nil, err
	}
	return attempts[0], nil
}

// Attempts returns every attempt for taskID, oldest first.
func (s *Store) Attempts(ctx context.Context, taskID string) ([]*Attempt, error) {
	return s.query(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE task_id = ? ORDER BY id ASC`, taskID)
}

// RunAttempts returns every attempt made during runID, oldest first.
func (s *Store) RunAttempts(ctx context.Context, runID string) ([]*Attempt, error) {
	return s.query(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE run_id = ? ORDER BY id ASC`, runID)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Attempt, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		var (
			a         Attempt
			outcome   string
			durMs     int64
			createdMs int64
			edits     sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.TaskID, &a.Number, &outcome, &a.ExitCode, &a.Logs,
			&a.Error, &a.Signature, &durMs, &createdMs, &edits); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Outcome = models.Outcome(outcome)
		a.Duration = time.Duration(durMs) * time.Millisecond
		a.CreatedAt = time.UnixMilli(createdMs)
		if edits.Valid && edits.String != "" && edits.String != "[]" {
			if err := json.Unmarshal([]byte(edits.String), &a.Edits); err != nil {
				return nil, fmt.Errorf("unmarshal edits: %w", err)
			}
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "...[truncated]\n" + s[len(s)-max:]
}
