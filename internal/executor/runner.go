package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// DefaultMaxOutputBytes caps captured test output; the tail is kept.
const DefaultMaxOutputBytes = 1 << 20

// CommandResult is the outcome of one shell command.
type CommandResult struct {
	Output   string // combined stdout and stderr
	ExitCode int    // -1 when the process was killed
	TimedOut bool
	Duration time.Duration
}

// CommandRunner abstracts shell command execution for testability.
type CommandRunner interface {
	// RunWithTimeout runs command with sh -c in dir. A nonzero exit or a
	// timeout is reported in the result; the error is reserved for commands
	// that could not be started and for cancellation of ctx.
	RunWithTimeout(ctx context.Context, dir, command string, timeout time.Duration) (*CommandResult, error)
}

// ShellCommandRunner executes commands via the system shell.
type ShellCommandRunner struct {
	MaxOutputBytes int

	afterWait func() // test hook, runs once the process has been reaped
}

// NewShellCommandRunner creates a CommandRunner that executes real shell commands.
func NewShellCommandRunner() *ShellCommandRunner {
	return &ShellCommandRunner{MaxOutputBytes: DefaultMaxOutputBytes}
}

// RunWithTimeout starts command in its own process group and kills the whole
// group when the timeout fires or ctx is cancelled.
func (r *ShellCommandRunner) RunWithTimeout(ctx context.Context, dir, command string, timeout time.Duration) (*CommandResult, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := &tailBuffer{max: r.MaxOutputBytes}
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	// grandchildren holding the pipe open must not block Wait forever
	cmd.WaitDelay = 2 * time.Second
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", command, err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var (
		waitErr error
		stopErr error
	)
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		stopErr = runCtx.Err()
		killProcessGroup(cmd)
		waitErr = <-done
	}
	if r.afterWait != nil {
		r.afterWait()
	}

	// a process that exited on its own counts as finished even when the
	// deadline passed before Wait returned
	res := &CommandResult{Output: out.String(), Duration: time.Since(start)}
	if stopErr != nil {
		res.ExitCode = -1
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if errors.Is(stopErr, context.DeadlineExceeded) {
			res.TimedOut = true
			return res, nil
		}
		return res, stopErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		// pipe copy cut short by WaitDelay; the exit status is still valid
		if errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("wait for %q: %w", command, waitErr)
	}
	return res, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if t.max > 0 && len(t.buf) > t.max {
		t.buf = append(t.buf[:0:0], t.buf[len(t.buf)-t.max:]...)
		t.truncated = true
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.truncated {
		return "...[output truncated]\n" + string(t.buf)
	}
	return string(t.buf)
}
