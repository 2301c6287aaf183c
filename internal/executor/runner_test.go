package executor

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
}

func TestShellRunnerExitCodes(t *testing.T) {
	skipWithoutShell(t)
	r := NewShellCommandRunner()
	dir := t.TempDir()

	tests := []struct {
		name     string
		command  string
		wantCode int
		wantOut  string
	}{
		{name: "success", command: "echo hello", wantCode: 0, wantOut: "hello\n"},
		{name: "failure", command: "echo oops >&2; exit 3", wantCode: 3, wantOut: "oops\n"},
		{name: "runs in dir", command: "pwd", wantCode: 0, wantOut: filepath.Base(dir)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.RunWithTimeout(context.Background(), dir, tt.command, 10*time.Second)
			if err != nil {
				t.Fatalf("RunWithTimeout() error = %v", err)
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.wantCode)
			}
			if !strings.Contains(res.Output, tt.wantOut) {
				t.Errorf("Output = %q, want it to contain %q", res.Output, tt.wantOut)
			}
			if res.TimedOut {
				t.Error("TimedOut = true, want false")
			}
		})
	}
}

func TestShellRunnerTimeoutKillsProcessGroup(t *testing.T) {
	skipWithoutShell(t)
	r := NewShellCommandRunner()

	start := time.Now()
	// the background sleep keeps the output pipe open unless the group dies
	res, err := r.RunWithTimeout(context.Background(), t.TempDir(), "echo started; sleep 30 & sleep 30", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("RunWithTimeout() error = %v", err)
	}
	if !res.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	if !strings.Contains(res.Output, "started") {
		t.Errorf("Output = %q, want partial output", res.Output)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestShellRunnerExitBeforeDeadlineIsNotTimeout(t *testing.T) {
	skipWithoutShell(t)
	r := NewShellCommandRunner()
	// the deadline passes after the process exited but before the result is built
	r.afterWait = func() { time.Sleep(1500 * time.Millisecond) }

	res, err := r.RunWithTimeout(context.Background(), t.TempDir(), "echo done", time.Second)
	if err != nil {
		t.Fatalf("RunWithTimeout() error = %v", err)
	}
	if res.TimedOut {
		t.Error("TimedOut = true, want false")
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.Output != "done\n" {
		t.Errorf("Output = %q, want %q", res.Output, "done\n")
	}
}

func TestShellRunnerCancellation(t *testing.T) {
	skipWithoutShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	res, err := NewShellCommandRunner().RunWithTimeout(ctx, t.TempDir(), "sleep 30", time.Minute)
	if err != context.Canceled {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if res == nil || res.TimedOut {
		t.Errorf("result = %+v, want non-timeout result", res)
	}
}

func TestShellRunnerStartFailure(t *testing.T) {
	skipWithoutShell(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	if _, err := NewShellCommandRunner().RunWithTimeout(context.Background(), missing, "true", time.Second); err == nil {
		t.Fatal("expected error for missing working directory")
	}
}

func TestShellRunnerKeepsOutputTail(t *testing.T) {
	skipWithoutShell(t)
	r := &ShellCommandRunner{MaxOutputBytes: 64}
	res, err := r.RunWithTimeout(context.Background(), t.TempDir(), "i=0; while [ $i -lt 100 ]; do echo line$i; i=$((i+1)); done", 10*time.Second)
	if err != nil {
		t.Fatalf("RunWithTimeout() error = %v", err)
	}
	if !strings.HasPrefix(res.Output, "...[output truncated]\n") {
		t.Errorf("Output = %q, want truncation marker", res.Output)
	}
	if !strings.HasSuffix(res.Output, "line99\n") {
		t.Errorf("Output = %q, want the last line kept", res.Output)
	}
}
