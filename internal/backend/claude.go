package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// claudeTmpDir keeps the CLI away from editor socket files in the shared TMPDIR.
var claudeTmpDir = filepath.Join(os.TempDir(), "autocoder-claude")

// ClaudeCLI invokes the claude command line in print mode with a JSON schema.
type ClaudeCLI struct {
	Binary  string
	Model   string
	Args    []string
	Timeout time.Duration
	Dir     string // working directory for the CLI
}

// NewClaudeCLI returns a ClaudeCLI using binary (default "claude").
func NewClaudeCLI(binary, model string) *ClaudeCLI {
	if binary == "" {
		binary = "claude"
	}
	return &ClaudeCLI{Binary: binary, Model: model}
}

// args builds the CLI argument list for req.
func (c *ClaudeCLI) args(req Request) []string {
	args := []string{}
	if req.System != "" {
		args = append(args, "--system-prompt", req.System)
	}
	args = append(args, "-p", req.Prompt)
	if req.Schema != "" {
		args = append(args, "--json-schema", req.Schema)
	}
	args = append(args, "--output-format", "json")
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	args = append(args, "--settings", `{"disableAllHooks": true}`)
	return append(args, c.Args...)
}

// Complete runs one invocation and unwraps the CLI's JSON envelope.
func (c *ClaudeCLI) Complete(ctx context.Context, req Request) (string, error) {
	if req.Prompt == "" {
		return "", errors.New("prompt is required")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.args(req)...)
	cmd.Dir = c.Dir
	setCleanEnv(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("claude invocation: %w", ctx.Err())
		}
		// the envelope can carry the real reason (rate limit, auth)
		if content, perr := unwrapClaudeEnvelope(stdout.Bytes()); perr != nil && content == "" {
			return "", fmt.Errorf("claude invocation failed: %w: %v", err, perr)
		}
		return "", fmt.Errorf("claude invocation failed: %w (output: %s)", err, truncate(stdout.String()+stderr.String(), 500))
	}
	content, err := unwrapClaudeEnvelope(stdout.Bytes())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// unwrapClaudeEnvelope returns structured_output when the CLI honoured
// --json-schema, otherwise the result text with code fences stripped.
// Output that isn't an envelope is returned unchanged.
func unwrapClaudeEnvelope(out []byte) (string, error) {
	var env struct {
		Type             string          `json:"type"`
		IsError          bool            `json:"is_error"`
		Result           string          `json:"result"`
		StructuredOutput json.RawMessage `json:"structured_output"`
	}
	if err := json.Unmarshal(out, &env); err != nil || env.Type == "" {
		return string(out), nil
	}
	if env.IsError {
		return "", fmt.Errorf("claude reported an error: %s", env.Result)
	}
	if len(env.StructuredOutput) > 0 && string(env.StructuredOutput) != "null" {
		return string(env.StructuredOutput), nil
	}
	return stripFences(env.Result), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func setCleanEnv(cmd *exec.Cmd) {
	os.MkdirAll(claudeTmpDir, 0755)
	env := os.Environ()
	found := false
	for i, kv := range env {
		if strings.HasPrefix(kv, "TMPDIR=") {
			env[i] = "TMPDIR=" + claudeTmpDir
			found = true
			break
		}
	}
	if !found {
		env = append(env, "TMPDIR="+claudeTmpDir)
	}
	cmd.Env = env
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
