package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// OpenCodeCLI runs `opencode run` with the prompt on stdin. The CLI has no
// schema flag, so the schema is appended to the prompt as an instruction.
type OpenCodeCLI struct {
	Binary  string
	Model   string
	Args    []string
	Timeout time.Duration
	Dir     string
}

// NewOpenCodeCLI returns an OpenCodeCLI using binary (default "opencode").
func NewOpenCodeCLI(binary, model string) *OpenCodeCLI {
	if binary == "" {
		binary = "opencode"
	}
	return &OpenCodeCLI{Binary: binary, Model: model}
}

func (o *OpenCodeCLI) args() []string {
	args := []string{"run"}
	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	return append(args, o.Args...)
}

// Complete runs one invocation and returns stdout.
func (o *OpenCodeCLI) Complete(ctx context.Context, req Request) (string, error) {
	if req.Prompt == "" {
		return "", errors.New("prompt is required")
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, o.Binary, o.args()...)
	cmd.Dir = o.Dir
	cmd.Stdin = strings.NewReader(inlinePrompt(req))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("opencode invocation: %w", ctx.Err())
		}
		detail := stderr.String()
		if strings.TrimSpace(detail) == "" {
			detail = stdout.String()
		}
		return "", fmt.Errorf("opencode failed: %w: %s", err, truncate(strings.TrimSpace(detail), 500))
	}
	if strings.TrimSpace(stdout.String()) == "" {
		return "", ErrEmptyResponse
	}
	return stdout.String(), nil
}

// inlinePrompt folds the system prompt and schema into a single prompt for
// backends that take only one text input.
func inlinePrompt(req Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n\nTask:\n")
	}
	b.WriteString(req.Prompt)
	if req.Schema != "" {
		b.WriteString("\n\nThe answer must be a JSON object matching this schema:\n")
		b.WriteString(req.Schema)
		b.WriteString("\n\nIMPORTANT: Return ONLY the JSON object requested.")
	}
	return b.String()
}
