// Package backend talks to code-generation models. A Backend turns a request
// into raw text; Client wraps one with the planner, coder and breakdown
// prompts and validates every response into strict records before it is used.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harrison/autocoder/internal/models"
)

// ErrEmptyResponse is returned when a backend produces no output.
var ErrEmptyResponse = errors.New("empty response from backend")

// Request is one completion call.
type Request struct {
	System string
	Prompt string
	Schema string // JSON Schema the answer must satisfy; empty for free text
}

// Backend produces raw text for a request.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f BackendFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Client runs the planner, coder and breakdown conversations.
type Client struct {
	backend Backend
}

// NewClient wraps b.
func NewClient(b Backend) *Client {
	return &Client{backend: b}
}

// Plan breaks a requirement into hierarchical subtasks. Any failure is a
// PlanningError.
func (c *Client) Plan(ctx context.Context, requirement string) ([]models.SubTaskSpec, error) {
	if strings.TrimSpace(requirement) == "" {
		return nil, &models.PlanningError{Reason: "requirement is empty"}
	}
	raw, err := c.backend.Complete(ctx, Request{
		System: PlannerSystemPrompt,
		Prompt: PlannerPrompt(requirement),
		Schema: models.PlanSchema(),
	})
	if err != nil {
		return nil, &models.PlanningError{Reason: "backend request failed", Err: err}
	}
	specs, err := ParsePlan(raw)
	if err != nil {
		return nil, &models.PlanningError{Reason: "invalid plan", Err: err}
	}
	if err := validatePlan(specs); err != nil {
		return nil, &models.PlanningError{Reason: "invalid plan", Err: err}
	}
	return specs, nil
}

// CodeRequest carries everything the coder prompt needs.
type CodeRequest struct {
	Task            *models.SubTask
	Context         string // rendered workspace context
	PreviousFailure string // outcome and logs of the last failed attempt
}

// Edits asks the backend to implement a task. Any failure is an ExecutionError.
func (c *Client) Edits(ctx context.Context, in CodeRequest) (*models.EditSet, error) {
	raw, err := c.backend.Complete(ctx, Request{
		System: CoderSystemPrompt,
		Prompt: CoderPrompt(in),
		Schema: models.EditSetSchema(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NewExecutionError(in.Task.ID, "backend request failed", err)
	}
	set, err := ParseEdits(raw)
	if err != nil {
		return nil, models.NewExecutionError(in.Task.ID, "invalid edit response", err)
	}
	return set, nil
}

// MaxBreakdownChildren caps how many corrective subtasks one breakdown adds.
const MaxBreakdownChildren = 3

// Breakdown asks for 2-3 smaller children of a failed task. The returned
// specs carry no ids; the store assigns them.
func (c *Client) Breakdown(ctx context.Context, task *models.SubTask, reason, logs string) ([]models.SubTaskSpec, error) {
	raw, err := c.backend.Complete(ctx, Request{
		System: BreakdownSystemPrompt,
		Prompt: BreakdownPrompt(task, reason, logs),
		Schema: models.PlanSchema(),
	})
	if err != nil {
		return nil, models.NewExecutionError(task.ID, "breakdown request failed", err)
	}
	specs, err := ParsePlan(raw)
	if err != nil {
		return nil, models.NewExecutionError(task.ID, "invalid breakdown", err)
	}
	var out []models.SubTaskSpec
	for _, s := range specs {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		s.ID = ""
		if s.TestCommand == "" {
			s.TestCommand = task.TestCommand
		}
		out = append(out, s)
		if len(out) == MaxBreakdownChildren {
			break
		}
	}
	return out, nil
}

// validatePlan checks id shape, uniqueness and that every parent is present.
// Order is normalised later by the store.
func validatePlan(specs []models.SubTaskSpec) error {
	if len(specs) == 0 {
		return errors.New("plan has no tasks")
	}
	ids := make(map[string]bool, len(specs))
	for i, s := range specs {
		if !models.ValidID(s.ID) {
			return fmt.Errorf("tasks[%d]: invalid id %q", i, s.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("tasks[%d]: duplicate id %q", i, s.ID)
		}
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("tasks[%d]: empty title", i)
		}
		ids[s.ID] = true
	}
	for i, s := range specs {
		if p := models.ParentID(s.ID); p != "" && !ids[p] {
			return fmt.Errorf("tasks[%d]: parent %q of %q is missing", i, p, s.ID)
		}
	}
	return nil
}
