package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the lifecycle state of a SubTask.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four legal statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", &SchemaError{Field: "status", Value: raw, Reason: "must be one of pending, in_progress, completed, failed"}
	}
	return s, nil
}

var taskIDPattern = regexp.MustCompile(`^[0-9]+(-[0-9]+)*$`)

// SubTask is one node of the task graph. Its ID is a hyphen-delimited tree
// address: "1" is a root, "1-2" is the second child of "1".
type SubTask struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       Status    `json:"status"`
	TestCommand  string    `json:"test_command"`
	ParentID     string    `json:"parent_id,omitempty"`
	CreatedTime  time.Time `json:"created_time"`
	UpdatedTime  time.Time `json:"updated_time"`
	AttemptCount int       `json:"attempt_count"`
	Escalated    bool      `json:"escalated,omitempty"`
}

// NewSubTask builds a pending task and validates it.
func NewSubTask(id, title, description, testCommand string, now time.Time) (*SubTask, error) {
	t := &SubTask{
		ID:          strings.TrimSpace(id),
		Title:       title,
		Description: description,
		Status:      StatusPending,
		TestCommand: testCommand,
		ParentID:    ParentID(strings.TrimSpace(id)),
		CreatedTime: now,
		UpdatedTime: now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the id shape, parent linkage, and status.
func (t *SubTask) Validate() error {
	if t.ID == "" {
		return &SchemaError{Field: "id", Reason: "is required"}
	}
	if !ValidID(t.ID) {
		return &SchemaError{Field: "id", Value: t.ID, Reason: "must be hyphen-separated numeric segments"}
	}
	if !t.Status.Valid() {
		return &SchemaError{Field: "status", Value: string(t.Status), Reason: "must be one of pending, in_progress, completed, failed"}
	}
	if t.ParentID != ParentID(t.ID) {
		return &SchemaError{Field: "parent_id", Value: t.ParentID, Reason: fmt.Sprintf("does not match id %s", t.ID)}
	}
	if t.AttemptCount < 0 {
		return &SchemaError{Field: "attempt_count", Value: fmt.Sprint(t.AttemptCount), Reason: "must not be negative"}
	}
	return nil
}

// IsRoot reports whether the task has no parent.
func (t *SubTask) IsRoot() bool {
	return t.ParentID == ""
}

// IsTerminal reports whether the task can no longer be scheduled.
func (t *SubTask) IsTerminal(maxAttempts int) bool {
	switch t.Status {
	case StatusCompleted:
		return true
	case StatusFailed:
		return !t.Retryable(maxAttempts)
	}
	return false
}

// Retryable reports whether a failed task still has attempts left.
func (t *SubTask) Retryable(maxAttempts int) bool {
	return t.Status == StatusFailed && !t.Escalated && t.AttemptCount < maxAttempts
}

// Depth returns the number of id segments; roots have depth 1.
func (t *SubTask) Depth() int {
	return Depth(t.ID)
}

// ValidID reports whether id is a well-formed hierarchical task id.
func ValidID(id string) bool {
	return taskIDPattern.MatchString(id)
}

// ParentID returns the id prefix up to the last hyphen, or "" for roots.
func ParentID(id string) string {
	i := strings.LastIndex(id, "-")
	if i < 0 {
		return ""
	}
	return id[:i]
}

// Depth returns the number of segments in id.
func Depth(id string) int {
	if id == "" {
		return 0
	}
	return strings.Count(id, "-") + 1
}

// IsAncestor reports whether ancestor is a strict prefix address of id.
func IsAncestor(ancestor, id string) bool {
	return strings.HasPrefix(id, ancestor+"-")
}
