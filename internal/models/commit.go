package models

import (
	"errors"
	"fmt"
	"strings"
)

// CommitMessage is a Conventional Commits message:
//
//	type(scope)!: subject
//
//	body
//
//	BREAKING CHANGE: note
//	Task-Id: 1-2
type CommitMessage struct {
	// Type is the conventional commit type (feat, fix, docs, ...)
	Type string

	// Scope is optional and rendered in parentheses after the type
	Scope string

	// Subject is the single-line summary
	Subject string

	// Body is the optional extended description
	Body string

	// Breaking holds the BREAKING CHANGE footer text when non-empty
	Breaking string

	// TaskID is recorded as a trailer so history can be mapped back to the graph
	TaskID string
}

// Validate checks that the message has the required parts.
func (c *CommitMessage) Validate() error {
	if c.Type == "" {
		return errors.New("commit type is required")
	}
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("commit subject is required")
	}
	if strings.ContainsAny(c.Subject, "\r\n") {
		return errors.New("commit subject must be a single line")
	}
	return nil
}

// Header formats the first line: "type(scope)!: subject".
func (c *CommitMessage) Header() string {
	var sb strings.Builder
	sb.WriteString(c.Type)
	if c.Scope != "" {
		sb.WriteString(fmt.Sprintf("(%s)", c.Scope))
	}
	if c.Breaking != "" {
		sb.WriteString("!")
	}
	sb.WriteString(": ")
	sb.WriteString(c.Subject)
	return sb.String()
}

// String returns the full message including body and footers.
func (c *CommitMessage) String() string {
	var sb strings.Builder
	sb.WriteString(c.Header())
	if body := strings.TrimSpace(c.Body); body != "" {
		sb.WriteString("\n\n")
		sb.WriteString(body)
	}
	var footers []string
	if c.Breaking != "" {
		footers = append(footers, "BREAKING CHANGE: "+c.Breaking)
	}
	if c.TaskID != "" {
		footers = append(footers, "Task-Id: "+c.TaskID)
	}
	if len(footers) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(strings.Join(footers, "\n"))
	}
	sb.WriteString("\n")
	return sb.String()
}
