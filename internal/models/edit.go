package models

import "fmt"

// EditAction is what to do with a path.
type EditAction string

const (
	EditWrite  EditAction = "write"
	EditDelete EditAction = "delete"
)

// FileEdit replaces a file's full content or deletes it.
type FileEdit struct {
	Path    string     `json:"path"`
	Action  EditAction `json:"action,omitempty"`
	Content string     `json:"content,omitempty"`
}

// Op returns the action, defaulting to write.
func (e FileEdit) Op() EditAction {
	if e.Action == "" {
		return EditWrite
	}
	return e.Action
}

// EditSet is a validated code-generation response.
type EditSet struct {
	Edits   []FileEdit `json:"edits"`
	Summary string     `json:"summary,omitempty"`
}

// Validate checks the shape of each edit. Path safety is checked when the
// set is applied.
func (s *EditSet) Validate() error {
	seen := make(map[string]bool, len(s.Edits))
	for i, e := range s.Edits {
		if e.Path == "" {
			return &SchemaError{Field: fmt.Sprintf("edits[%d].path", i), Reason: "must not be empty"}
		}
		switch e.Op() {
		case EditWrite, EditDelete:
		default:
			return &SchemaError{Field: fmt.Sprintf("edits[%d].action", i), Value: string(e.Action), Reason: "must be write or delete"}
		}
		if seen[e.Path] {
			return &SchemaError{Field: fmt.Sprintf("edits[%d].path", i), Value: e.Path, Reason: "duplicate path"}
		}
		seen[e.Path] = true
	}
	return nil
}

// Paths lists the edited paths in order.
func (s *EditSet) Paths() []string {
	out := make([]string, 0, len(s.Edits))
	for _, e := range s.Edits {
		out = append(out, e.Path)
	}
	return out
}
