package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TaskGraph is the ordered, persisted tree of SubTasks for one requirement.
// Tasks are kept in pre-order: every parent precedes its descendants and
// siblings keep their declared order.
type TaskGraph struct {
	Requirement string     `json:"requirement"`
	Tasks       []*SubTask `json:"tasks"`
}

// NewTaskGraph returns an empty graph for requirement.
func NewTaskGraph(requirement string) *TaskGraph {
	return &TaskGraph{Requirement: requirement, Tasks: []*SubTask{}}
}

// IsEmpty reports whether the graph has no tasks.
func (g *TaskGraph) IsEmpty() bool {
	return g == nil || len(g.Tasks) == 0
}

// Get returns the task with id, or nil.
func (g *TaskGraph) Get(id string) *SubTask {
	for _, t := range g.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Index returns the position of id in the traversal order, or -1.
func (g *TaskGraph) Index(id string) int {
	for i, t := range g.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Children returns the direct children of id in declared order.
func (g *TaskGraph) Children(id string) []*SubTask {
	var out []*SubTask
	for _, t := range g.Tasks {
		if t.ParentID == id && id != "" {
			out = append(out, t)
		}
	}
	return out
}

// Descendants returns every task below id in traversal order.
func (g *TaskGraph) Descendants(id string) []*SubTask {
	var out []*SubTask
	for _, t := range g.Tasks {
		if IsAncestor(id, t.ID) {
			out = append(out, t)
		}
	}
	return out
}

// Ancestors returns the chain of tasks above id, nearest first. Missing
// links are skipped.
func (g *TaskGraph) Ancestors(id string) []*SubTask {
	var out []*SubTask
	for p := ParentID(id); p != ""; p = ParentID(p) {
		if t := g.Get(p); t != nil {
			out = append(out, t)
		}
	}
	return out
}

// HasIncompleteChildren reports whether any direct child of id is not completed.
func (g *TaskGraph) HasIncompleteChildren(id string) bool {
	for _, c := range g.Children(id) {
		if c.Status != StatusCompleted {
			return true
		}
	}
	return false
}

// Counts tallies tasks by status.
func (g *TaskGraph) Counts() map[Status]int {
	counts := map[Status]int{}
	for _, t := range g.Tasks {
		counts[t.Status]++
	}
	return counts
}

// Validate checks every graph invariant: task validity, unique ids, parents
// present and ordered before their children, and completed parents only over
// completed children.
func (g *TaskGraph) Validate() error {
	seen := make(map[string]int, len(g.Tasks))
	for i, t := range g.Tasks {
		if t == nil {
			return &SchemaError{Field: "tasks", Value: fmt.Sprint(i), Reason: "null task record"}
		}
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := seen[t.ID]; dup {
			return &SchemaError{Field: "id", Value: t.ID, Reason: "duplicate task id"}
		}
		if t.ParentID != "" {
			if _, ok := seen[t.ParentID]; !ok {
				return &SchemaError{Field: "parent_id", Value: t.ParentID, Reason: fmt.Sprintf("parent of %s missing or ordered after it", t.ID)}
			}
		}
		seen[t.ID] = i
	}
	for _, t := range g.Tasks {
		if t.Status == StatusCompleted && g.HasIncompleteChildren(t.ID) {
			return &SchemaError{Field: "status", Value: t.ID, Reason: "completed task has incomplete children"}
		}
	}
	return nil
}

// Encode renders the graph in its persisted JSON form.
func Encode(g *TaskGraph) ([]byte, error) {
	out := *g
	if out.Tasks == nil {
		out.Tasks = []*SubTask{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("encode task graph: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses and validates a persisted graph.
func Decode(data []byte) (*TaskGraph, error) {
	var g TaskGraph
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&g); err != nil {
		return nil, &SchemaError{Field: "document", Reason: err.Error()}
	}
	if g.Tasks == nil {
		g.Tasks = []*SubTask{}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}
