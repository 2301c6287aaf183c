// Package store owns the persisted task graph. It is the only code that
// mutates SubTask status, and every mutation goes through the transition
// table below.
package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/autocoder/internal/filelock"
	"github.com/harrison/autocoder/internal/models"
)

// DefaultFileName is the task store file inside the state directory.
const DefaultFileName = "tasks.json"

// transitions lists the legal status changes. Recovery of interrupted work
// (in_progress -> pending) is handled separately by RecoverInterrupted.
var transitions = map[models.Status][]models.Status{
	models.StatusPending:    {models.StatusInProgress},
	models.StatusInProgress: {models.StatusCompleted, models.StatusFailed},
	models.StatusFailed:     {models.StatusInProgress, models.StatusPending},
	models.StatusCompleted:  {},
}

// TaskManager loads, queries, mutates, and saves one task graph file.
type TaskManager struct {
	path        string
	maxAttempts int
	clock       func() time.Time
}

// New returns a TaskManager for the store at path. maxAttempts bounds how
// many times a failed task may be started again.
func New(path string, maxAttempts int) *TaskManager {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &TaskManager{
		path:        path,
		maxAttempts: maxAttempts,
		clock:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// WithClock overrides the timestamp source.
func (m *TaskManager) WithClock(clock func() time.Time) *TaskManager {
	m.clock = clock
	return m
}

// Path returns the store location.
func (m *TaskManager) Path() string {
	return m.path
}

// MaxAttempts returns the attempt ceiling used for retry eligibility.
func (m *TaskManager) MaxAttempts() int {
	return m.maxAttempts
}

// Exists reports whether a store file is present.
func (m *TaskManager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Load reads the graph from the manager's path.
func (m *TaskManager) Load() (*models.TaskGraph, error) {
	return Load(m.path)
}

// Save persists g to the manager's path.
func (m *TaskManager) Save(g *models.TaskGraph) error {
	return Save(g, m.path)
}

// Load reads a persisted graph. A missing file yields an empty graph; a file
// that exists but does not decode and validate is a PersistenceError.
func Load(path string) (*models.TaskGraph, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return models.NewTaskGraph(""), nil
	}
	if err != nil {
		return nil, &models.PersistenceError{Path: path, Op: "read", Err: err}
	}
	g, err := models.Decode(data)
	if err != nil {
		return nil, &models.PersistenceError{Path: path, Op: "decode", Err: err}
	}
	return g, nil
}

// Save validates and atomically writes g to path under its lock file.
func Save(g *models.TaskGraph, path string) error {
	if err := g.Validate(); err != nil {
		return &models.PersistenceError{Path: path, Op: "validate", Err: err}
	}
	data, err := models.Encode(g)
	if err != nil {
		return &models.PersistenceError{Path: path, Op: "encode", Err: err}
	}
	if err := filelock.LockAndWrite(path, data); err != nil {
		return &models.PersistenceError{Path: path, Op: "write", Err: err}
	}
	return nil
}

// NextTask walks the graph in stored pre-order and returns the first task
// that is pending or retryable, has no unfinished children, and sits under
// no in-progress or failed ancestor. A parent with open children waits for
// them, so children are scheduled before the parent itself runs.
func (m *TaskManager) NextTask(g *models.TaskGraph) *models.SubTask {
	for _, t := range g.Tasks {
		if t.Status != models.StatusPending && !t.Retryable(m.maxAttempts) {
			continue
		}
		if g.HasIncompleteChildren(t.ID) {
			continue
		}
		if blocked(g, t) {
			continue
		}
		return t
	}
	return nil
}

func blocked(g *models.TaskGraph, t *models.SubTask) bool {
	for _, a := range g.Ancestors(t.ID) {
		if a.Status == models.StatusInProgress || a.Status == models.StatusFailed {
			return true
		}
	}
	return false
}

// UpdateStatus moves task id to status, refreshing updated_time. Starting a
// task increments attempt_count; reverting a failed parent to pending (it
// now waits on corrective children) resets its attempts.
func (m *TaskManager) UpdateStatus(g *models.TaskGraph, id string, status models.Status) error {
	t := g.Get(id)
	if t == nil {
		return &models.UnknownTaskError{ID: id}
	}
	if !status.Valid() {
		return &models.SchemaError{Field: "status", Value: string(status), Reason: "unknown status"}
	}
	if !allowed(t.Status, status) {
		return &models.InvalidTransitionError{TaskID: id, From: t.Status, To: status}
	}

	switch status {
	case models.StatusCompleted:
		if g.HasIncompleteChildren(id) {
			return &models.InvalidTransitionError{TaskID: id, From: t.Status, To: status, Reason: "children not completed"}
		}
	case models.StatusInProgress:
		if t.Status == models.StatusFailed && !t.Retryable(m.maxAttempts) {
			return &models.InvalidTransitionError{TaskID: id, From: t.Status, To: status, Reason: "no retries remaining"}
		}
		t.AttemptCount++
	case models.StatusPending:
		if !g.HasIncompleteChildren(id) {
			return &models.InvalidTransitionError{TaskID: id, From: t.Status, To: status, Reason: "no children to wait on"}
		}
		t.AttemptCount = 0
		t.Escalated = false
	}

	t.Status = status
	t.UpdatedTime = m.clock()
	return nil
}

func allowed(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Escalate marks a failed task terminal so NextTask never revisits it.
func (m *TaskManager) Escalate(g *models.TaskGraph, id string) error {
	t := g.Get(id)
	if t == nil {
		return &models.UnknownTaskError{ID: id}
	}
	if t.Status != models.StatusFailed {
		return &models.InvalidTransitionError{TaskID: id, From: t.Status, To: models.StatusFailed, Reason: "only failed tasks can be escalated"}
	}
	t.Escalated = true
	t.UpdatedTime = m.clock()
	return nil
}

// RecoverInterrupted returns tasks left in_progress by a crash to pending.
// The interrupted attempt produced no result and is not counted.
func (m *TaskManager) RecoverInterrupted(g *models.TaskGraph) []string {
	var ids []string
	for _, t := range g.Tasks {
		if t.Status != models.StatusInProgress {
			continue
		}
		t.Status = models.StatusPending
		if t.AttemptCount > 0 {
			t.AttemptCount--
		}
		t.UpdatedTime = m.clock()
		ids = append(ids, t.ID)
	}
	return ids
}

// BuildGraph turns a validated plan into a fresh graph. Specs must carry
// hierarchical ids; the result is reordered into pre-order with sibling
// order preserved.
func (m *TaskManager) BuildGraph(requirement string, specs []models.SubTaskSpec) (*models.TaskGraph, error) {
	if len(specs) == 0 {
		return nil, &models.SchemaError{Field: "tasks", Reason: "plan is empty"}
	}
	now := m.clock()
	flat := make([]*models.SubTask, 0, len(specs))
	for _, s := range specs {
		t, err := models.NewSubTask(s.ID, s.Title, s.Description, s.TestCommand, now)
		if err != nil {
			return nil, err
		}
		flat = append(flat, t)
	}

	g := models.NewTaskGraph(requirement)
	g.Tasks = preorder(flat)
	if len(g.Tasks) != len(flat) {
		// something was unreachable from a root; let Validate name it
		g.Tasks = flat
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func preorder(tasks []*models.SubTask) []*models.SubTask {
	children := map[string][]*models.SubTask{}
	for _, t := range tasks {
		children[t.ParentID] = append(children[t.ParentID], t)
	}
	out := make([]*models.SubTask, 0, len(tasks))
	var visit func(parent string)
	visit = func(parent string) {
		for _, c := range children[parent] {
			out = append(out, c)
			visit(c.ID)
		}
	}
	visit("")
	return out
}

// InsertChildren appends corrective children under parentID. Ids continue
// the parent's local numbering and the new tasks are placed after the
// parent's last descendant so stored order stays pre-order.
func (m *TaskManager) InsertChildren(g *models.TaskGraph, parentID string, specs []models.SubTaskSpec) ([]*models.SubTask, error) {
	parent := g.Get(parentID)
	if parent == nil {
		return nil, &models.UnknownTaskError{ID: parentID}
	}
	if len(specs) == 0 {
		return nil, &models.SchemaError{Field: "subtasks", Reason: "no children to insert"}
	}

	next := 1
	for _, c := range g.Children(parentID) {
		local := c.ID[len(parentID)+1:]
		if n, err := strconv.Atoi(local); err == nil && n >= next {
			next = n + 1
		}
	}

	now := m.clock()
	created := make([]*models.SubTask, 0, len(specs))
	for i, s := range specs {
		if strings.TrimSpace(s.Title) == "" {
			return nil, &models.SchemaError{Field: "title", Reason: fmt.Sprintf("subtask %d has no title", i+1)}
		}
		id := fmt.Sprintf("%s-%d", parentID, next+i)
		t, err := models.NewSubTask(id, s.Title, s.Description, s.TestCommand, now)
		if err != nil {
			return nil, err
		}
		created = append(created, t)
	}

	at := g.Index(parentID) + 1
	for at < len(g.Tasks) && models.IsAncestor(parentID, g.Tasks[at].ID) {
		at++
	}
	tasks := make([]*models.SubTask, 0, len(g.Tasks)+len(created))
	tasks = append(tasks, g.Tasks[:at]...)
	tasks = append(tasks, created...)
	tasks = append(tasks, g.Tasks[at:]...)
	g.Tasks = tasks

	return created, nil
}
