package models

import "fmt"

// ActionKind tags the Refiner's decision.
type ActionKind int

const (
	// ActionRetry leaves the task failed-with-retries so it is picked up again.
	ActionRetry ActionKind = iota
	// ActionInsertSubtasks appends corrective children and reverts the parent to pending.
	ActionInsertSubtasks
	// ActionEscalate marks the task terminally failed.
	ActionEscalate
)

func (k ActionKind) String() string {
	switch k {
	case ActionRetry:
		return "retry"
	case ActionInsertSubtasks:
		return "insert-subtasks"
	case ActionEscalate:
		return "escalate"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// SubTaskSpec is a validated task proposal from the backend. ID is set for
// planned tasks; corrective children get theirs from the store.
type SubTaskSpec struct {
	ID          string
	Title       string
	Description string
	TestCommand string
}

// Action is the Refiner's verdict on a failed attempt.
type Action struct {
	Kind     ActionKind
	Reason   string
	Subtasks []SubTaskSpec // only for ActionInsertSubtasks
}

// Retry builds a retry action.
func Retry(reason string) Action {
	return Action{Kind: ActionRetry, Reason: reason}
}

// InsertSubtasks builds an insert-subtasks action.
func InsertSubtasks(reason string, specs []SubTaskSpec) Action {
	return Action{Kind: ActionInsertSubtasks, Reason: reason, Subtasks: specs}
}

// Escalate builds an escalation action.
func Escalate(reason string) Action {
	return Action{Kind: ActionEscalate, Reason: reason}
}
