package model

import "time"

// Task status constants.
const (
	StatusUnstarted = "unstarted"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Work kind constants.
const (
	KindSquare    = "square"
	KindSqrt      = "sqrt"
	KindFactorial = "factorial"
)

// validTransitions maps each status to the set of statuses it may transition to.
// Finished tasks may be dispatched again by a later run of their group.
var validTransitions = map[string]map[string]bool{
	StatusUnstarted: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusCancelled: true,
	},
	StatusCompleted: {
		StatusRunning: true,
	},
	StatusCancelled: {
		StatusRunning: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Finished reports whether status is terminal for a single run.
func Finished(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// TaskSpec is the caller-supplied description of a task to add to a group.
type TaskSpec struct {
	Name      string `json:"name" yaml:"name"`
	Kind      string `json:"kind" yaml:"kind"`
	Arg       int    `json:"arg" yaml:"arg"`
	TimeoutMS int    `json:"timeout_ms" yaml:"timeout_ms"`
}

// TaskState is a point-in-time snapshot of a task record.
type TaskState struct {
	ID         string     `json:"id"`
	Group      string     `json:"group"`
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	Arg        int        `json:"arg"`
	TimeoutMS  int        `json:"timeout_ms"`
	Status     string     `json:"status"`
	Result     *float64   `json:"result,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// GroupSummary aggregates the tasks of one group.
type GroupSummary struct {
	Name      string `json:"name"`
	TaskCount int    `json:"task_count"`
	Completed int    `json:"completed"`
	Cancelled int    `json:"cancelled"`
	Running   bool   `json:"running"`
}

// Run is the record of one execution of a group.
type Run struct {
	ID         string      `json:"id"`
	Group      string      `json:"group"`
	TaskCount  int         `json:"task_count"`
	Completed  int         `json:"completed"`
	Cancelled  int         `json:"cancelled"`
	DurationMS *int        `json:"duration_ms,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Tasks      []TaskState `json:"tasks,omitempty"`
}

// Event types published while a group runs.
const (
	EventRunStarted   = "run_started"
	EventTaskStarted  = "task_started"
	EventTaskFinished = "task_finished"
	EventRunFinished  = "run_finished"
	EventBroadcast    = "broadcast"
)

// Event is a state change observed during a run.
type Event struct {
	Type  string     `json:"type"`
	RunID string     `json:"run_id,omitempty"`
	Group string     `json:"group"`
	Task  *TaskState `json:"task,omitempty"`
	Time  time.Time  `json:"time"`
}
