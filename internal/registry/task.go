package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/cohort/internal/cancel"
	"github.com/seantiz/cohort/internal/model"
	"github.com/seantiz/cohort/internal/work"
)

// Task is one unit of work within a group. Identity, work handle, argument,
// timeout and token are fixed at creation; status fields are written by the
// task's worker through the Mark methods.
type Task struct {
	ID      string
	Group   string
	Name    string
	Kind    string
	Work    work.Work
	Arg     int
	Timeout time.Duration
	Token   *cancel.Token

	mu         sync.Mutex
	status     string
	result     float64
	startedAt  time.Time
	finishedAt time.Time
}

func newTask(group string, spec model.TaskSpec, w work.Work) *Task {
	return &Task{
		ID:      model.NewID(),
		Group:   group,
		Name:    spec.Name,
		Kind:    spec.Kind,
		Work:    w,
		Arg:     spec.Arg,
		Timeout: time.Duration(spec.TimeoutMS) * time.Millisecond,
		Token:   cancel.New(),
		status:  model.StatusUnstarted,
	}
}

// Status returns the current status.
func (t *Task) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// MarkRunning records that a worker picked the task up at start.
func (t *Task) MarkRunning(start time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(model.StatusRunning); err != nil {
		return err
	}
	t.startedAt = start
	t.finishedAt = time.Time{}
	t.result = 0
	return nil
}

// MarkCompleted records the computed value.
func (t *Task) MarkCompleted(value float64, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(model.StatusCompleted); err != nil {
		return err
	}
	t.result = value
	t.finishedAt = at
	return nil
}

// MarkCancelled records that the task observed its token before finishing.
func (t *Task) MarkCancelled(at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(model.StatusCancelled); err != nil {
		return err
	}
	t.finishedAt = at
	return nil
}

func (t *Task) transition(to string) error {
	if !model.ValidTransition(t.status, to) {
		return fmt.Errorf("task %s %s -> %s: %w", t.ID, t.status, to, ErrInvalidTransition)
	}
	t.status = to
	return nil
}

// Snapshot returns a copy of the task's state safe to hand to callers.
func (t *Task) Snapshot() model.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := model.TaskState{
		ID:        t.ID,
		Group:     t.Group,
		Name:      t.Name,
		Kind:      t.Kind,
		Arg:       t.Arg,
		TimeoutMS: int(t.Timeout.Milliseconds()),
		Status:    t.status,
	}
	if t.status == model.StatusCompleted {
		v := t.result
		s.Result = &v
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt.UTC()
		s.StartedAt = &started
	}
	if model.Finished(t.status) {
		finished := t.finishedAt.UTC()
		s.FinishedAt = &finished
		dur := int(t.finishedAt.Sub(t.startedAt).Milliseconds())
		s.DurationMS = &dur
	}
	return s
}
