package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/cohort/internal/model"
	"github.com/seantiz/cohort/internal/work"
)

var (
	// ErrGroupExists is returned when creating a group whose name is taken.
	ErrGroupExists = errors.New("group already exists")

	// ErrGroupNotFound is returned when a group name is not registered.
	ErrGroupNotFound = errors.New("group not found")

	// ErrNoGroupSelected is returned when an operation needs the current group
	// and none has been selected.
	ErrNoGroupSelected = errors.New("no group selected")

	// ErrGroupRunning is returned when a group is run while a previous run of
	// the same group is still in flight.
	ErrGroupRunning = errors.New("group is already running")

	// ErrInvalidName is returned for empty group or task names.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidTimeout is returned when a task timeout is not positive.
	ErrInvalidTimeout = errors.New("timeout must be positive")

	// ErrInvalidTransition is returned when a task status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type group struct {
	name      string
	tasks     []*Task
	running   bool
	createdAt time.Time
}

// Registry maps group names to groups and tracks the current selection.
type Registry struct {
	mu      sync.RWMutex
	groups  map[string]*group
	current string
	kinds   *work.Registry
}

// New creates an empty registry resolving work kinds through kinds.
func New(kinds *work.Registry) *Registry {
	return &Registry{
		groups: make(map[string]*group),
		kinds:  kinds,
	}
}

// Kinds returns the work registry tasks are resolved against.
func (r *Registry) Kinds() *work.Registry {
	return r.kinds
}

// CreateGroup registers an empty group.
func (r *Registry) CreateGroup(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("group name %q: %w", name, ErrInvalidName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[name]; ok {
		return fmt.Errorf("%w: %s", ErrGroupExists, name)
	}
	r.groups[name] = &group{name: name, createdAt: time.Now().UTC()}
	return nil
}

// SwitchGroup makes name the current group.
func (r *Registry) SwitchGroup(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[name]; !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	r.current = name
	return nil
}

// Current returns the selected group name.
func (r *Registry) Current() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == "" {
		return "", ErrNoGroupSelected
	}
	return r.current, nil
}

// AddTask appends a new task with a fresh token to the named group.
func (r *Registry) AddTask(groupName string, spec model.TaskSpec) (model.TaskState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupName]
	if !ok {
		return model.TaskState{}, fmt.Errorf("%w: %s", ErrGroupNotFound, groupName)
	}
	if strings.TrimSpace(spec.Name) == "" {
		return model.TaskState{}, fmt.Errorf("task name %q: %w", spec.Name, ErrInvalidName)
	}

	w, err := r.kinds.Resolve(spec.Kind)
	if err != nil {
		return model.TaskState{}, err
	}
	if err := w.Validate(spec.Arg); err != nil {
		return model.TaskState{}, err
	}
	if spec.TimeoutMS <= 0 {
		return model.TaskState{}, fmt.Errorf("task %s timeout %dms: %w", spec.Name, spec.TimeoutMS, ErrInvalidTimeout)
	}

	t := newTask(groupName, spec, w)
	g.tasks = append(g.tasks, t)
	return t.Snapshot(), nil
}

// Status returns snapshots of the group's tasks in insertion order.
func (r *Registry) Status(groupName string) ([]model.TaskState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupName)
	}
	states := make([]model.TaskState, len(g.tasks))
	for i, t := range g.tasks {
		states[i] = t.Snapshot()
	}
	return states, nil
}

// Summary returns per-group counts sorted by group name.
func (r *Registry) Summary() []model.GroupSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.GroupSummary, 0, len(r.groups))
	for _, g := range r.groups {
		s := model.GroupSummary{
			Name:      g.name,
			TaskCount: len(g.tasks),
			Running:   g.running,
		}
		for _, t := range g.tasks {
			switch t.Status() {
			case model.StatusCompleted:
				s.Completed++
			case model.StatusCancelled:
				s.Cancelled++
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Groups returns the registered group names in sorted order.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Acquire marks the group as running and returns the tasks it holds at this
// moment. Tasks added afterwards are not part of the run. release must be
// called once the run is over.
func (r *Registry) Acquire(groupName string) (tasks []*Task, release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupName)
	}
	if g.running {
		return nil, nil, fmt.Errorf("%w: %s", ErrGroupRunning, groupName)
	}
	g.running = true

	var once sync.Once
	release = func() {
		once.Do(func() {
			r.mu.Lock()
			g.running = false
			r.mu.Unlock()
		})
	}
	return append([]*Task(nil), g.tasks...), release, nil
}

// CancelAll sets the token of every task in every group. It returns how many
// tokens were clear before the sweep.
func (r *Registry) CancelAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flipped := 0
	for _, g := range r.groups {
		for _, t := range g.tasks {
			if t.Token.Cancel() {
				flipped++
			}
		}
	}
	return flipped
}
