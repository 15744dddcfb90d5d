package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/seantiz/cohort/internal/model"
	"github.com/seantiz/cohort/internal/registry"
	"github.com/seantiz/cohort/internal/store"
	"github.com/seantiz/cohort/internal/tracing"
	"github.com/seantiz/cohort/internal/work"
)

// Engine runs the task groups of a registry.
type Engine struct {
	registry *registry.Registry
	store    store.Store
	logger   *slog.Logger
	broker   *EventBroker
	poll     time.Duration
	wg       sync.WaitGroup
}

// NewEngine creates an engine. s may be nil to skip run history. A
// non-positive poll selects DefaultPollInterval.
func NewEngine(reg *registry.Registry, s store.Store, logger *slog.Logger, poll time.Duration) *Engine {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Engine{
		registry: reg,
		store:    s,
		logger:   logger,
		broker:   NewEventBroker(),
		poll:     poll,
	}
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Run executes every task of the named group concurrently and blocks until
// all of them are completed or cancelled. Cancelling ctx sets the token of
// every task in the run. It fails with registry.ErrGroupNotFound for an unknown
// group and registry.ErrGroupRunning if the group is already being run.
func (e *Engine) Run(ctx context.Context, group string) (*model.Run, error) {
	tasks, release, err := e.registry.Acquire(group)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.run(ctx, model.NewID(), group, tasks), nil
}

// Start launches a run of the named group in a goroutine and returns its run
// ID. Errors are those of Run, reported before anything starts.
func (e *Engine) Start(group string) (string, error) {
	tasks, release, err := e.registry.Acquire(group)
	if err != nil {
		return "", err
	}

	id := model.NewID()
	e.wg.Go(func() {
		defer release()
		e.run(context.Background(), id, group, tasks)
	})
	return id, nil
}

// Wait blocks until all runs launched by Start complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, id, group string, tasks []*registry.Task) *model.Run {
	ctx, span := tracing.Start(ctx, "group.run",
		attribute.String("group", group),
		attribute.String("run_id", id),
		attribute.Int("tasks", len(tasks)),
	)

	start := time.Now()
	r := &model.Run{
		ID:        id,
		Group:     group,
		TaskCount: len(tasks),
		StartedAt: start.UTC(),
	}
	// History writes ignore ctx so a cancelled run is still recorded.
	if e.store != nil {
		if err := e.store.CreateRun(context.Background(), r); err != nil {
			e.logger.Error("failed to record run start", "run_id", id, "group", group, "error", err)
		}
	}

	e.logger.Info("run started", "run_id", id, "group", group, "tasks", len(tasks))
	e.broker.Publish(group, model.Event{Type: model.EventRunStarted, RunID: id, Group: group, Time: r.StartedAt})

	stop := context.AfterFunc(ctx, func() {
		for _, t := range tasks {
			t.Token.Cancel()
		}
	})
	defer stop()

	b := newBarrier(len(tasks))
	for _, t := range tasks {
		go e.runTask(ctx, id, t, b)
	}
	b.wait()

	end := time.Now()
	finished := end.UTC()
	dur := int(end.Sub(start).Milliseconds())
	r.FinishedAt = &finished
	r.DurationMS = &dur
	r.Tasks = make([]model.TaskState, len(tasks))
	for i, t := range tasks {
		st := t.Snapshot()
		r.Tasks[i] = st
		switch st.Status {
		case model.StatusCompleted:
			r.Completed++
		case model.StatusCancelled:
			r.Cancelled++
		}
	}

	if e.store != nil {
		if err := e.store.FinishRun(context.Background(), r); err != nil {
			e.logger.Error("failed to record run result", "run_id", id, "group", group, "error", err)
		}
	}

	runsTotal.Inc()
	runDuration.Observe(end.Sub(start).Seconds())

	e.logger.Info("run finished",
		"run_id", id,
		"group", group,
		"completed", r.Completed,
		"cancelled", r.Cancelled,
		"duration_ms", dur,
	)
	e.broker.Publish(group, model.Event{Type: model.EventRunFinished, RunID: id, Group: group, Time: finished})

	span.SetAttributes(attribute.Int("completed", r.Completed), attribute.Int("cancelled", r.Cancelled))
	span.End(nil)
	return r
}

// runTask is the worker of one task. The task's watcher has returned before
// the barrier is released.
func (e *Engine) runTask(ctx context.Context, runID string, t *registry.Task, b *barrier) {
	defer b.done()

	_, span := tracing.Start(ctx, "task",
		attribute.String("task_id", t.ID),
		attribute.String("task", t.Name),
		attribute.String("kind", t.Kind),
		attribute.Int("arg", t.Arg),
	)

	start := time.Now()
	if err := t.MarkRunning(start); err != nil {
		e.logger.Error("failed to start task", "run_id", runID, "task_id", t.ID, "error", err)
	}
	activeTasks.Inc()
	defer activeTasks.Dec()
	e.publishTask(runID, t, model.EventTaskStarted)

	finished := make(chan struct{})
	fired := make(chan bool, 1)
	go func() {
		fired <- watch(t.Token, start, t.Timeout, e.poll, finished)
	}()

	res, err := execute(t)
	close(finished)
	timedOut := <-fired

	end := time.Now()
	status := model.StatusCompleted
	if err != nil || res.Cancelled {
		status = model.StatusCancelled
		if err := t.MarkCancelled(end); err != nil {
			e.logger.Error("failed to cancel task", "run_id", runID, "task_id", t.ID, "error", err)
		}
	} else if err := t.MarkCompleted(res.Value, end); err != nil {
		e.logger.Error("failed to complete task", "run_id", runID, "task_id", t.ID, "error", err)
	}

	tasksTotal.WithLabelValues(t.Kind, status).Inc()
	taskDuration.WithLabelValues(t.Kind).Observe(end.Sub(start).Seconds())
	if timedOut {
		timeoutsTotal.WithLabelValues(t.Kind).Inc()
	}

	attrs := []any{
		"run_id", runID,
		"group", t.Group,
		"task", t.Name,
		"kind", t.Kind,
		"status", status,
		"steps", res.Steps,
		"timed_out", timedOut,
		"duration_ms", end.Sub(start).Milliseconds(),
	}
	if err != nil {
		e.logger.Error("task failed", append(attrs, "error", err)...)
	} else {
		e.logger.Debug("task finished", attrs...)
	}
	e.publishTask(runID, t, model.EventTaskFinished)

	span.SetAttributes(attribute.String("status", status), attribute.Bool("timed_out", timedOut))
	span.End(err)
}

// execute runs the task's work, turning a panic into an error so the worker
// still reports to the barrier.
func execute(t *registry.Task) (res work.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = work.Result{Cancelled: true}
			err = fmt.Errorf("work %s panicked: %v", t.Kind, p)
		}
	}()
	return t.Work.Execute(t.Arg, t.Token), nil
}

func (e *Engine) publishTask(runID string, t *registry.Task, typ string) {
	st := t.Snapshot()
	e.broker.Publish(t.Group, model.Event{
		Type:  typ,
		RunID: runID,
		Group: t.Group,
		Task:  &st,
		Time:  time.Now().UTC(),
	})
}
