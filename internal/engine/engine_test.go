package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/seantiz/cohort/internal/engine"
	"github.com/seantiz/cohort/internal/model"
	"github.com/seantiz/cohort/internal/registry"
	"github.com/seantiz/cohort/internal/store"
	"github.com/seantiz/cohort/internal/work"
)

const (
	testStep = 10 * time.Millisecond
	testPoll = 5 * time.Millisecond
)

type testEnv struct {
	eng   *engine.Engine
	reg   *registry.Registry
	kinds *work.Registry
	store store.Store
	bc    *engine.Broadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	kinds := work.Builtin(testStep)
	reg := registry.New(kinds)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(reg, s, logger, testPoll)
	t.Cleanup(eng.Wait)

	return &testEnv{
		eng:   eng,
		reg:   reg,
		kinds: kinds,
		store: s,
		bc:    engine.NewBroadcaster(reg, eng.Broker(), logger),
	}
}

func (env *testEnv) group(t *testing.T, name string, specs ...model.TaskSpec) {
	t.Helper()
	if err := env.reg.CreateGroup(name); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	for _, spec := range specs {
		if _, err := env.reg.AddTask(name, spec); err != nil {
			t.Fatalf("AddTask(%s): %v", spec.Name, err)
		}
	}
}

func spec(name, kind string, arg, timeoutMS int) model.TaskSpec {
	return model.TaskSpec{Name: name, Kind: kind, Arg: arg, TimeoutMS: timeoutMS}
}

func statusByName(t *testing.T, reg *registry.Registry, group string) map[string]model.TaskState {
	t.Helper()
	states, err := reg.Status(group)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	out := make(map[string]model.TaskState, len(states))
	for _, s := range states {
		out[s.Name] = s
	}
	return out
}

func TestRunCompletesWithinTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1",
		spec("a", model.KindSquare, 5, 2000),
		spec("b", model.KindSqrt, 9, 2000),
		spec("c", model.KindFactorial, 5, 2000),
	)

	r, err := env.eng.Run(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Completed != 3 || r.Cancelled != 0 || r.TaskCount != 3 {
		t.Errorf("run counts = %+v", r)
	}

	want := map[string]float64{"a": 25, "b": 3, "c": 120}
	states := statusByName(t, env.reg, "g1")
	for name, v := range want {
		st := states[name]
		if st.Status != model.StatusCompleted {
			t.Errorf("%s status = %q, want completed", name, st.Status)
			continue
		}
		if st.Result == nil || *st.Result != v {
			t.Errorf("%s result = %v, want %v", name, st.Result, v)
		}
	}
}

func TestRunTimeoutCancelsWithoutWaitingForWork(t *testing.T) {
	env := newTestEnv(t)
	// factorial(50) needs 50 steps (500ms); the timeout is 100ms.
	env.group(t, "g1", spec("b", model.KindFactorial, 50, 100))

	start := time.Now()
	r, err := env.eng.Run(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)

	if r.Cancelled != 1 || r.Completed != 0 {
		t.Errorf("run counts = completed %d cancelled %d, want 0/1", r.Completed, r.Cancelled)
	}
	st := statusByName(t, env.reg, "g1")["b"]
	if st.Status != model.StatusCancelled {
		t.Errorf("status = %q, want cancelled", st.Status)
	}
	if st.Result != nil {
		t.Errorf("cancelled task has result %v", *st.Result)
	}
	if elapsed >= 400*time.Millisecond {
		t.Errorf("Run took %v, want about timeout + poll + one step", elapsed)
	}
}

func TestRunMixedOutcomes(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1",
		spec("a", model.KindSquare, 5, 2000),
		spec("b", model.KindFactorial, 50, 100),
	)

	r, err := env.eng.Run(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Completed != 1 || r.Cancelled != 1 {
		t.Errorf("run counts = %d/%d, want 1/1", r.Completed, r.Cancelled)
	}

	for _, st := range r.Tasks {
		if st.Status == model.StatusRunning || st.Status == model.StatusUnstarted {
			t.Errorf("task %s left %q after Run returned", st.Name, st.Status)
		}
	}
	if r.FinishedAt == nil || r.DurationMS == nil {
		t.Error("run record missing finish time")
	}
}

func TestRunUnknownGroup(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.eng.Run(context.Background(), "missing")
	if !errors.Is(err, registry.ErrGroupNotFound) {
		t.Errorf("Run(missing) = %v, want ErrGroupNotFound", err)
	}
	if _, err := env.eng.Start("missing"); !errors.Is(err, registry.ErrGroupNotFound) {
		t.Errorf("Start(missing) = %v, want ErrGroupNotFound", err)
	}
}

func TestRunEmptyGroup(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "empty")

	r, err := env.eng.Run(context.Background(), "empty")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.TaskCount != 0 || len(r.Tasks) != 0 {
		t.Errorf("run = %+v, want no tasks", r)
	}
}

func TestRunRejectsOverlappingRun(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1", spec("a", model.KindSquare, 2, 2000))

	if _, err := env.eng.Start("g1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := env.eng.Run(context.Background(), "g1"); !errors.Is(err, registry.ErrGroupRunning) {
		t.Errorf("overlapping Run = %v, want ErrGroupRunning", err)
	}
	if _, err := env.eng.Start("g1"); !errors.Is(err, registry.ErrGroupRunning) {
		t.Errorf("overlapping Start = %v, want ErrGroupRunning", err)
	}

	env.eng.Wait()
	if _, err := env.eng.Run(context.Background(), "g1"); err != nil {
		t.Errorf("Run after previous finished: %v", err)
	}
}

func TestRunContextCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1",
		spec("a", model.KindFactorial, 100, 5000),
		spec("b", model.KindSqrt, 4, 5000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	r, err := env.eng.Run(ctx, "g1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Cancelled != 2 {
		t.Errorf("cancelled = %d, want 2", r.Cancelled)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run took %v after context cancellation", elapsed)
	}

	got, err := env.store.GetRun(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("cancelled run not recorded: %v", err)
	}
	if got.Cancelled != 2 || got.FinishedAt == nil {
		t.Errorf("stored run = %+v", got)
	}
}

func TestBroadcastDuringRun(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1",
		spec("a", model.KindFactorial, 100, 5000),
		spec("b", model.KindSqrt, 16, 5000),
	)
	env.group(t, "g2", spec("c", model.KindSquare, 3, 5000))

	go func() {
		time.Sleep(50 * time.Millisecond)
		env.bc.Broadcast()
	}()

	r, err := env.eng.Run(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Completed != 0 || r.Cancelled != 2 {
		t.Errorf("run counts = %d/%d, want 0/2", r.Completed, r.Cancelled)
	}

	// Idle groups are swept too, so their next run cancels immediately.
	r2, err := env.eng.Run(context.Background(), "g2")
	if err != nil {
		t.Fatalf("Run g2: %v", err)
	}
	if r2.Cancelled != 1 {
		t.Errorf("g2 cancelled = %d, want 1", r2.Cancelled)
	}

	if n := env.bc.Broadcast(); n != 0 {
		t.Errorf("second broadcast flipped %d tokens, want 0", n)
	}
}

func TestRerunAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1", spec("a", model.KindSquare, 4, 2000))

	for i := range 2 {
		r, err := env.eng.Run(context.Background(), "g1")
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		if r.Completed != 1 {
			t.Errorf("run %d completed = %d, want 1", i, r.Completed)
		}
	}
}

func TestRerunAfterTimeoutStaysCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1", spec("b", model.KindFactorial, 50, 50))

	env.eng.Run(context.Background(), "g1")
	start := time.Now()
	r, err := env.eng.Run(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Cancelled != 1 {
		t.Errorf("cancelled = %d, want 1", r.Cancelled)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("second run took %v, want immediate cancellation", elapsed)
	}
}

func TestRunRecoversPanickingWork(t *testing.T) {
	env := newTestEnv(t)
	env.kinds.Register("boom", work.NewKind("boom", "panics", 0, func(int) work.Plan {
		panic("boom")
	}, nil))
	env.group(t, "g1",
		model.TaskSpec{Name: "x", Kind: "boom", TimeoutMS: 1000},
		spec("a", model.KindSquare, 2, 1000),
	)

	r, err := env.eng.Run(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	states := statusByName(t, env.reg, "g1")
	if states["x"].Status != model.StatusCancelled {
		t.Errorf("panicking task status = %q, want cancelled", states["x"].Status)
	}
	if states["a"].Status != model.StatusCompleted {
		t.Errorf("sibling status = %q, want completed", states["a"].Status)
	}
	if r.Completed != 1 || r.Cancelled != 1 {
		t.Errorf("run counts = %d/%d, want 1/1", r.Completed, r.Cancelled)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1",
		spec("a", model.KindSquare, 5, 2000),
		spec("b", model.KindFactorial, 50, 100),
	)

	r, err := env.eng.Run(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := env.store.GetRun(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Completed != 1 || got.Cancelled != 1 || len(got.Tasks) != 2 {
		t.Errorf("stored run = %+v", got)
	}
	if got.Tasks[0].Name != "a" || got.Tasks[0].Result == nil || *got.Tasks[0].Result != 25 {
		t.Errorf("stored task a = %+v", got.Tasks[0])
	}
}

func TestStartRunsInBackground(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1", spec("a", model.KindSquare, 6, 2000))

	id, err := env.eng.Start("g1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(id) != 26 {
		t.Errorf("run id = %q, want ULID", id)
	}
	env.eng.Wait()

	got, err := env.store.GetRun(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Completed != 1 {
		t.Errorf("completed = %d, want 1", got.Completed)
	}
	if st := statusByName(t, env.reg, "g1")["a"]; st.Result == nil || *st.Result != 36 {
		t.Errorf("result = %v, want 36", st.Result)
	}
}

func TestRunPublishesEvents(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1", spec("a", model.KindSquare, 5, 2000))

	ch, unsub := env.eng.Broker().Subscribe("g1")
	defer unsub()

	r, err := env.eng.Run(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var types []string
	for len(types) < 4 {
		select {
		case ev := <-ch:
			if ev.RunID != r.ID {
				t.Errorf("event run id = %q, want %q", ev.RunID, r.ID)
			}
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("got events %v, want 4", types)
		}
	}

	want := []string{model.EventRunStarted, model.EventTaskStarted, model.EventTaskFinished, model.EventRunFinished}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}
