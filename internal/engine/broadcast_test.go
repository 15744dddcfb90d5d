package engine_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/seantiz/cohort/internal/model"
)

func waitServed(t *testing.T, served <-chan int) int {
	t.Helper()
	select {
	case n := <-served:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast was not served")
		return 0
	}
}

func TestBroadcasterServesSignals(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1", spec("a", model.KindSquare, 1, 1000), spec("b", model.KindSquare, 2, 1000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	go env.bc.Run(ctx, sigs)

	sigs <- os.Interrupt
	if n := waitServed(t, env.bc.Served()); n != 2 {
		t.Errorf("tokens cancelled = %d, want 2", n)
	}

	// A repeated interrupt finds nothing left to set.
	sigs <- os.Interrupt
	if n := waitServed(t, env.bc.Served()); n != 0 {
		t.Errorf("second broadcast cancelled %d tokens, want 0", n)
	}
}

func TestBroadcasterNotifyCancelsRun(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1", spec("a", model.KindFactorial, 100, 5000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.bc.Run(ctx, nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		env.bc.Notify()
		env.bc.Notify()
	}()

	r, err := env.eng.Run(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Cancelled != 1 {
		t.Errorf("cancelled = %d, want 1", r.Cancelled)
	}
	waitServed(t, env.bc.Served())
}

func TestBroadcastPublishesEvent(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, "g1")

	ch, unsub := env.eng.Broker().Subscribe("g1")
	defer unsub()

	env.bc.Broadcast()

	select {
	case ev := <-ch:
		if ev.Type != model.EventBroadcast || ev.Group != "g1" {
			t.Errorf("event = %+v, want broadcast for g1", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast event")
	}
}

func TestBroadcasterStopsWithContext(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.bc.Run(ctx, nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
