package work_test

import (
	"errors"
	"testing"
	"time"

	"github.com/seantiz/cohort/internal/cancel"
	"github.com/seantiz/cohort/internal/model"
	"github.com/seantiz/cohort/internal/work"
)

// stubWork is a minimal Work for registry tests.
type stubWork struct {
	name string
}

func (s *stubWork) Validate(int) error { return nil }

func (s *stubWork) Execute(arg int, _ *cancel.Token) work.Result {
	return work.Result{Value: float64(arg)}
}

func (s *stubWork) Info() work.Info { return work.Info{Name: s.name} }

func TestRegistryRegisterAndList(t *testing.T) {
	reg := work.NewRegistry()
	reg.Register("zeta", &stubWork{name: "zeta"})
	reg.Register("alpha", &stubWork{name: "alpha"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d kinds, want 2", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Errorf("List() = %v, want sorted [alpha zeta]", list)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := work.NewRegistry()
	reg.Register("echo", &stubWork{name: "echo"})

	w, err := reg.Resolve("echo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res := w.Execute(7, cancel.New()); res.Value != 7 {
		t.Errorf("Execute = %v, want 7", res.Value)
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := work.NewRegistry()

	_, err := reg.Resolve("fibonacci")
	if !errors.Is(err, work.ErrUnknownKind) {
		t.Errorf("Resolve unknown = %v, want ErrUnknownKind", err)
	}
}

func TestBuiltinRegistry(t *testing.T) {
	reg := work.Builtin(50 * time.Millisecond)

	list := reg.List()
	want := []string{model.KindFactorial, model.KindSqrt, model.KindSquare}
	if len(list) != len(want) {
		t.Fatalf("List() returned %d kinds, want %d", len(list), len(want))
	}
	for i, info := range list {
		if info.Name != want[i] {
			t.Errorf("kind[%d] = %q, want %q", i, info.Name, want[i])
		}
		if info.StepMS != 50 {
			t.Errorf("kind %q step_ms = %d, want 50", info.Name, info.StepMS)
		}
		if info.Description == "" {
			t.Errorf("kind %q has no description", info.Name)
		}
	}
}
