package work

import (
	"fmt"
	"math"
	"time"

	"github.com/seantiz/cohort/internal/cancel"
	"github.com/seantiz/cohort/internal/model"
)

// DefaultStep is the latency of one step of a builtin kind.
const DefaultStep = 100 * time.Millisecond

const (
	squareSteps = 10
	sqrtSteps   = 20

	// MaxFactorialArg is the largest x whose x! is finite as a float64.
	MaxFactorialArg = 170
)

// Kind is a Work implementation assembled from a plan builder.
type Kind struct {
	name     string
	desc     string
	pace     time.Duration
	plan     func(arg int) Plan
	validate func(arg int) error
}

var _ Work = (*Kind)(nil)

// NewKind creates a work kind. validate may be nil when every argument is accepted.
func NewKind(name, desc string, pace time.Duration, plan func(arg int) Plan, validate func(arg int) error) *Kind {
	return &Kind{
		name:     name,
		desc:     desc,
		pace:     pace,
		plan:     plan,
		validate: validate,
	}
}

// Validate implements Work.
func (k *Kind) Validate(arg int) error {
	if k.validate == nil {
		return nil
	}
	return k.validate(arg)
}

// Execute implements Work.
func (k *Kind) Execute(arg int, tok *cancel.Token) Result {
	return Run(k.plan(arg), tok, k.pace)
}

// Info implements Work.
func (k *Kind) Info() Info {
	return Info{
		Name:        k.name,
		Description: k.desc,
		StepMS:      int(k.pace.Milliseconds()),
	}
}

func nonNegative(name string) func(int) error {
	return func(arg int) error {
		if arg < 0 {
			return fmt.Errorf("%s of %d: %w", name, arg, ErrInvalidArgument)
		}
		return nil
	}
}

func factorialRange(arg int) error {
	if err := nonNegative(model.KindFactorial)(arg); err != nil {
		return err
	}
	if arg > MaxFactorialArg {
		return fmt.Errorf("%s of %d exceeds %d: %w", model.KindFactorial, arg, MaxFactorialArg, ErrInvalidArgument)
	}
	return nil
}

// Square computes x*x over a fixed number of steps.
func Square(pace time.Duration) *Kind {
	return NewKind(model.KindSquare, "x*x, 10 steps", pace, func(x int) Plan {
		return Plan{
			Steps: squareSteps,
			Value: func() float64 { return float64(x) * float64(x) },
		}
	}, nil)
}

// Sqrt computes the square root of x over a fixed number of steps.
func Sqrt(pace time.Duration) *Kind {
	return NewKind(model.KindSqrt, "square root of x, 20 steps", pace, func(x int) Plan {
		return Plan{
			Steps: sqrtSteps,
			Value: func() float64 { return math.Sqrt(float64(x)) },
		}
	}, nonNegative(model.KindSqrt))
}

// Factorial computes x! with one multiplication per step, so its duration
// grows with x.
func Factorial(pace time.Duration) *Kind {
	return NewKind(model.KindFactorial, "x!, x steps, x <= 170", pace, func(x int) Plan {
		acc := 1.0
		return Plan{
			Steps: x,
			Step:  func(i int) { acc *= float64(i) },
			Value: func() float64 { return acc },
		}
	}, factorialRange)
}

// Builtin returns a registry holding square, sqrt and factorial, each pacing
// its steps at step.
func Builtin(step time.Duration) *Registry {
	r := NewRegistry()
	r.Register(model.KindSquare, Square(step))
	r.Register(model.KindSqrt, Sqrt(step))
	r.Register(model.KindFactorial, Factorial(step))
	return r
}
