package work

import (
	"errors"
	"time"

	"github.com/seantiz/cohort/internal/cancel"
)

var (
	// ErrUnknownKind is returned when no work is registered under a kind name.
	ErrUnknownKind = errors.New("unknown work kind")

	// ErrInvalidArgument is returned when a kind cannot accept an argument.
	ErrInvalidArgument = errors.New("invalid work argument")
)

// Work is the interface every work kind implements.
type Work interface {
	// Validate reports whether arg is acceptable, before any task is created.
	Validate(arg int) error

	// Execute runs the computation for arg, polling tok at every step
	// boundary. It returns early with Cancelled set once tok reads true.
	Execute(arg int, tok *cancel.Token) Result

	// Info describes the kind.
	Info() Info
}

// Result is the outcome of one Execute call.
type Result struct {
	Value     float64 `json:"value"`
	Cancelled bool    `json:"cancelled"`
	Steps     int     `json:"steps"`
}

// Info describes a registered work kind.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	StepMS      int    `json:"step_ms"`
}

// Plan is a computation split into Steps discrete steps.
type Plan struct {
	Steps int

	// Step performs step i (1-based). May be nil for pure latency.
	Step func(i int)

	// Value produces the final result once every step has run.
	Value func() float64
}

// Run executes p against tok, sleeping pace per step. The token is checked
// before each step and once after the last, so a token set at any point during
// execution yields a cancelled result.
func Run(p Plan, tok *cancel.Token, pace time.Duration) Result {
	for i := 1; i <= p.Steps; i++ {
		if tok.Cancelled() {
			return Result{Cancelled: true, Steps: i - 1}
		}
		if pace > 0 {
			time.Sleep(pace)
		}
		if p.Step != nil {
			p.Step(i)
		}
	}
	if tok.Cancelled() {
		return Result{Cancelled: true, Steps: p.Steps}
	}

	var v float64
	if p.Value != nil {
		v = p.Value()
	}
	return Result{Value: v, Steps: p.Steps}
}
