package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/cohort/internal/engine"
	"github.com/seantiz/cohort/internal/model"
	"github.com/seantiz/cohort/internal/registry"
	"github.com/seantiz/cohort/internal/store"
	"github.com/seantiz/cohort/internal/work"
)

const historyLimit = 10

// Shell is an interactive command loop over a registry and engine.
type Shell struct {
	registry *registry.Registry
	engine   *engine.Engine
	bc       *engine.Broadcaster
	store    store.Store

	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	st     styles
}

// New creates a shell writing normal output to out and diagnostics to errOut.
// bc and s may be nil, which disables the cancel and history commands.
func New(reg *registry.Registry, eng *engine.Engine, bc *engine.Broadcaster, s store.Store, out, errOut io.Writer) *Shell {
	return &Shell{
		registry: reg,
		engine:   eng,
		bc:       bc,
		store:    s,
		out:      out,
		errOut:   errOut,
		st:       newStyles(out),
	}
}

// Run reads commands from in until exit, end of input or ctx is done.
// Broadcasts served by the broadcaster while the loop runs are reported.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		s.reportBroadcasts(ctx)
	}()
	defer func() {
		cancel()
		<-reported
	}()

	s.println("Command-line interface started. Type 'help' for commands.")

	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			break
		}
		s.print("> ")
		if !scanner.Scan() {
			s.println("")
			break
		}
		if quit := s.Exec(ctx, scanner.Text()); quit {
			break
		}
	}

	s.println("Program terminated.")
	return scanner.Err()
}

func (s *Shell) reportBroadcasts(ctx context.Context) {
	if s.bc == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.bc.Served():
			s.println(s.st.cancelled.Render(
				fmt.Sprintf("All tasks in all groups have been cancelled (%d tokens set).", n)))
		}
	}
}

// Exec runs one command line and reports whether the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	args := fields[1:]
	switch fields[0] {
	case "help":
		s.println(helpText)
	case "group":
		if len(args) != 1 {
			s.errorf("Usage: group <name>")
			return false
		}
		s.createGroup(args[0])
	case "switch":
		if len(args) != 1 {
			s.errorf("Usage: switch <name>")
			return false
		}
		s.switchGroup(args[0])
	case "new":
		if len(args) != 4 {
			s.errorf("Usage: new <name> <kind> <arg> <timeout_ms>")
			return false
		}
		s.newTask(args)
	case "run":
		s.run(ctx)
	case "status":
		s.status()
	case "summary":
		s.summary()
	case "kinds":
		s.kinds()
	case "history":
		s.history(ctx)
	case "cancel":
		s.cancel()
	case "exit", "quit":
		s.println("Exiting.")
		return true
	default:
		s.errorf("Unknown command. Type 'help' for a list of commands.")
	}
	return false
}

func (s *Shell) createGroup(name string) {
	if err := s.registry.CreateGroup(name); err != nil {
		s.reportErr(name, err)
		return
	}
	s.printf("Group %s created.\n", name)
}

func (s *Shell) switchGroup(name string) {
	if err := s.registry.SwitchGroup(name); err != nil {
		s.reportErr(name, err)
		return
	}
	s.printf("Switched to group %s.\n", name)
}

func (s *Shell) newTask(args []string) {
	group, ok := s.current()
	if !ok {
		return
	}

	arg, err := strconv.Atoi(args[2])
	if err != nil {
		s.errorf("Invalid argument %q: not an integer.", args[2])
		return
	}
	timeout, err := strconv.Atoi(args[3])
	if err != nil {
		s.errorf("Invalid timeout %q: not an integer.", args[3])
		return
	}

	spec := model.TaskSpec{Name: args[0], Kind: args[1], Arg: arg, TimeoutMS: timeout}
	if _, err := s.registry.AddTask(group, spec); err != nil {
		if errors.Is(err, work.ErrUnknownKind) {
			s.errorf("Unknown function: %s. Type 'kinds' for a list.", spec.Kind)
			return
		}
		s.reportErr(group, err)
		return
	}
	s.printf("Task %s added to group %s.\n", spec.Name, group)
}

func (s *Shell) run(ctx context.Context) {
	group, ok := s.current()
	if !ok {
		return
	}

	r, err := s.engine.Run(ctx, group)
	if err != nil {
		s.reportErr(group, err)
		return
	}

	dur := time.Duration(0)
	if r.DurationMS != nil {
		dur = time.Duration(*r.DurationMS) * time.Millisecond
	}
	s.printf("Group %s tasks completed. %s\n", group, s.st.muted.Render(
		fmt.Sprintf("(%d completed, %d cancelled in %s)", r.Completed, r.Cancelled, dur)))
}

func (s *Shell) status() {
	group, ok := s.current()
	if !ok {
		return
	}

	states, err := s.registry.Status(group)
	if err != nil {
		s.reportErr(group, err)
		return
	}

	var b strings.Builder
	b.WriteString(s.st.title.Render("Status of tasks in group "+group+":") + "\n")
	for _, ts := range states {
		fmt.Fprintf(&b, "  Task %s: %s\n", ts.Name, s.st.status(ts))
	}
	s.print(b.String())
}

func (s *Shell) summary() {
	var b strings.Builder
	b.WriteString(s.st.title.Render("Summary of all groups:") + "\n")
	for _, g := range s.registry.Summary() {
		fmt.Fprintf(&b, "  Group %s: %d tasks, %d completed, %d cancelled.", g.Name, g.TaskCount, g.Completed, g.Cancelled)
		if g.Running {
			b.WriteString(" " + s.st.running.Render("running"))
		}
		b.WriteString("\n")
	}
	s.print(b.String())
}

func (s *Shell) kinds() {
	var b strings.Builder
	b.WriteString(s.st.title.Render("Work kinds:") + "\n")
	for _, info := range s.registry.Kinds().List() {
		fmt.Fprintf(&b, "  %-10s %s %s\n", info.Name, info.Description,
			s.st.muted.Render(fmt.Sprintf("(%dms/step)", info.StepMS)))
	}
	s.print(b.String())
}

func (s *Shell) history(ctx context.Context) {
	if s.store == nil {
		s.errorf("Run history is not available.")
		return
	}

	runs, total, err := s.store.ListRuns(ctx, "", historyLimit, 0)
	if err != nil {
		s.errorf("Error: %v", err)
		return
	}
	if total == 0 {
		s.println("No runs yet.")
		return
	}

	var b strings.Builder
	b.WriteString(s.st.title.Render(fmt.Sprintf("Recent runs (%d of %d):", len(runs), total)) + "\n")
	for _, r := range runs {
		dur := "-"
		if r.DurationMS != nil {
			dur = fmt.Sprintf("%dms", *r.DurationMS)
		}
		fmt.Fprintf(&b, "  %s %s: %d tasks, %d completed, %d cancelled, %s\n",
			s.st.muted.Render(r.ID), r.Group, r.TaskCount, r.Completed, r.Cancelled, dur)
	}
	s.print(b.String())
}

func (s *Shell) cancel() {
	if s.bc == nil {
		s.registry.CancelAll()
	} else {
		s.bc.Broadcast()
	}
	s.println(s.st.cancelled.Render("All tasks in all groups have been cancelled."))
}

// current returns the selected group, reporting when there is none.
func (s *Shell) current() (string, bool) {
	group, err := s.registry.Current()
	if err != nil {
		s.errorf("No group selected. Use 'switch <name>' to select a group.")
		return "", false
	}
	return group, true
}

func (s *Shell) reportErr(name string, err error) {
	switch {
	case errors.Is(err, registry.ErrGroupExists):
		s.errorf("Group %s already exists.", name)
	case errors.Is(err, registry.ErrGroupNotFound):
		s.errorf("Group %s does not exist.", name)
	case errors.Is(err, registry.ErrGroupRunning):
		s.errorf("Group %s is already running.", name)
	default:
		s.errorf("Error: %v", err)
	}
}

func (s *Shell) print(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.out, text)
}

func (s *Shell) println(text string) {
	s.print(text + "\n")
}

func (s *Shell) printf(format string, args ...any) {
	s.print(fmt.Sprintf(format, args...))
}

func (s *Shell) errorf(format string, args ...any) {
	msg := s.st.err.Render(fmt.Sprintf(format, args...))
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.errOut, msg+"\n")
}
