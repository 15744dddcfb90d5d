package shell

import (
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/seantiz/cohort/internal/model"
)

// styles are bound to the shell's output so colour is only emitted when it
// is a terminal.
type styles struct {
	title     lipgloss.Style
	completed lipgloss.Style
	cancelled lipgloss.Style
	running   lipgloss.Style
	idle      lipgloss.Style
	err       lipgloss.Style
	muted     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:     r.NewStyle().Bold(true),
		completed: r.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
		cancelled: r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		running:   r.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true),
		idle:      r.NewStyle().Foreground(lipgloss.Color("#999999")),
		err:       r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		muted:     r.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

func (st styles) status(ts model.TaskState) string {
	switch ts.Status {
	case model.StatusCompleted:
		label := st.completed.Render("Completed")
		if ts.Result != nil {
			label += " (Result = " + formatResult(*ts.Result) + ")"
		}
		return label
	case model.StatusCancelled:
		return st.cancelled.Render("Cancelled")
	case model.StatusRunning:
		return st.running.Render("Running")
	default:
		return st.idle.Render("Not started")
	}
}

func formatResult(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

const helpText = `Available commands:
  group <name>                           - Create a new group.
  switch <name>                          - Switch to a different group.
  new <name> <kind> <arg> <timeout_ms>   - Add a task to the current group.
  run                                    - Run all tasks in the current group.
  status                                 - Show the status of tasks in the current group.
  summary                                - Show a summary of all groups.
  kinds                                  - List the available work kinds.
  history                                - Show recent runs.
  cancel                                 - Cancel every task in every group.
  exit                                   - Exit the program.`
