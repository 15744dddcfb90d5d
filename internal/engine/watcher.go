package engine

import (
	"time"

	"github.com/seantiz/cohort/internal/cancel"
)

// DefaultPollInterval is how often a watcher compares elapsed time against
// the task timeout.
const DefaultPollInterval = 10 * time.Millisecond

// watch enforces timeout on tok for a task that started at start. It returns
// when the worker closes finished, when tok is set by someone else, or after
// setting tok itself once the deadline passes. It reports whether it fired.
func watch(tok *cancel.Token, start time.Time, timeout, poll time.Duration, finished <-chan struct{}) bool {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-finished:
			return false
		default:
		}
		if tok.Cancelled() {
			return false
		}
		if time.Since(start) >= timeout {
			return tok.Cancel()
		}

		select {
		case <-finished:
			return false
		case <-ticker.C:
		}
	}
}
