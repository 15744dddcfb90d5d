// Package cancel provides the cancellation latch shared by a task, its worker,
// its timeout watcher and the global broadcast.
package cancel

import "sync/atomic"

// Token is a monotonic boolean latch. It starts clear, may be set any number of
// times from any goroutine, and never resets. The zero value is a clear token.
type Token struct {
	set atomic.Bool
}

// New returns a clear token.
func New() *Token {
	return &Token{}
}

// Cancel sets the token. It reports whether this call performed the transition;
// setting an already-set token is a no-op that returns false.
func (t *Token) Cancel() bool {
	return t.set.CompareAndSwap(false, true)
}

// Cancelled reports whether the token has been set.
func (t *Token) Cancelled() bool {
	return t.set.Load()
}
