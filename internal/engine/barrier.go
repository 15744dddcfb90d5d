package engine

import "sync"

// barrier counts the workers of one run that have not finished yet.
type barrier struct {
	mu     sync.Mutex
	cond   *sync.Cond
	active int
}

func newBarrier(n int) *barrier {
	b := &barrier{active: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// done records one finished worker. The count never drops below zero.
func (b *barrier) done() {
	b.mu.Lock()
	if b.active > 0 {
		b.active--
	}
	b.mu.Unlock()
	b.cond.Signal()
}

// wait blocks until every worker has called done.
func (b *barrier) wait() {
	b.mu.Lock()
	for b.active > 0 {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

func (b *barrier) remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}
