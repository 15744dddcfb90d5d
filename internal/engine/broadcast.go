package engine

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/cohort/internal/model"
	"github.com/seantiz/cohort/internal/registry"
)

// Broadcaster sets the token of every task in every group. Requests reach it
// as OS signals or through Notify and are served by the goroutine running Run,
// so the sweep always happens under ordinary locking rather than in signal
// context.
type Broadcaster struct {
	registry *registry.Registry
	broker   *EventBroker
	logger   *slog.Logger
	requests chan struct{}
	served   chan int
}

// NewBroadcaster creates a broadcaster over reg. broker may be nil.
func NewBroadcaster(reg *registry.Registry, broker *EventBroker, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: reg,
		broker:   broker,
		logger:   logger,
		requests: make(chan struct{}, 1),
		served:   make(chan int, 1),
	}
}

// Broadcast sets every token now and returns how many were still clear.
func (b *Broadcaster) Broadcast() int {
	n := b.registry.CancelAll()

	broadcastsTotal.Inc()
	broadcastTokensTotal.Add(float64(n))
	b.logger.Warn("cancellation broadcast", "tokens_cancelled", n)

	if b.broker != nil {
		now := time.Now().UTC()
		for _, g := range b.registry.Groups() {
			b.broker.Publish(g, model.Event{Type: model.EventBroadcast, Group: g, Time: now})
		}
	}
	return n
}

// Notify asks the Run loop to broadcast. It never blocks; requests arriving
// while one is pending are coalesced.
func (b *Broadcaster) Notify() {
	select {
	case b.requests <- struct{}{}:
	default:
	}
}

// Served delivers the token count of each broadcast performed by Run. Values
// are dropped when nobody reads them.
func (b *Broadcaster) Served() <-chan int {
	return b.served
}

// Run serves broadcast requests from signals and Notify until ctx is done.
// signals may be nil.
func (b *Broadcaster) Run(ctx context.Context, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			b.logger.Info("interrupt received", "signal", sig.String())
			b.serve()
		case <-b.requests:
			b.serve()
		}
	}
}

func (b *Broadcaster) serve() {
	n := b.Broadcast()
	select {
	case b.served <- n:
	default:
	}
}
