package unread

import (
	"context"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/loop"
	"github.com/matheus3301/dmsync/internal/model"
	"go.uber.org/zap"
)

// Counter returns the authoritative global unread count.
type Counter interface {
	GetUnreadCount(ctx context.Context) (int, error)
}

// Aggregator holds the global unread count shown outside the inbox.
type Aggregator struct {
	total int

	counter Counter
	loop    *loop.Loop
	bus     *bus.Bus
	logger  *zap.Logger
	issued  uint64
}

// New creates an aggregator starting at zero.
func New(counter Counter, l *loop.Loop, b *bus.Bus, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{counter: counter, loop: l, bus: b, logger: logger}
}

// Total returns the current count.
func (a *Aggregator) Total() int {
	return a.total
}

// Recompute derives the count from per-conversation unread counts.
func (a *Aggregator) Recompute(convs []model.Conversation) {
	n := 0
	for _, c := range convs {
		n += c.UnreadCount
	}
	a.set(n)
}

// Reset zeroes the count without contacting the server.
func (a *Aggregator) Reset() {
	a.issued++
	a.set(0)
}

// RefreshGlobal asks the server for the count. Only the most recently issued
// request may update the total; failures leave it unchanged.
func (a *Aggregator) RefreshGlobal(ctx context.Context) {
	a.issued++
	seq := a.issued
	loop.Go(a.loop, ctx, a.counter.GetUnreadCount, func(n int, err error) {
		if seq != a.issued {
			a.logger.Debug("discarding stale unread count", zap.Uint64("seq", seq), zap.Uint64("latest", a.issued))
			return
		}
		if err != nil {
			a.logger.Warn("unread count refresh failed", zap.Error(err))
			return
		}
		a.set(max(n, 0))
	})
}

func (a *Aggregator) set(n int) {
	if n == a.total {
		return
	}
	a.total = n
	a.bus.Emit(bus.UnreadChanged, n)
}
