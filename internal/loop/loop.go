package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Call when the loop exits before running the task.
var ErrStopped = errors.New("loop stopped")

// Loop is a single-goroutine task queue. Every store mutation runs on it,
// so stores need no locks; network work runs elsewhere and hops back with Go.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	running atomic.Bool

	inflight atomic.Int64
	logger   *zap.Logger
}

// New creates a loop. It does nothing until Run is called.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run processes tasks until ctx is cancelled. It must be called at most once.
func (l *Loop) Run(ctx context.Context) {
	l.running.Store(true)
	defer close(l.done)
	for {
		for {
			fn, ok := l.pop()
			if !ok {
				break
			}
			l.exec(fn)
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post enqueues fn. It never blocks and is safe from any goroutine,
// including the loop itself.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and waits for it. It must not be called from
// the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go runs work on its own goroutine and delivers the result to done on the
// loop. The operation counts as in-flight until done has returned.
func Go[T any](l *Loop, ctx context.Context, work func(context.Context) (T, error), done func(T, error)) {
	l.inflight.Add(1)
	go func() {
		v, err := work(ctx)
		l.Post(func() {
			defer l.inflight.Add(-1)
			if done != nil {
				done(v, err)
			}
		})
	}()
}

// Inflight returns the number of asynchronous operations whose completion
// has not been processed yet.
func (l *Loop) Inflight() int {
	return int(l.inflight.Load())
}

// Idle reports whether no work is queued or in flight.
func (l *Loop) Idle() bool {
	l.mu.Lock()
	queued := len(l.queue)
	l.mu.Unlock()
	return queued == 0 && l.inflight.Load() == 0
}

// WaitIdle polls until the loop is idle or ctx ends.
func (l *Loop) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if l.Idle() {
			// A task popped but still executing is not visible in the queue;
			// a barrier makes sure it has finished.
			if !l.running.Load() {
				return nil
			}
			if err := l.Call(ctx, func() {}); err != nil {
				return err
			}
			if l.Idle() {
				return nil
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}
