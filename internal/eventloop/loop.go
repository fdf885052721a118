// Package eventloop runs callbacks one at a time on a single goroutine, the
// cooperative scheduling model every telemetry component relies on. State
// owned by loop callbacks needs no locking; other goroutines reach it through
// Do.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// DefaultFrameInterval approximates a 60Hz display.
const DefaultFrameInterval = 16 * time.Millisecond

// ErrStopped is returned by Do and Drain once the loop has exited.
var ErrStopped = errors.New("event loop stopped")

// Handle refers to a scheduled callback.
type Handle interface {
	// Cancel prevents the callback from running if it has not started yet.
	// It is safe to call more than once.
	Cancel()
}

type task struct {
	fn       func()
	canceled atomic.Bool
	timer    *quartz.Timer
}

func (t *task) Cancel() {
	if t.canceled.Swap(true) {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Loop is a single goroutine callback queue with paint aligned frames.
type Loop struct {
	clock         quartz.Clock
	logger        *zap.Logger
	frameInterval time.Duration
	origin        time.Time

	mu    sync.Mutex
	queue []*task
	wake  chan struct{}

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a loop. A non-positive frameInterval selects DefaultFrameInterval.
func New(clock quartz.Clock, frameInterval time.Duration, logger *zap.Logger) *Loop {
	if frameInterval <= 0 {
		frameInterval = DefaultFrameInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		clock:         clock,
		logger:        logger.Named("eventloop"),
		frameInterval: frameInterval,
		origin:        clock.Now(),
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the loop goroutine. Subsequent calls do nothing.
func (l *Loop) Start() {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run()
}

// Stop terminates the loop and waits until the current callback returns.
// Queued callbacks are dropped. Stop is idempotent.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	if l.started.Load() {
		<-l.doneCh
	}
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now("eventloop", "now")
}

// Clock returns the clock driving the loop.
func (l *Loop) Clock() quartz.Clock {
	return l.clock
}

// Post queues fn behind every pending callback. It may be called from any
// goroutine.
func (l *Loop) Post(fn func()) Handle {
	t := &task{fn: fn}
	l.enqueue(t)
	return t
}

// Defer queues a zero delay callback. It runs after every task already
// waiting, which from inside a callback means "after the current task".
func (l *Loop) Defer(fn func()) Handle {
	return l.Post(fn)
}

// RequestFrame runs fn at the next frame boundary, once the loop is free.
func (l *Loop) RequestFrame(fn func()) Handle {
	t := &task{fn: fn}
	t.timer = l.clock.AfterFunc(l.untilNextFrame(), func() {
		l.enqueue(t)
	}, "eventloop", "frame")
	return t
}

// Do runs fn on the loop and waits for it to return. fn is not queued when
// ctx is already done.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-l.doneCh:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain waits until the queue is empty, including callbacks queued by the
// callbacks it waited for. Pending frame timers are not waited for.
func (l *Loop) Drain(ctx context.Context) error {
	for {
		var pending int
		if err := l.Do(ctx, func() { pending = l.pending() }); err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
	}
}

func (l *Loop) untilNextFrame() time.Duration {
	elapsed := l.clock.Since(l.origin, "eventloop", "frame")
	if elapsed < 0 {
		return l.frameInterval
	}
	return l.frameInterval - elapsed%l.frameInterval
}

func (l *Loop) enqueue(t *task) {
	l.mu.Lock()
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) next() (*task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	t := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return t, true
}

func (l *Loop) run() {
	defer close(l.doneCh)

	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		if t, ok := l.next(); ok {
			l.execute(t)
			continue
		}

		select {
		case <-l.wake:
		case <-l.stopCh:
			return
		}
	}
}

func (l *Loop) execute(t *task) {
	if t.canceled.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("callback panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	t.fn()
}
