package eventloop_test

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"slowmonitor/internal/eventloop"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newLoop(t *testing.T) (*eventloop.Loop, *quartz.Mock, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	mClock := quartz.NewMock(t)
	l := eventloop.New(mClock, 16*time.Millisecond, zaptest.NewLogger(t))
	l.Start()
	t.Cleanup(l.Stop)
	return l, mClock, ctx
}

func TestCallbacksRunInOrder(t *testing.T) {
	t.Parallel()
	l, _, ctx := newLoop(t)

	var order []string
	l.Post(func() {
		order = append(order, "a")
		l.Defer(func() { order = append(order, "deferred") })
	})
	l.Post(func() { order = append(order, "b") })

	require.NoError(t, l.Drain(ctx))
	require.NoError(t, l.Do(ctx, func() {
		assert.Equal(t, []string{"a", "b", "deferred"}, order)
	}))
}

func TestCancelBeforeRun(t *testing.T) {
	t.Parallel()
	l, _, ctx := newLoop(t)

	release := make(chan struct{})
	l.Post(func() { <-release })

	ran := false
	h := l.Post(func() { ran = true })
	h.Cancel()
	h.Cancel()
	close(release)

	require.NoError(t, l.Drain(ctx))
	require.NoError(t, l.Do(ctx, func() { assert.False(t, ran) }))
}

func TestRequestFrameAlignsToBoundary(t *testing.T) {
	t.Parallel()
	l, mClock, ctx := newLoop(t)

	frames := 0
	l.RequestFrame(func() { frames++ })

	mClock.Advance(10 * time.Millisecond).MustWait(ctx)
	require.NoError(t, l.Drain(ctx))
	require.NoError(t, l.Do(ctx, func() { assert.Equal(t, 0, frames) }))

	mClock.Advance(6 * time.Millisecond).MustWait(ctx)
	require.NoError(t, l.Drain(ctx))
	require.NoError(t, l.Do(ctx, func() { assert.Equal(t, 1, frames) }))

	mClock.Advance(5 * time.Millisecond).MustWait(ctx)
	l.RequestFrame(func() { frames++ })
	next, ok := mClock.Peek()
	require.True(t, ok)
	assert.Equal(t, 11*time.Millisecond, next)
}

func TestRequestFrameWaitsForBusyLoop(t *testing.T) {
	t.Parallel()
	l, mClock, ctx := newLoop(t)

	var firedAt time.Time
	start := mClock.Now()
	l.RequestFrame(func() { firedAt = l.Now() })

	release := make(chan struct{})
	l.Post(func() { <-release })
	mClock.Advance(16 * time.Millisecond).MustWait(ctx)
	mClock.Advance(100 * time.Millisecond).MustWait(ctx)
	close(release)

	require.NoError(t, l.Drain(ctx))
	require.NoError(t, l.Do(ctx, func() {
		assert.Equal(t, 116*time.Millisecond, firedAt.Sub(start))
	}))
}

func TestCanceledFrameNeverRuns(t *testing.T) {
	t.Parallel()
	l, mClock, ctx := newLoop(t)

	ran := false
	h := l.RequestFrame(func() { ran = true })
	h.Cancel()

	_, pending := mClock.Peek()
	assert.False(t, pending)
	mClock.Advance(32 * time.Millisecond).MustWait(ctx)
	require.NoError(t, l.Drain(ctx))
	require.NoError(t, l.Do(ctx, func() { assert.False(t, ran) }))
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	l, _, ctx := newLoop(t)

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Do(ctx, func() { ran = true }))
	assert.True(t, ran)
}

func TestDoAfterStop(t *testing.T) {
	t.Parallel()
	l, _, ctx := newLoop(t)

	l.Stop()
	l.Stop()
	err := l.Do(ctx, func() {})
	assert.ErrorIs(t, err, eventloop.ErrStopped)
	assert.ErrorIs(t, l.Drain(ctx), eventloop.ErrStopped)
}

func TestDoWithCanceledContextDoesNotQueue(t *testing.T) {
	t.Parallel()
	l, _, ctx := newLoop(t)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	ran := false
	require.ErrorIs(t, l.Do(canceled, func() { ran = true }), context.Canceled)

	require.NoError(t, l.Drain(ctx))
	require.NoError(t, l.Do(ctx, func() { assert.False(t, ran) }))
}
