package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"slowmonitor/internal/channels"
	"slowmonitor/internal/eventloop"
	"slowmonitor/internal/models"
	"slowmonitor/internal/monitor"
	fakes "slowmonitor/internal/testutil"
	"slowmonitor/internal/timing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type nopTimer struct{}

func (nopTimer) Subscribe(models.InteractionKind, timing.Handlers) func() { return func() {} }

type nopPublisher struct{}

func (nopPublisher) Start() func() { return func() {} }

type feed struct {
	listener func(models.PerformanceEntry)
}

func (f *feed) Subscribe(fn func(models.PerformanceEntry)) func() {
	f.listener = fn
	return func() { f.listener = nil }
}

func newMonitor(t *testing.T) (*monitor.Monitor, *eventloop.Loop, *quartz.Mock, *feed, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	logger := zaptest.NewLogger(t)
	mClock := quartz.NewMock(t)
	loop := eventloop.New(mClock, 16*time.Millisecond, logger)
	f := &feed{}
	m := monitor.New(loop, channels.NewRegistry(4), monitor.Sources{
		Tracer:     fakes.NewTracer(),
		Visibility: fakes.NewVisibility(),
		Timer:      nopTimer{},
		Publisher:  nopPublisher{},
		Feed:       f,
	}, monitor.Options{MaxInteractionBatch: 2, Logger: logger})
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m, loop, mClock, f, ctx
}

func TestSnapshotStartsEmpty(t *testing.T) {
	t.Parallel()
	m, _, _, _, ctx := newMonitor(t)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Events)
	assert.Empty(t, snap.Interactions)
	assert.Equal(t, models.PhaseNoInteraction, snap.Status.Phase)
}

func TestBlockedLoopProducesLongRender(t *testing.T) {
	t.Parallel()
	m, loop, mClock, _, ctx := newMonitor(t)

	watched := make(chan models.SlowdownEvent, 1)
	unsubscribe, err := m.Watch(ctx, func(e models.SlowdownEvent) {
		select {
		case watched <- e:
		default:
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	release := make(chan struct{})
	loop.Post(func() { <-release })
	mClock.Advance(16 * time.Millisecond).MustWait(ctx)
	mClock.Advance(134 * time.Millisecond).MustWait(ctx)
	close(release)
	require.NoError(t, loop.Drain(ctx))

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, models.KindLongRender, snap.Events[0].Kind)
	assert.Equal(t, 150*time.Millisecond, snap.Events[0].LongRender.Latency)
	assert.Equal(t, 1, snap.FPS)

	select {
	case e := <-watched:
		assert.Equal(t, snap.Events[0].ID, e.ID)
	default:
		t.Fatal("watcher was not notified")
	}

	require.NoError(t, m.Clear(ctx))
	snap, err = m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Events)
}

func TestFeedEntriesAreCapped(t *testing.T) {
	t.Parallel()
	m, loop, _, f, ctx := newMonitor(t)

	require.NoError(t, loop.Do(ctx, func() {
		for id := uint64(1); id <= 3; id++ {
			f.listener(models.PerformanceEntry{InteractionID: id})
		}
	}))

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Interactions, 2)
	assert.Equal(t, uint64(2), snap.Interactions[0].InteractionID)
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	m, _, _, f, ctx := newMonitor(t)

	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))
	assert.Nil(t, f.listener)

	_, err := m.Snapshot(ctx)
	assert.ErrorIs(t, err, eventloop.ErrStopped)
}

func TestStartWithCanceledContextStops(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	loop := eventloop.New(quartz.NewMock(t), 16*time.Millisecond, logger)
	f := &feed{}
	m := monitor.New(loop, channels.NewRegistry(4), monitor.Sources{
		Tracer:     fakes.NewTracer(),
		Visibility: fakes.NewVisibility(),
		Timer:      nopTimer{},
		Publisher:  nopPublisher{},
		Feed:       f,
	}, monitor.Options{Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.Start(ctx), context.Canceled)
	assert.Nil(t, f.listener)

	require.NoError(t, m.Stop(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), eventloop.ErrStopped)
	_, err := m.Snapshot(context.Background())
	assert.ErrorIs(t, err, eventloop.ErrStopped)
}
