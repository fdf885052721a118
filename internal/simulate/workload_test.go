package simulate_test

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"slowmonitor/internal/channels"
	"slowmonitor/internal/eventloop"
	"slowmonitor/internal/metrics"
	"slowmonitor/internal/models"
	"slowmonitor/internal/monitor"
	"slowmonitor/internal/simulate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func run(t *testing.T, cfg simulate.Config) (*monitor.Monitor, *prometheus.Registry, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	loop := eventloop.New(quartz.NewReal(), 0, logger)
	registry := channels.NewRegistry(8)
	w := simulate.New(loop, registry, cfg, logger)
	m := monitor.New(loop, registry, monitor.Sources{
		Tracer:     w,
		Visibility: w.Visibility(),
		Timer:      w.Timer(),
		Publisher:  w,
		Feed:       w.Feed(),
	}, monitor.Options{Logger: logger, Metrics: metrics.NewRecorder(reg)})
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m, reg, ctx
}

func TestWorkloadProducesInteractions(t *testing.T) {
	t.Parallel()
	m, _, ctx := run(t, simulate.Config{
		InteractionEvery: 20 * time.Millisecond,
		InteractionCost:  5 * time.Millisecond,
		Seed:             7,
	})

	var snap models.Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = m.Snapshot(ctx)
		return err == nil && len(snap.Events) >= 2 && len(snap.Interactions) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	e := snap.Events[0]
	assert.Equal(t, models.KindInteraction, e.Kind)
	require.NotNil(t, e.Interaction)
	assert.NotNil(t, e.Interaction.Timing.Renders)
	assert.Positive(t, e.Interaction.Timing.Renders.Total())
	assert.Zero(t, snap.Channels[channels.RecordingChannel], "consumed entries must not linger")
}

func TestWorkloadDesyncIsRecovered(t *testing.T) {
	t.Parallel()
	m, reg, ctx := run(t, simulate.Config{
		InteractionEvery: 20 * time.Millisecond,
		InteractionCost:  time.Millisecond,
		DesyncRatio:      1,
		Seed:             7,
	})

	require.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(reg, "slowmonitor_desync_recoveries_total")
		if err != nil || n == 0 {
			return false
		}
		snap, err := m.Snapshot(ctx)
		return err == nil && len(snap.Events) > 0
	}, 5*time.Second, 10*time.Millisecond)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Channels[channels.RecordingChannel])
}

func TestWorkloadLongTasksBecomeLongRenders(t *testing.T) {
	t.Parallel()
	m, _, ctx := run(t, simulate.Config{
		LongTaskEvery: 30 * time.Millisecond,
		LongTaskCost:  120 * time.Millisecond,
		Seed:          7,
	})

	require.Eventually(t, func() bool {
		snap, err := m.Snapshot(ctx)
		if err != nil {
			return false
		}
		for _, e := range snap.Events {
			if e.Kind == models.KindLongRender && e.LongRender.Latency > 100*time.Millisecond {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPeriodicActivityRearmsUntilStopped(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	loop := eventloop.New(mClock, 0, zaptest.NewLogger(t))
	loop.Start()
	defer loop.Stop()
	w := simulate.New(loop, channels.NewRegistry(2), simulate.Config{HiddenEvery: 50 * time.Millisecond}, zaptest.NewLogger(t))

	var seen []bool
	var stop func()
	require.NoError(t, loop.Do(ctx, func() {
		w.Visibility().Subscribe(func(visible bool) { seen = append(seen, visible) })
		stop = w.Start()
	}))

	for i := 0; i < 3; i++ {
		mClock.Advance(50 * time.Millisecond).MustWait(ctx)
		require.NoError(t, loop.Drain(ctx))
	}
	require.NoError(t, loop.Do(ctx, stop))
	mClock.Advance(50 * time.Millisecond).MustWait(ctx)
	require.NoError(t, loop.Drain(ctx))

	require.NoError(t, loop.Do(ctx, func() {
		assert.Equal(t, []bool{false, true, false}, seen)
	}))
}
