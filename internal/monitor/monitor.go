package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"slowmonitor/internal/channels"
	"slowmonitor/internal/eventloop"
	"slowmonitor/internal/events"
	"slowmonitor/internal/metrics"
	"slowmonitor/internal/models"
	"slowmonitor/internal/sampler"
	"slowmonitor/internal/timing"
)

// Sources are the external collaborators feeding the telemetry core.
type Sources struct {
	Tracer     sampler.RenderTracer
	Visibility sampler.VisibilitySource
	Timer      timing.DetailedTimer
	Publisher  timing.Publisher
	Feed       timing.Feed
}

// Options tunes the telemetry core.
type Options struct {
	LongTaskThreshold   time.Duration
	FrameWindow         time.Duration
	MaxEvents           int
	MaxInteractionBatch int
	Kinds               []models.InteractionKind
	Logger              *zap.Logger
	Metrics             *metrics.Recorder
}

// Monitor assembles the telemetry core on an event loop and gives other
// goroutines a safe way to read it.
type Monitor struct {
	loop     *eventloop.Loop
	registry *channels.Registry
	store    *events.Store
	sampler  *sampler.Sampler
	orch     *timing.Orchestrator
	logger   *zap.Logger

	mu            sync.Mutex
	started       bool
	stopped       bool
	stopTelemetry func()
}

// New wires the core. The registry is shared with the sources that publish
// into it.
func New(loop *eventloop.Loop, registry *channels.Registry, sources Sources, opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	store := events.NewStore(opts.MaxEvents, opts.Logger, opts.Metrics)
	s := sampler.New(sampler.Options{
		Scheduler: loop,
		Tracer:    sources.Tracer,
		Sink:      store,
		Threshold: opts.LongTaskThreshold,
		Window:    opts.FrameWindow,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
	orch := timing.New(timing.Options{
		Scheduler:           loop,
		Store:               store,
		Channels:            registry,
		Sampler:             s,
		Timer:               sources.Timer,
		Publisher:           sources.Publisher,
		Feed:                sources.Feed,
		Visibility:          sources.Visibility,
		Kinds:               opts.Kinds,
		MaxInteractionBatch: opts.MaxInteractionBatch,
		Logger:              opts.Logger,
		Metrics:             opts.Metrics,
	})
	return &Monitor{
		loop:     loop,
		registry: registry,
		store:    store,
		sampler:  s,
		orch:     orch,
		logger:   opts.Logger.Named("monitor"),
	}
}

// Start launches the loop and brings the telemetry sources up on it. A failed
// Start leaves the monitor stopped.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return eventloop.ErrStopped
	}
	if m.started {
		return nil
	}
	m.loop.Start()
	var stopTelemetry func()
	if err := m.loop.Do(ctx, func() { stopTelemetry = m.orch.Start() }); err != nil {
		// Stop drops the queued start or waits for it to return.
		m.loop.Stop()
		m.stopped = true
		if stopTelemetry != nil {
			stopTelemetry()
		}
		return fmt.Errorf("start telemetry: %w", err)
	}
	m.stopTelemetry = stopTelemetry
	m.started = true
	return nil
}

// Stop tears the sources down and terminates the loop. It is idempotent.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.stopped {
		return nil
	}
	m.stopped = true
	err := m.loop.Do(ctx, m.stopTelemetry)
	m.loop.Stop()
	if err != nil {
		return fmt.Errorf("stop telemetry: %w", err)
	}
	return nil
}

// Snapshot reads the visible events, the interaction buffer and the status in
// one loop turn.
func (m *Monitor) Snapshot(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	err := m.loop.Do(ctx, func() {
		snap = models.Snapshot{
			GeneratedAt:  m.loop.Now().UTC(),
			Events:       m.store.Events(),
			Interactions: m.orch.Interactions(),
			Status:       m.orch.Status().Status(),
			FPS:          m.sampler.FPS(),
			Channels:     m.registry.Sizes(),
		}
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}

// Clear empties the visible timeline.
func (m *Monitor) Clear(ctx context.Context) error {
	if err := m.loop.Do(ctx, m.store.Clear); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Watch registers fn for every accepted event. fn runs on the event loop and
// must not block.
func (m *Monitor) Watch(ctx context.Context, fn func(models.SlowdownEvent)) (unsubscribe func(), err error) {
	var remove func()
	if err := m.loop.Do(ctx, func() { remove = m.store.AddListener(fn) }); err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	return func() { m.loop.Post(remove) }, nil
}
