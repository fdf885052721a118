// Package sampler measures how long each turn of the event loop takes to
// reach the next paint and reports turns slower than the long task threshold.
package sampler

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slowmonitor/internal/eventloop"
	"slowmonitor/internal/metrics"
	"slowmonitor/internal/models"
)

// DefaultThreshold separates long tasks from regular work.
const DefaultThreshold = 100 * time.Millisecond

// Scheduler is the subset of the event loop the sampler drives.
type Scheduler interface {
	Now() time.Time
	RequestFrame(fn func()) eventloop.Handle
	Defer(fn func()) eventloop.Handle
}

// RenderTracer records render-tree activity into the given trace until
// unsubscribed.
type RenderTracer interface {
	Subscribe(trace *models.RenderTrace) (unsubscribe func())
}

// VisibilitySource reports page visibility transitions.
type VisibilitySource interface {
	Subscribe(fn func(visible bool)) (unsubscribe func())
}

// EventSink receives long render events.
type EventSink interface {
	AddEvent(e models.SlowdownEvent)
}

// Options configures a Sampler.
type Options struct {
	Scheduler Scheduler
	Tracer    RenderTracer
	Sink      EventSink
	Threshold time.Duration
	Window    time.Duration
	Logger    *zap.Logger
	Metrics   *metrics.Recorder
	// NewID defaults to random UUIDs.
	NewID func() string
}

// Sampler runs the perpetual measurement cycle. All methods must run on the
// event loop.
type Sampler struct {
	sched     Scheduler
	tracer    RenderTracer
	sink      EventSink
	threshold time.Duration
	logger    *zap.Logger
	metrics   *metrics.Recorder
	newID     func() string

	window    *FrameWindow
	dirty     bool
	running   bool
	paint     eventloop.Handle
	deferred  eventloop.Handle
	stopTrace func()
}

// New creates a stopped sampler.
func New(opts Options) *Sampler {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Sampler{
		sched:     opts.Scheduler,
		tracer:    opts.Tracer,
		sink:      opts.Sink,
		threshold: opts.Threshold,
		logger:    opts.Logger.Named("sampler"),
		metrics:   opts.Metrics,
		newID:     opts.NewID,
		window:    NewFrameWindow(opts.Window),
	}
}

// Start begins the cycle. Calling Start on a running sampler does nothing.
func (s *Sampler) Start() {
	if s.running {
		return
	}
	s.running = true
	s.beginCycle()
}

// Stop cancels the pending callbacks of the current cycle. No event is
// emitted after Stop returns. Stop is idempotent.
func (s *Sampler) Stop() {
	if !s.running {
		return
	}
	s.running = false
	if s.paint != nil {
		s.paint.Cancel()
		s.paint = nil
	}
	if s.deferred != nil {
		s.deferred.Cancel()
		s.deferred = nil
	}
	s.endTrace()
}

// Running reports whether the cycle is active.
func (s *Sampler) Running() bool {
	return s.running
}

// MarkDirty invalidates the cycle in progress.
func (s *Sampler) MarkDirty() {
	s.dirty = true
}

// Dirty reports whether the cycle in progress is invalidated.
func (s *Sampler) Dirty() bool {
	return s.dirty
}

// FPS returns the latest frames per second estimate.
func (s *Sampler) FPS() int {
	return s.window.FPS()
}

// TrackVisibility marks the current cycle dirty whenever src reports the page
// as hidden.
func (s *Sampler) TrackVisibility(src VisibilitySource) (unsubscribe func()) {
	return src.Subscribe(func(visible bool) {
		if !visible {
			s.MarkDirty()
		}
	})
}

func (s *Sampler) beginCycle() {
	trace := models.NewRenderTrace()
	if s.tracer != nil {
		s.stopTrace = s.tracer.Subscribe(trace)
	}
	startTime := s.sched.Now()

	s.paint = s.sched.RequestFrame(func() {
		s.paint = nil
		s.deferred = s.sched.Defer(func() {
			s.deferred = nil
			s.finishCycle(trace, startTime)
		})
	})
}

func (s *Sampler) finishCycle(trace *models.RenderTrace, startTime time.Time) {
	if !s.running {
		return
	}
	now := s.sched.Now()
	duration := now.Sub(startTime)
	fps := s.window.Record(now)
	s.metrics.FrameRate(fps)

	if duration > s.threshold {
		if s.dirty {
			s.metrics.CycleSuppressed()
			s.logger.Debug("dropping long task measured while hidden", zap.Duration("duration", duration))
		} else {
			s.sink.AddEvent(models.SlowdownEvent{
				ID:       s.newID(),
				Kind:     models.KindLongRender,
				Interval: models.Interval{StartAt: startTime, EndAt: now},
				LongRender: &models.LongRenderMeta{
					Renders: trace,
					Latency: duration,
					FPS:     fps,
				},
			})
		}
	}

	s.dirty = false
	s.endTrace()
	if s.running {
		s.beginCycle()
	}
}

func (s *Sampler) endTrace() {
	if s.stopTrace != nil {
		s.stopTrace()
		s.stopTrace = nil
	}
}
