// Package timing fuses the detailed interaction instrumentation with the
// platform performance feed and brings every telemetry source up and down as
// a unit.
package timing

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slowmonitor/internal/buffer"
	"slowmonitor/internal/channels"
	"slowmonitor/internal/eventloop"
	"slowmonitor/internal/events"
	"slowmonitor/internal/metrics"
	"slowmonitor/internal/models"
	"slowmonitor/internal/sampler"
	"slowmonitor/internal/status"
)

// DefaultMaxInteractionBatch bounds the interaction buffer.
const DefaultMaxInteractionBatch = 50

// DefaultKinds are the interaction kinds subscribed when none are configured.
var DefaultKinds = []models.InteractionKind{models.InteractionPointer, models.InteractionKeyboard}

// FinalTiming is what the detailed instrumentation reports on completion.
type FinalTiming struct {
	Timing models.DetailedTiming
	// StopListeningForRenders detaches the render listener attached for this
	// interaction.
	StopListeningForRenders func()
}

// Handlers receive the lifecycle of a single detailed timing.
type Handlers struct {
	OnStart    func(kind models.InteractionKind, startedAt time.Time)
	OnComplete func(kind models.InteractionKind, final FinalTiming, entry models.PerformanceEntry)
}

// DetailedTimer is the detailed interaction instrumentation.
type DetailedTimer interface {
	Subscribe(kind models.InteractionKind, h Handlers) (unsubscribe func())
}

// Publisher feeds raw platform entries into the channel registry.
type Publisher interface {
	Start() (stop func())
}

// Feed reports completed platform interactions.
type Feed interface {
	Subscribe(fn func(models.PerformanceEntry)) (unsubscribe func())
}

// Scheduler is the subset of the event loop the orchestrator needs.
type Scheduler interface {
	Now() time.Time
	Defer(fn func()) eventloop.Handle
}

// Options configures an Orchestrator. Store, Channels, Sampler, Timer,
// Publisher, Feed and Scheduler are required.
type Options struct {
	Scheduler  Scheduler
	Store      *events.Store
	Channels   *channels.Registry
	Sampler    *sampler.Sampler
	Timer      DetailedTimer
	Publisher  Publisher
	Feed       Feed
	Visibility sampler.VisibilitySource

	Kinds               []models.InteractionKind
	MaxInteractionBatch int

	Logger  *zap.Logger
	Metrics *metrics.Recorder
	NewID   func() string
}

// Orchestrator owns the interaction status and the interaction buffer. All
// methods must run on the event loop.
type Orchestrator struct {
	sched      Scheduler
	store      *events.Store
	channels   *channels.Registry
	sampler    *sampler.Sampler
	timer      DetailedTimer
	publisher  Publisher
	feed       Feed
	visibility sampler.VisibilitySource
	kinds      []models.InteractionKind
	logger     *zap.Logger
	metrics    *metrics.Recorder
	newID      func() string

	status       *status.Tracker
	interactions *buffer.Bounded[models.PerformanceEntry]
	pendingReset eventloop.Handle
}

// New creates an orchestrator. It panics if MaxInteractionBatch is negative.
func New(opts Options) *Orchestrator {
	if opts.MaxInteractionBatch == 0 {
		opts.MaxInteractionBatch = DefaultMaxInteractionBatch
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = DefaultKinds
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Orchestrator{
		sched:        opts.Scheduler,
		store:        opts.Store,
		channels:     opts.Channels,
		sampler:      opts.Sampler,
		timer:        opts.Timer,
		publisher:    opts.Publisher,
		feed:         opts.Feed,
		visibility:   opts.Visibility,
		kinds:        opts.Kinds,
		logger:       opts.Logger.Named("timing"),
		metrics:      opts.Metrics,
		newID:        opts.NewID,
		status:       status.NewTracker(),
		interactions: buffer.New[models.PerformanceEntry](opts.MaxInteractionBatch),
	}
}

// Status returns the read-only interaction status.
func (o *Orchestrator) Status() status.Reader {
	return o.status
}

// Interactions returns the buffered completed interactions, oldest first.
func (o *Orchestrator) Interactions() []models.PerformanceEntry {
	return o.interactions.Slice()
}

// Start brings every source up and returns a func tearing them down. The
// returned func is idempotent.
func (o *Orchestrator) Start() (stop func()) {
	var unsubscribes []func()

	unsubscribes = append(unsubscribes, o.publisher.Start())
	if o.visibility != nil {
		unsubscribes = append(unsubscribes, o.sampler.TrackVisibility(o.visibility))
	}
	o.sampler.Start()
	unsubscribes = append(unsubscribes, o.sampler.Stop)

	for _, kind := range o.kinds {
		unsubscribes = append(unsubscribes, o.timer.Subscribe(kind, Handlers{
			OnStart:    o.onStart,
			OnComplete: o.onComplete,
		}))
	}
	unsubscribes = append(unsubscribes, o.feed.Subscribe(o.onFeedEntry))

	o.logger.Info("telemetry started", zap.Int("kinds", len(o.kinds)))

	var once sync.Once
	return func() {
		once.Do(func() {
			if o.pendingReset != nil {
				o.pendingReset.Cancel()
				o.pendingReset = nil
			}
			for _, unsubscribe := range unsubscribes {
				if unsubscribe != nil {
					unsubscribe()
				}
			}
			o.logger.Info("telemetry stopped")
		})
	}
}

func (o *Orchestrator) onStart(kind models.InteractionKind, startedAt time.Time) {
	o.status.Begin(startedAt)
}

func (o *Orchestrator) onComplete(kind models.InteractionKind, final FinalTiming, entry models.PerformanceEntry) {
	now := o.sched.Now()
	startAt := final.Timing.BlockingStart
	if startAt.IsZero() || startAt.After(now) {
		startAt = now
	}

	o.store.AddEvent(models.SlowdownEvent{
		ID:       o.newID(),
		Kind:     models.KindInteraction,
		Interval: models.Interval{StartAt: startAt, EndAt: now},
		Interaction: &models.InteractionMeta{
			Timing:  final.Timing,
			Latency: now.Sub(startAt),
			Kind:    string(entry.Kind),
		},
	})

	if final.StopListeningForRenders != nil {
		final.StopListeningForRenders()
	}

	// Entries still staged for recording mean the feed and the detailed
	// timing disagree. The detailed timing wins; stale entries are dropped.
	if stale := o.channels.State(channels.RecordingChannel).Len(); stale > 0 {
		o.channels.Reset(channels.RecordingChannel)
		o.metrics.DesyncRecovered()
		o.logger.Debug("discarded unconsumed recording entries",
			zap.Int("entries", stale),
			zap.String("kind", string(kind)))
	}

	o.status.Complete(startAt, now)
	if o.pendingReset != nil {
		o.pendingReset.Cancel()
	}
	o.pendingReset = o.sched.Defer(func() {
		o.pendingReset = nil
		// a newer interaction may have begun in between
		current := o.status.Status()
		if current.Phase == models.PhaseCompleted && current.EndedAt.Equal(now) {
			o.status.Reset()
		}
	})
}

func (o *Orchestrator) onFeedEntry(entry models.PerformanceEntry) {
	o.interactions.Push(entry)
}
