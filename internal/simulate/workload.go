// Package simulate drives the telemetry core with a synthetic page: periodic
// interactions, background long tasks and visibility flips, all executed on
// the event loop so they block it the way real work would.
package simulate

import (
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"slowmonitor/internal/buffer"
	"slowmonitor/internal/channels"
	"slowmonitor/internal/eventloop"
	"slowmonitor/internal/models"
	"slowmonitor/internal/state"
	"slowmonitor/internal/timing"
)

// Config tunes the workload. Zero periods disable the matching activity.
type Config struct {
	InteractionEvery time.Duration
	InteractionCost  time.Duration
	LongTaskEvery    time.Duration
	LongTaskCost     time.Duration
	// DesyncRatio is the fraction of interactions whose platform entry is
	// left unconsumed in the recording channel.
	DesyncRatio float64
	HiddenEvery time.Duration
	Seed        int64
}

var components = []string{"App", "Dashboard", "Table", "Row", "Cell"}

type render struct {
	component string
	selfTime  time.Duration
}

type lifecycle struct {
	started bool
	kind    models.InteractionKind
	at      time.Time
	final   timing.FinalTiming
	entry   models.PerformanceEntry
}

// Workload implements every telemetry source on top of an event loop. All
// methods except the timer callbacks run on the loop.
type Workload struct {
	loop     *eventloop.Loop
	clock    quartz.Clock
	registry *channels.Registry
	cfg      Config
	logger   *zap.Logger
	rng      *rand.Rand

	renders    *state.Listeners[render]
	visibility *state.Listeners[bool]
	timers     map[models.InteractionKind]*state.Listeners[lifecycle]
	feed       *state.Listeners[models.PerformanceEntry]

	running  atomic.Bool
	armed    []*periodic
	hidden   bool
	nextID   uint64
	nextKind int
}

// New creates a workload publishing into registry.
func New(loop *eventloop.Loop, registry *channels.Registry, cfg Config, logger *zap.Logger) *Workload {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := uint64(cfg.Seed)
	return &Workload{
		loop:       loop,
		clock:      loop.Clock(),
		registry:   registry,
		cfg:        cfg,
		logger:     logger.Named("simulate"),
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		renders:    state.NewListeners[render](),
		visibility: state.NewListeners[bool](),
		timers:     make(map[models.InteractionKind]*state.Listeners[lifecycle]),
		feed:       state.NewListeners[models.PerformanceEntry](),
	}
}

// Subscribe records renders into trace until unsubscribed.
func (w *Workload) Subscribe(trace *models.RenderTrace) func() {
	return w.renders.Add(func(r render) {
		trace.Record(r.component, r.selfTime)
	})
}

// Visibility returns the page visibility source.
func (w *Workload) Visibility() *Visibility {
	return &Visibility{w: w}
}

// Timer returns the detailed interaction timer.
func (w *Workload) Timer() *Timer {
	return &Timer{w: w}
}

// Feed returns the completed interaction feed.
func (w *Workload) Feed() *Feed {
	return &Feed{w: w}
}

// Start arms the workload timers. The returned function disarms them.
func (w *Workload) Start() func() {
	if !w.running.CompareAndSwap(false, true) {
		return func() {}
	}
	w.every(w.cfg.InteractionEvery, "interaction", w.interact)
	w.every(w.cfg.LongTaskEvery, "long-task", w.longTask)
	w.every(w.cfg.HiddenEvery, "visibility", w.toggleHidden)
	w.logger.Info("synthetic workload started",
		zap.Duration("interaction_every", w.cfg.InteractionEvery),
		zap.Duration("long_task_every", w.cfg.LongTaskEvery),
		zap.Float64("desync_ratio", w.cfg.DesyncRatio))
	return w.stop
}

func (w *Workload) stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	for _, p := range w.armed {
		p.timer.Stop()
	}
	w.armed = nil
}

// every runs fn on the loop each period until stopped.
func (w *Workload) every(period time.Duration, tag string, fn func()) {
	if period <= 0 {
		return
	}
	p := &periodic{}
	var arm func()
	arm = func() {
		p.timer = w.clock.AfterFunc(period, func() {
			w.loop.Post(func() {
				if !w.running.Load() {
					return
				}
				fn()
				arm()
			})
		}, "simulate", tag)
	}
	arm()
	w.armed = append(w.armed, p)
}

// periodic holds the currently armed timer of one activity. It is only
// touched on the loop.
type periodic struct {
	timer *quartz.Timer
}

// busy blocks the loop for d while renders stream into every active trace.
func (w *Workload) busy(d time.Duration) {
	if d <= 0 {
		return
	}
	share := d / time.Duration(len(components))
	for _, c := range components[:1+w.rng.IntN(len(components))] {
		w.renders.Notify(render{component: c, selfTime: share})
	}
	timer := w.clock.NewTimer(d, "simulate", "busy")
	<-timer.C
}

func (w *Workload) activeKinds() []models.InteractionKind {
	var kinds []models.InteractionKind
	for _, k := range []models.InteractionKind{models.InteractionPointer, models.InteractionKeyboard} {
		if l, ok := w.timers[k]; ok && l.Len() > 0 {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (w *Workload) interact() {
	if w.hidden {
		return
	}
	kinds := w.activeKinds()
	if len(kinds) == 0 {
		return
	}
	kind := kinds[w.nextKind%len(kinds)]
	w.nextKind++
	listeners := w.timers[kind]

	startedAt := w.loop.Now()
	listeners.Notify(lifecycle{started: true, kind: kind, at: startedAt})

	trace := models.NewRenderTrace()
	stopListening := w.Subscribe(trace)
	processingStart := w.loop.Now()
	w.busy(w.cfg.InteractionCost)
	processingEnd := w.loop.Now()

	w.nextID++
	entry := models.PerformanceEntry{
		InteractionID:   w.nextID,
		Name:            eventName(kind),
		Kind:            kind,
		StartTime:       startedAt,
		Duration:        processingEnd.Sub(startedAt),
		ProcessingStart: processingStart,
		ProcessingEnd:   processingEnd,
		Target:          components[len(components)-1],
	}
	if w.running.Load() {
		w.registry.Push(channels.RecordingChannel, entry)
	}
	if w.rng.Float64() >= w.cfg.DesyncRatio {
		w.consume(entry.InteractionID)
	}

	listeners.Notify(lifecycle{
		kind: kind,
		final: timing.FinalTiming{
			Timing: models.DetailedTiming{
				Kind:          kind,
				ComponentName: entry.Target,
				ComponentPath: append([]string(nil), components...),
				BlockingStart: startedAt,
				ProcessingEnd: processingEnd,
				Renders:       trace,
			},
			StopListeningForRenders: stopListening,
		},
		entry: entry,
	})
	w.loop.Defer(func() { w.feed.Notify(entry) })
}

// consume removes the staged entry the detailed timer matched.
func (w *Workload) consume(id uint64) {
	w.registry.Update(channels.RecordingChannel, func(b *channels.Buffer) *channels.Buffer {
		kept := make([]models.PerformanceEntry, 0, b.Len())
		for _, e := range b.Slice() {
			if e.InteractionID != id {
				kept = append(kept, e)
			}
		}
		return buffer.FromSlice(kept, b.Cap())
	})
}

func (w *Workload) longTask() {
	if w.hidden {
		return
	}
	w.busy(w.cfg.LongTaskCost)
}

func (w *Workload) toggleHidden() {
	w.hidden = !w.hidden
	w.logger.Debug("visibility changed", zap.Bool("hidden", w.hidden))
	w.visibility.Notify(!w.hidden)
}

func eventName(kind models.InteractionKind) string {
	if kind == models.InteractionKeyboard {
		return "keydown"
	}
	return "pointerup"
}

// Visibility reports synthetic page visibility changes.
type Visibility struct{ w *Workload }

// Subscribe registers fn for visibility transitions.
func (v *Visibility) Subscribe(fn func(visible bool)) func() {
	return v.w.visibility.Add(fn)
}

// Timer is the synthetic detailed interaction timer.
type Timer struct{ w *Workload }

// Subscribe delivers the lifecycle of every interaction of kind to h.
func (t *Timer) Subscribe(kind models.InteractionKind, h timing.Handlers) func() {
	l, ok := t.w.timers[kind]
	if !ok {
		l = state.NewListeners[lifecycle]()
		t.w.timers[kind] = l
	}
	return l.Add(func(lc lifecycle) {
		switch {
		case lc.started && h.OnStart != nil:
			h.OnStart(lc.kind, lc.at)
		case !lc.started && h.OnComplete != nil:
			h.OnComplete(lc.kind, lc.final, lc.entry)
		}
	})
}

// Feed is the synthetic completed interaction feed.
type Feed struct{ w *Workload }

// Subscribe registers fn for every completed interaction.
func (f *Feed) Subscribe(fn func(models.PerformanceEntry)) func() {
	return f.w.feed.Add(fn)
}
