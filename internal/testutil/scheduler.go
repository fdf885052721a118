// Package testutil holds deterministic stand-ins for the event loop and the
// render instrumentation, shared by package tests.
package testutil

import (
	"time"

	"slowmonitor/internal/eventloop"
	"slowmonitor/internal/models"
)

type fakeTask struct {
	fn       func()
	canceled bool
}

func (t *fakeTask) Cancel() {
	t.canceled = true
}

// Scheduler is a manually stepped scheduler. Nothing runs until the test
// calls Frame or RunDeferred.
type Scheduler struct {
	now      time.Time
	frames   []*fakeTask
	deferred []*fakeTask
}

// NewScheduler returns a scheduler whose clock reads start.
func NewScheduler(start time.Time) *Scheduler {
	return &Scheduler{now: start}
}

// Now returns the fake time.
func (s *Scheduler) Now() time.Time {
	return s.now
}

// Advance moves the fake clock forward.
func (s *Scheduler) Advance(d time.Duration) {
	s.now = s.now.Add(d)
}

// RequestFrame queues fn until the next call to Frame.
func (s *Scheduler) RequestFrame(fn func()) eventloop.Handle {
	t := &fakeTask{fn: fn}
	s.frames = append(s.frames, t)
	return t
}

// Defer queues fn until RunDeferred.
func (s *Scheduler) Defer(fn func()) eventloop.Handle {
	t := &fakeTask{fn: fn}
	s.deferred = append(s.deferred, t)
	return t
}

// PendingFrames returns the number of live frame callbacks.
func (s *Scheduler) PendingFrames() int {
	return live(s.frames)
}

// PendingDeferred returns the number of live deferred callbacks.
func (s *Scheduler) PendingDeferred() int {
	return live(s.deferred)
}

// Frame runs the frame callbacks queued so far.
func (s *Scheduler) Frame() {
	queued := s.frames
	s.frames = nil
	run(queued)
}

// RunDeferred runs deferred callbacks until none are left.
func (s *Scheduler) RunDeferred() {
	for len(s.deferred) > 0 {
		queued := s.deferred
		s.deferred = nil
		run(queued)
	}
}

// Cycle fires a frame then its deferred callbacks.
func (s *Scheduler) Cycle() {
	s.Frame()
	s.RunDeferred()
}

func run(tasks []*fakeTask) {
	for _, t := range tasks {
		if !t.canceled {
			t.fn()
		}
	}
}

func live(tasks []*fakeTask) int {
	n := 0
	for _, t := range tasks {
		if !t.canceled {
			n++
		}
	}
	return n
}

// Tracer is a render tracer whose subscriptions the test drives directly.
type Tracer struct {
	traces map[*models.RenderTrace]struct{}
	// Subscribed counts Subscribe calls.
	Subscribed int
}

// NewTracer returns a tracer without subscribers.
func NewTracer() *Tracer {
	return &Tracer{traces: make(map[*models.RenderTrace]struct{})}
}

// Subscribe attaches trace until the returned func is called.
func (t *Tracer) Subscribe(trace *models.RenderTrace) func() {
	t.Subscribed++
	t.traces[trace] = struct{}{}
	return func() { delete(t.traces, trace) }
}

// Active returns the number of attached traces.
func (t *Tracer) Active() int {
	return len(t.traces)
}

// Render records a render into every attached trace.
func (t *Tracer) Render(component string, selfTime time.Duration) {
	for trace := range t.traces {
		trace.Record(component, selfTime)
	}
}

// Visibility is a visibility source the test toggles.
type Visibility struct {
	listeners map[int]func(bool)
	next      int
}

// NewVisibility returns a source without listeners.
func NewVisibility() *Visibility {
	return &Visibility{listeners: make(map[int]func(bool))}
}

// Subscribe registers fn.
func (v *Visibility) Subscribe(fn func(visible bool)) func() {
	id := v.next
	v.next++
	v.listeners[id] = fn
	return func() { delete(v.listeners, id) }
}

// Set reports a visibility transition.
func (v *Visibility) Set(visible bool) {
	for _, fn := range v.listeners {
		fn(visible)
	}
}

// Listeners returns the number of subscribers.
func (v *Visibility) Listeners() int {
	return len(v.listeners)
}

// Sink collects events.
type Sink struct {
	Events []models.SlowdownEvent
}

// AddEvent records e.
func (s *Sink) AddEvent(e models.SlowdownEvent) {
	s.Events = append(s.Events, e)
}
