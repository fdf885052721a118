package models

import (
	"sort"
	"time"
)

// EventKind discriminates the SlowdownEvent variants.
type EventKind string

const (
	KindInteraction EventKind = "interaction"
	KindLongRender  EventKind = "long-render"
)

// InteractionKind names a tracked class of user input.
type InteractionKind string

const (
	InteractionPointer  InteractionKind = "pointer"
	InteractionKeyboard InteractionKind = "keyboard"
)

// Valid reports whether k is one of the tracked interaction kinds.
func (k InteractionKind) Valid() bool {
	return k == InteractionPointer || k == InteractionKeyboard
}

// Interval is a closed time range. StartAt must not be after EndAt.
type Interval struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.EndAt.Sub(i.StartAt)
}

// SlowdownEvent is a single entry of the slowness timeline. Exactly one of
// Interaction or LongRender is set, matching Kind.
type SlowdownEvent struct {
	ID   string    `json:"id"`
	Kind EventKind `json:"kind"`
	Interval
	Interaction *InteractionMeta `json:"interaction,omitempty"`
	LongRender  *LongRenderMeta  `json:"long_render,omitempty"`
}

// Latency returns the variant latency, or zero for a malformed event.
func (e SlowdownEvent) Latency() time.Duration {
	switch {
	case e.Kind == KindInteraction && e.Interaction != nil:
		return e.Interaction.Latency
	case e.Kind == KindLongRender && e.LongRender != nil:
		return e.LongRender.Latency
	default:
		return 0
	}
}

// InteractionMeta describes a user interaction measured from input to paint.
type InteractionMeta struct {
	Timing  DetailedTiming `json:"timing"`
	Latency time.Duration  `json:"latency_ns"`
	Kind    string         `json:"kind"`
}

// LongRenderMeta describes a long task observed by the frame sampler.
type LongRenderMeta struct {
	Renders *RenderTrace  `json:"renders,omitempty"`
	Latency time.Duration `json:"latency_ns"`
	FPS     int           `json:"fps"`
}

// DetailedTiming is the result of the detailed interaction instrumentation.
type DetailedTiming struct {
	Kind          InteractionKind `json:"kind"`
	ComponentName string          `json:"component_name,omitempty"`
	ComponentPath []string        `json:"component_path,omitempty"`
	BlockingStart time.Time       `json:"blocking_start"`
	ProcessingEnd time.Time       `json:"processing_end"`
	Renders       *RenderTrace    `json:"renders,omitempty"`
}

// PerformanceEntry is a raw entry reported by the platform performance feed.
type PerformanceEntry struct {
	InteractionID   uint64          `json:"interaction_id"`
	Name            string          `json:"name"`
	Kind            InteractionKind `json:"kind"`
	StartTime       time.Time       `json:"start_time"`
	Duration        time.Duration   `json:"duration_ns"`
	ProcessingStart time.Time       `json:"processing_start"`
	ProcessingEnd   time.Time       `json:"processing_end"`
	Target          string          `json:"target,omitempty"`
}

// ComponentRenders accumulates the renders of one component.
type ComponentRenders struct {
	Count    int           `json:"count"`
	SelfTime time.Duration `json:"self_time_ns"`
}

// RenderTrace is an accumulator of render-tree activity. Its content is
// opaque to the core; only the render instrumentation writes to it.
type RenderTrace struct {
	Components map[string]*ComponentRenders `json:"components"`
}

// NewRenderTrace returns an empty trace.
func NewRenderTrace() *RenderTrace {
	return &RenderTrace{Components: make(map[string]*ComponentRenders)}
}

// Record counts one render of component.
func (t *RenderTrace) Record(component string, selfTime time.Duration) {
	c := t.Components[component]
	if c == nil {
		c = &ComponentRenders{}
		t.Components[component] = c
	}
	c.Count++
	c.SelfTime += selfTime
}

// Total returns the number of renders recorded.
func (t *RenderTrace) Total() int {
	if t == nil {
		return 0
	}
	total := 0
	for _, c := range t.Components {
		total += c.Count
	}
	return total
}

// Names returns the rendered component names, sorted.
func (t *RenderTrace) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.Components))
	for name := range t.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InteractionPhase is the state of the tracked interaction.
type InteractionPhase string

const (
	PhaseNoInteraction InteractionPhase = "no-interaction"
	PhaseStarted       InteractionPhase = "started"
	PhaseCompleted     InteractionPhase = "completed"
)

// InteractionStatus reflects whether a tracked interaction is in flight.
type InteractionStatus struct {
	Phase     InteractionPhase `json:"phase"`
	StartedAt time.Time        `json:"started_at,omitempty"`
	EndedAt   time.Time        `json:"ended_at,omitempty"`
}

// Snapshot is a consistent read of the core taken on the event loop.
type Snapshot struct {
	GeneratedAt  time.Time          `json:"generated_at"`
	Events       []SlowdownEvent    `json:"events"`
	Interactions []PerformanceEntry `json:"interactions"`
	Status       InteractionStatus  `json:"status"`
	FPS          int                `json:"fps"`
	Channels     map[string]int     `json:"channels,omitempty"`
}
