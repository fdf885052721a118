// Package events is the single merge point of the telemetry core. It holds
// the visible slowdown timeline and hides long renders that a tracked
// interaction already accounts for.
package events

import (
	"go.uber.org/zap"

	"slowmonitor/internal/metrics"
	"slowmonitor/internal/models"
	"slowmonitor/internal/state"
)

// DefaultMaxEvents bounds the visible timeline.
const DefaultMaxEvents = 200

// Overlaps reports whether two closed intervals intersect. Touching
// endpoints overlap.
func Overlaps(a, b models.Interval) bool {
	return !a.StartAt.After(b.EndAt) && !b.StartAt.After(a.EndAt)
}

// Store holds the deduplicated, insertion ordered set of visible events. All
// methods must run on the event loop.
type Store struct {
	maxEvents int
	logger    *zap.Logger
	metrics   *metrics.Recorder

	visible *state.Store[[]models.SlowdownEvent]
	ids     map[string]struct{}
	raw     *state.Listeners[models.SlowdownEvent]
}

// NewStore creates an empty store. A non-positive maxEvents selects
// DefaultMaxEvents.
func NewStore(maxEvents int, logger *zap.Logger, rec *metrics.Recorder) *Store {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		maxEvents: maxEvents,
		logger:    logger.Named("events"),
		metrics:   rec,
		visible:   state.NewStore[[]models.SlowdownEvent](nil),
		ids:       make(map[string]struct{}),
		raw:       state.NewListeners[models.SlowdownEvent](),
	}
}

// AddEvent notifies raw listeners of e and recomputes the visible set. An
// event whose ID is already visible is ignored.
//
// The new event is always committed before correlation runs, whatever kinds
// are already held. Correlation then drops every long render overlapping any
// interaction; interactions are never dropped.
func (s *Store) AddEvent(e models.SlowdownEvent) {
	if _, dup := s.ids[e.ID]; dup {
		s.logger.Debug("ignoring duplicate event", zap.String("id", e.ID))
		return
	}
	if e.EndAt.Before(e.StartAt) {
		s.logger.Warn("clamping inverted interval",
			zap.String("id", e.ID),
			zap.Time("start_at", e.StartAt),
			zap.Time("end_at", e.EndAt))
		e.EndAt = e.StartAt
	}

	s.raw.Notify(e)
	s.metrics.EventAdded(e)

	current := s.visible.Get()
	all := make([]models.SlowdownEvent, 0, len(current)+1)
	all = append(all, current...)
	all = append(all, e)

	next := correlate(all)
	s.metrics.Correlated(len(all) - len(next))
	if len(next) > s.maxEvents {
		next = evict(next, s.maxEvents)
	}
	s.commit(next)
}

// AddListener registers cb for every accepted event, before correlation.
func (s *Store) AddListener(cb func(models.SlowdownEvent)) (unsubscribe func()) {
	return s.raw.Add(cb)
}

// Subscribe registers cb for changes of the visible set.
func (s *Store) Subscribe(cb func([]models.SlowdownEvent)) (unsubscribe func()) {
	return s.visible.Subscribe(cb)
}

// Clear empties the visible set. Listeners stay registered.
func (s *Store) Clear() {
	s.commit(nil)
}

// Events returns a copy of the visible set.
func (s *Store) Events() []models.SlowdownEvent {
	current := s.visible.Get()
	out := make([]models.SlowdownEvent, len(current))
	copy(out, current)
	return out
}

// Len returns the number of visible events.
func (s *Store) Len() int {
	return len(s.visible.Get())
}

func (s *Store) commit(next []models.SlowdownEvent) {
	ids := make(map[string]struct{}, len(next))
	for _, e := range next {
		ids[e.ID] = struct{}{}
	}
	s.ids = ids
	s.metrics.Visible(len(next))
	s.visible.Set(next)
}

// evict trims evs to limit by dropping the oldest long renders. Interactions
// go only once no long render is left.
func evict(evs []models.SlowdownEvent, limit int) []models.SlowdownEvent {
	excess := len(evs) - limit
	drop := make(map[int]struct{}, excess)
	for i := 0; i < len(evs) && len(drop) < excess; i++ {
		if evs[i].Kind == models.KindLongRender {
			drop[i] = struct{}{}
		}
	}
	for i := 0; i < len(evs) && len(drop) < excess; i++ {
		drop[i] = struct{}{}
	}
	out := make([]models.SlowdownEvent, 0, limit)
	for i, e := range evs {
		if _, ok := drop[i]; !ok {
			out = append(out, e)
		}
	}
	return out
}

// correlate returns events without the long renders overlapping an
// interaction, preserving order.
func correlate(all []models.SlowdownEvent) []models.SlowdownEvent {
	var interactions []models.Interval
	for _, e := range all {
		if e.Kind == models.KindInteraction {
			interactions = append(interactions, e.Interval)
		}
	}

	out := make([]models.SlowdownEvent, 0, len(all))
	for _, e := range all {
		if e.Kind == models.KindLongRender && overlapsAny(e.Interval, interactions) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func overlapsAny(target models.Interval, intervals []models.Interval) bool {
	for _, candidate := range intervals {
		if Overlaps(target, candidate) {
			return true
		}
	}
	return false
}
