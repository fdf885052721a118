// Package status tracks whether a detailed timing interaction is in flight.
package status

import (
	"time"

	"slowmonitor/internal/models"
	"slowmonitor/internal/state"
)

// Reader is the read-only view handed to consumers.
type Reader interface {
	Status() models.InteractionStatus
	Subscribe(fn func(models.InteractionStatus)) (unsubscribe func())
}

// Tracker owns the process-wide interaction status. Only the timing
// orchestrator drives it; everything else holds a Reader.
type Tracker struct {
	store *state.Store[models.InteractionStatus]
}

// NewTracker returns a tracker in the no-interaction phase.
func NewTracker() *Tracker {
	return &Tracker{
		store: state.NewStore(models.InteractionStatus{Phase: models.PhaseNoInteraction}),
	}
}

// Status returns the current status.
func (t *Tracker) Status() models.InteractionStatus {
	return t.store.Get()
}

// Subscribe registers fn for status transitions.
func (t *Tracker) Subscribe(fn func(models.InteractionStatus)) (unsubscribe func()) {
	return t.store.Subscribe(fn)
}

// Begin moves to started.
func (t *Tracker) Begin(at time.Time) {
	t.set(models.InteractionStatus{Phase: models.PhaseStarted, StartedAt: at})
}

// Complete moves to completed. startedAt comes from the timing itself so a
// completion without a matching Begin still carries its start.
func (t *Tracker) Complete(startedAt, endedAt time.Time) {
	t.set(models.InteractionStatus{
		Phase:     models.PhaseCompleted,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	})
}

// Reset returns to no-interaction.
func (t *Tracker) Reset() {
	t.set(models.InteractionStatus{Phase: models.PhaseNoInteraction})
}

func (t *Tracker) set(next models.InteractionStatus) {
	current := t.store.Get()
	if current.Phase == next.Phase &&
		current.StartedAt.Equal(next.StartedAt) &&
		current.EndedAt.Equal(next.EndedAt) {
		return
	}
	t.store.Set(next)
}
