package status_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowmonitor/internal/models"
	"slowmonitor/internal/status"
)

func TestLifecycle(t *testing.T) {
	t.Parallel()

	tracker := status.NewTracker()
	var reader status.Reader = tracker
	require.Equal(t, models.PhaseNoInteraction, reader.Status().Phase)

	var phases []models.InteractionPhase
	reader.Subscribe(func(s models.InteractionStatus) { phases = append(phases, s.Phase) })

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(180 * time.Millisecond)
	tracker.Begin(start)
	tracker.Complete(start, end)

	got := reader.Status()
	assert.Equal(t, models.PhaseCompleted, got.Phase)
	assert.Equal(t, start, got.StartedAt)
	assert.Equal(t, end, got.EndedAt)

	tracker.Reset()
	tracker.Reset()
	assert.Equal(t, []models.InteractionPhase{
		models.PhaseStarted,
		models.PhaseCompleted,
		models.PhaseNoInteraction,
	}, phases)
}

func TestCompleteWithoutBegin(t *testing.T) {
	t.Parallel()

	tracker := status.NewTracker()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tracker.Complete(start, start.Add(time.Second))

	assert.Equal(t, models.PhaseCompleted, tracker.Status().Phase)
	assert.Equal(t, start, tracker.Status().StartedAt)
}
