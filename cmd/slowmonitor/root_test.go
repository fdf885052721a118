package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowmonitor/internal/config"
	"slowmonitor/internal/models"
	"slowmonitor/internal/storage"
)

func TestInspectSummarisesSnapshot(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, storage.WriteSnapshot(path, models.Snapshot{
		GeneratedAt: at,
		Events: []models.SlowdownEvent{{
			ID:          "i1",
			Kind:        models.KindInteraction,
			Interval:    models.Interval{StartAt: at, EndAt: at.Add(250 * time.Millisecond)},
			Interaction: &models.InteractionMeta{Latency: 250 * time.Millisecond},
		}},
		Interactions: []models.PerformanceEntry{{InteractionID: 1}},
		Status:       models.InteractionStatus{Phase: models.PhaseNoInteraction},
		FPS:          30,
	}))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"inspect", path})
	require.NoError(t, cmd.Execute())

	var report inspectReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "no-interaction", report.Status)
	assert.Equal(t, 1, report.Interactions)
	assert.Equal(t, 1, report.Summary.Total)
	assert.Equal(t, 250.0, report.Summary.Kinds[0].MaxMS)
}

func TestInspectRequiresPath(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"inspect"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestWorkloadConfigDisabled(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	assert.Equal(t, 1500*time.Millisecond, workloadConfig(cfg).InteractionEvery)
	cfg.Simulate.Enabled = false
	assert.Zero(t, workloadConfig(cfg))
}
