package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowmonitor/internal/config"
	"slowmonitor/internal/models"
)

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	cfg, err = config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.LongTaskThreshold())
	assert.Equal(t, []models.InteractionKind{models.InteractionPointer, models.InteractionKeyboard}, cfg.Kinds())
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: "127.0.0.1:9090"
long_task_threshold_ms: 50
max_interaction_batch: 10
interaction_kinds: [keyboard]
simulate:
  enabled: false
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr)
	assert.Equal(t, 50*time.Millisecond, cfg.LongTaskThreshold())
	assert.Equal(t, 10, cfg.MaxInteractionBatch)
	assert.Equal(t, []models.InteractionKind{models.InteractionKeyboard}, cfg.Kinds())
	assert.False(t, cfg.Simulate.Enabled)
	assert.Equal(t, 16*time.Millisecond, cfg.FrameInterval())
}

func TestValidationFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"zero capacity":    "channel_capacity: 0",
		"negative batch":   "max_interaction_batch: -1",
		"unknown kind":     "interaction_kinds: [wheel]",
		"bad desync ratio": "simulate: {enabled: true, interaction_every_ms: 10, desync_ratio: 2}",
		"malformed yaml":   "max_events: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := config.Parse([]byte(content))
			assert.Error(t, err)
		})
	}
}
