package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"slowmonitor/internal/models"
)

// Config represents configuration data for the telemetry service.
type Config struct {
	ListenAddr          string     `yaml:"listen_addr"`
	LogLevel            string     `yaml:"log_level"`
	FrameIntervalMS     int        `yaml:"frame_interval_ms"`
	LongTaskThresholdMS int        `yaml:"long_task_threshold_ms"`
	FrameWindowMS       int        `yaml:"frame_window_ms"`
	MaxInteractionBatch int        `yaml:"max_interaction_batch"`
	ChannelCapacity     int        `yaml:"channel_capacity"`
	MaxEvents           int        `yaml:"max_events"`
	InteractionKinds    []string   `yaml:"interaction_kinds"`
	SnapshotPath        string     `yaml:"snapshot_path"`
	StreamPushSeconds   int        `yaml:"stream_push_seconds"`
	Simulate            Simulation `yaml:"simulate"`
}

// Simulation configures the synthetic workload driving the core.
type Simulation struct {
	Enabled            bool    `yaml:"enabled"`
	InteractionEveryMS int     `yaml:"interaction_every_ms"`
	InteractionCostMS  int     `yaml:"interaction_cost_ms"`
	LongTaskEveryMS    int     `yaml:"long_task_every_ms"`
	LongTaskCostMS     int     `yaml:"long_task_cost_ms"`
	DesyncRatio        float64 `yaml:"desync_ratio"`
	HiddenEveryMS      int     `yaml:"hidden_every_ms"`
	Seed               int64   `yaml:"seed"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          ":8080",
		LogLevel:            "info",
		FrameIntervalMS:     16,
		LongTaskThresholdMS: 100,
		FrameWindowMS:       1000,
		MaxInteractionBatch: 50,
		ChannelCapacity:     50,
		MaxEvents:           200,
		InteractionKinds:    []string{string(models.InteractionPointer), string(models.InteractionKeyboard)},
		StreamPushSeconds:   5,
		Simulate: Simulation{
			Enabled:            true,
			InteractionEveryMS: 1500,
			InteractionCostMS:  180,
			LongTaskEveryMS:    2500,
			LongTaskCostMS:     220,
			DesyncRatio:        0.1,
			HiddenEveryMS:      0,
			Seed:               1,
		},
	}
}

// Load reads configuration from yaml file. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(content)
}

// Parse decodes yaml content over the defaults and validates the result.
func Parse(content []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultConfig().LogLevel
	}
	if len(cfg.InteractionKinds) == 0 {
		cfg.InteractionKinds = DefaultConfig().InteractionKinds
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the core cannot run with.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"frame_interval_ms", c.FrameIntervalMS},
		{"long_task_threshold_ms", c.LongTaskThresholdMS},
		{"frame_window_ms", c.FrameWindowMS},
		{"max_interaction_batch", c.MaxInteractionBatch},
		{"channel_capacity", c.ChannelCapacity},
		{"max_events", c.MaxEvents},
		{"stream_push_seconds", c.StreamPushSeconds},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}
	for _, kind := range c.InteractionKinds {
		if !models.InteractionKind(kind).Valid() {
			return fmt.Errorf("unknown interaction kind %q", kind)
		}
	}
	if c.Simulate.Enabled {
		if c.Simulate.InteractionEveryMS <= 0 {
			return errors.New("simulate.interaction_every_ms must be positive")
		}
		if c.Simulate.DesyncRatio < 0 || c.Simulate.DesyncRatio > 1 {
			return fmt.Errorf("simulate.desync_ratio must be within [0,1], got %v", c.Simulate.DesyncRatio)
		}
	}
	return nil
}

// Kinds returns the configured interaction kinds.
func (c Config) Kinds() []models.InteractionKind {
	kinds := make([]models.InteractionKind, 0, len(c.InteractionKinds))
	for _, k := range c.InteractionKinds {
		kinds = append(kinds, models.InteractionKind(k))
	}
	return kinds
}

// FrameInterval returns the paint interval.
func (c Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMS) * time.Millisecond
}

// LongTaskThreshold returns the long task classification threshold.
func (c Config) LongTaskThreshold() time.Duration {
	return time.Duration(c.LongTaskThresholdMS) * time.Millisecond
}

// FrameWindow returns the span of the frames per second estimate.
func (c Config) FrameWindow() time.Duration {
	return time.Duration(c.FrameWindowMS) * time.Millisecond
}

// StreamPushInterval returns the periodic websocket push interval.
func (c Config) StreamPushInterval() time.Duration {
	return time.Duration(c.StreamPushSeconds) * time.Second
}
