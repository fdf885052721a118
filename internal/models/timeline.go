package models

import "time"

// TimelinePoint represents a single compact bucket of the slowness timeline.
type TimelinePoint struct {
	ClassName string           `json:"className"`
	Label     string           `json:"label"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	Details   []TimelineDetail `json:"details,omitempty"`
}

// TimelineDetail carries extra information for slow buckets.
type TimelineDetail struct {
	EventID   string    `json:"event_id"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMS float64   `json:"latency_ms"`
}
