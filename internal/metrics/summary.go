package metrics

import (
	"math"
	"sort"
	"time"

	"slowmonitor/internal/models"
)

// KindSummary aggregates latency statistics for one event kind.
type KindSummary struct {
	Kind         models.EventKind `json:"kind"`
	Count        int              `json:"count"`
	P50MS        float64          `json:"p50_ms"`
	P95MS        float64          `json:"p95_ms"`
	MaxMS        float64          `json:"max_ms"`
	LastObserved string           `json:"last_observed,omitempty"`
}

// Summary condenses the visible timeline.
type Summary struct {
	Total  int           `json:"total"`
	Kinds  []KindSummary `json:"kinds"`
	MinFPS *int          `json:"min_fps,omitempty"`
}

// ComputeSummary aggregates latency statistics per event kind.
func ComputeSummary(events []models.SlowdownEvent) Summary {
	type acc struct {
		latencies []time.Duration
		lastEnd   time.Time
	}
	state := make(map[models.EventKind]*acc)
	var minFPS *int
	for _, e := range events {
		target := state[e.Kind]
		if target == nil {
			target = &acc{}
			state[e.Kind] = target
		}
		target.latencies = append(target.latencies, e.Latency())
		if e.EndAt.After(target.lastEnd) {
			target.lastEnd = e.EndAt
		}
		if e.LongRender != nil && (minFPS == nil || e.LongRender.FPS < *minFPS) {
			fps := e.LongRender.FPS
			minFPS = &fps
		}
	}

	summary := Summary{Total: len(events), MinFPS: minFPS, Kinds: []KindSummary{}}
	if len(state) == 0 {
		return summary
	}

	kinds := make([]models.EventKind, 0, len(state))
	for k := range state {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, kind := range kinds {
		data := state[kind]
		sort.Slice(data.latencies, func(i, j int) bool { return data.latencies[i] < data.latencies[j] })
		result := KindSummary{
			Kind:  kind,
			Count: len(data.latencies),
			P50MS: millis(percentile(data.latencies, 50)),
			P95MS: millis(percentile(data.latencies, 95)),
			MaxMS: millis(data.latencies[len(data.latencies)-1]),
		}
		if !data.lastEnd.IsZero() {
			result.LastObserved = data.lastEnd.UTC().Format(time.RFC3339Nano)
		}
		summary.Kinds = append(summary.Kinds, result)
	}
	return summary
}

// percentile uses the nearest rank method on sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return round2(float64(d) / float64(time.Millisecond))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
