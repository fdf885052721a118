// Package history reduces the visible slowness timeline into compact buckets
// for display.
package history

import (
	"sort"
	"time"

	"slowmonitor/internal/events"
	"slowmonitor/internal/models"
)

const (
	// DefaultTimelinePoints controls how many dots we generate per timeline.
	DefaultTimelinePoints = 80
	maxDetailsPerPoint    = 4
)

// BuildTimeline buckets events into points covering [start, end]. An event
// lands in every bucket its interval touches.
func BuildTimeline(evs []models.SlowdownEvent, start, end time.Time, points int) []models.TimelinePoint {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}

	samples := make([]models.SlowdownEvent, len(evs))
	copy(samples, evs)
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].StartAt.Before(samples[j].StartAt)
	})

	bucketDuration := end.Sub(start) / time.Duration(points)
	if bucketDuration <= 0 {
		bucketDuration = time.Millisecond
	}

	output := make([]models.TimelinePoint, 0, points)
	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}
		bucket := models.Interval{StartAt: bucketStart, EndAt: bucketEnd}
		class, label, details := evaluateBucket(collectBucketEvents(samples, bucket))
		output = append(output, models.TimelinePoint{
			ClassName: class,
			Label:     label,
			Start:     bucketStart,
			End:       bucketEnd,
			Details:   details,
		})
	}
	return output
}

// collectBucketEvents relies on samples being sorted by start.
func collectBucketEvents(samples []models.SlowdownEvent, bucket models.Interval) []models.SlowdownEvent {
	var chunk []models.SlowdownEvent
	for _, e := range samples {
		if e.StartAt.After(bucket.EndAt) {
			break
		}
		if events.Overlaps(e.Interval, bucket) {
			chunk = append(chunk, e)
		}
	}
	return chunk
}

func evaluateBucket(entries []models.SlowdownEvent) (className, label string, details []models.TimelineDetail) {
	if len(entries) == 0 {
		return "state-idle", "Responsive", nil
	}
	var hasInteraction bool
	details = make([]models.TimelineDetail, 0, maxDetailsPerPoint)
	for _, e := range entries {
		if e.Kind == models.KindInteraction {
			hasInteraction = true
		}
		details = appendDetail(details, e)
	}
	if hasInteraction {
		return "state-interaction", "Slow interaction", details
	}
	return "state-long-render", "Long render", details
}

func appendDetail(details []models.TimelineDetail, e models.SlowdownEvent) []models.TimelineDetail {
	if len(details) >= maxDetailsPerPoint {
		return details
	}
	return append(details, models.TimelineDetail{
		EventID:   e.ID,
		Kind:      e.Kind,
		Timestamp: e.StartAt,
		LatencyMS: float64(e.Latency()) / float64(time.Millisecond),
	})
}
