package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"slowmonitor/internal/models"
)

const namespace = "slowmonitor"

// Recorder exports the telemetry core's activity as Prometheus metrics. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	eventsTotal     *prometheus.CounterVec
	eventLatency    *prometheus.HistogramVec
	correlatedTotal prometheus.Counter
	suppressedTotal prometheus.Counter
	desyncTotal     prometheus.Counter
	fps             prometheus.Gauge
	visibleEvents   prometheus.Gauge
}

// NewRecorder registers the metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Slowdown events accepted by the correlation store.",
		}, []string{"kind"}),
		eventLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_latency_seconds",
			Help:      "Latency of accepted slowdown events.",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 2, 5},
		}, []string{"kind"}),
		correlatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlated_total",
			Help:      "Long render events hidden because an interaction overlapped them.",
		}),
		suppressedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suppressed_cycles_total",
			Help:      "Long sampler cycles dropped because the page was hidden.",
		}),
		desyncTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "desync_recoveries_total",
			Help:      "Times stale platform entries were discarded from the recording channel.",
		}),
		fps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fps",
			Help:      "Frames observed during the last second.",
		}),
		visibleEvents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visible_events",
			Help:      "Events currently visible in the timeline.",
		}),
	}
}

// EventAdded records an accepted event.
func (r *Recorder) EventAdded(e models.SlowdownEvent) {
	if r == nil {
		return
	}
	kind := string(e.Kind)
	r.eventsTotal.WithLabelValues(kind).Inc()
	r.eventLatency.WithLabelValues(kind).Observe(e.Latency().Seconds())
}

// Correlated records n long renders hidden by an interaction.
func (r *Recorder) Correlated(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.correlatedTotal.Add(float64(n))
}

// Visible records the size of the visible set.
func (r *Recorder) Visible(n int) {
	if r == nil {
		return
	}
	r.visibleEvents.Set(float64(n))
}

// CycleSuppressed records a dirty sampler cycle that would have emitted.
func (r *Recorder) CycleSuppressed() {
	if r == nil {
		return
	}
	r.suppressedTotal.Inc()
}

// DesyncRecovered records a reset of the recording channel.
func (r *Recorder) DesyncRecovered() {
	if r == nil {
		return
	}
	r.desyncTotal.Inc()
}

// FrameRate records the current frames per second estimate.
func (r *Recorder) FrameRate(fps int) {
	if r == nil {
		return
	}
	r.fps.Set(float64(fps))
}
