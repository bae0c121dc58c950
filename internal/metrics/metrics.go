package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "media_receiver"

// Event outcomes.
const (
	OutcomeForwarded     = "forwarded"
	OutcomeSkippedEmpty  = "skipped_empty"
	OutcomeSkippedJSON   = "skipped_invalid_json"
	OutcomeSkippedFormat = "skipped_unknown"
	OutcomeFailed        = "failed"
)

// Media results.
const (
	MediaStored    = "stored"
	MediaDegraded  = "degraded"
	MediaUnchanged = "unchanged"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	events        *prometheus.CounterVec
	media         *prometheus.CounterVec
	credentials   *prometheus.CounterVec
	mediaDuration *prometheus.HistogramVec
	eventDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events by detected provider and outcome",
		}, []string{"provider", "outcome"}),
		media: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_total",
			Help:      "Media nodes seen by provider and resolution result",
		}, []string{"provider", "result"}),
		credentials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_total",
			Help:      "Credential broker invocations by result",
		}, []string{"result"}),
		mediaDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "media_duration_seconds",
			Help:      "Duration of media fetch+store",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"result"}),
		eventDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Duration of per-event processing",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) Event(provider, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Media(provider, result string) {
	if m == nil {
		return
	}
	m.media.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Credential(result string) {
	if m == nil {
		return
	}
	m.credentials.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveMedia(result string, since time.Time) {
	if m == nil {
		return
	}
	m.mediaDuration.WithLabelValues(result).Observe(time.Since(since).Seconds())
}

func (m *Metrics) ObserveEvent(since time.Time) {
	if m == nil {
		return
	}
	m.eventDuration.Observe(time.Since(since).Seconds())
}
