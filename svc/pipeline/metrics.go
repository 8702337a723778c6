package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels one settled delivery attempt.
type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeRetried   Outcome = "retried"
	OutcomeDead      Outcome = "dead_lettered"
	OutcomeSkipped   Outcome = "skipped"
)

// Metrics collects delivery attempt counters and latencies.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates and registers the pipeline metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postpipe",
			Name:      "publish_attempts_total",
			Help:      "Settled delivery attempts by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "postpipe",
			Name:      "publish_duration_seconds",
			Help:      "Wall time of one delivery attempt, claim to settle.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// NopMetrics creates an unregistered collector that discards everything.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveAttempt records one settled attempt.
func (m *Metrics) ObserveAttempt(outcome Outcome, elapsed time.Duration) {
	m.attempts.WithLabelValues(string(outcome)).Inc()
	m.duration.Observe(elapsed.Seconds())
}
