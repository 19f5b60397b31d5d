package clamav

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OutcomeFailed labels scans that ended without a daemon reply.
const OutcomeFailed = "failed"

// Metrics holds the Prometheus collectors for scans.
type Metrics struct {
	Scans            *prometheus.CounterVec
	BytesSent        prometheus.Counter
	TransmitDuration prometheus.Histogram
}

// NewMetrics creates the scan collectors and registers them with reg.
// A nil reg registers nothing, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Scans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clamav",
			Name:      "scans_total",
			Help:      "Uploaded files scanned, by outcome.",
		}, []string{"outcome"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clamav",
			Name:      "stream_bytes_sent_total",
			Help:      "Payload bytes streamed to clamd.",
		}),
		TransmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clamav",
			Name:      "transmit_duration_seconds",
			Help:      "Time from connect to clamd reply.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

func (m *Metrics) observeTransmit(bytes int64, d time.Duration) {
	m.BytesSent.Add(float64(bytes))
	m.TransmitDuration.Observe(d.Seconds())
}

func (m *Metrics) observeOutcome(label string) {
	m.Scans.WithLabelValues(label).Inc()
}
