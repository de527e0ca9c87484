// Package observability holds the Prometheus instruments and OpenTelemetry
// spans emitted by relayhub. All Metrics methods are safe on a nil receiver.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the metric instruments for a Hub.
type Metrics struct {
	EventsIngested  *prometheus.CounterVec
	IngestRejected  *prometheus.CounterVec
	DeliveriesTotal *prometheus.CounterVec
	DeliveryLatency prometheus.Histogram
	ReplaySkipped   *prometheus.CounterVec
	DLQSize         prometheus.Gauge
	RateLimited     prometheus.Counter
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayhub_events_ingested_total",
			Help: "Webhooks accepted and stored, by source and signature state.",
		}, []string{"source", "signature"}),
		IngestRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayhub_ingest_rejected_total",
			Help: "Webhooks rejected before storage, by reason.",
		}, []string{"reason"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayhub_deliveries_total",
			Help: "Forward attempts by outcome.",
		}, []string{"status"}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relayhub_delivery_latency_seconds",
			Help:    "Forward attempt latency.",
			Buckets: prometheus.DefBuckets,
		}),
		ReplaySkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayhub_replay_skipped_total",
			Help: "Replays short-circuited by the replay guard, by window.",
		}, []string{"window"}),
		DLQSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayhub_dlq_size",
			Help: "Live dead-letter entries as of the last listing or sweep.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayhub_rate_limited_total",
			Help: "Webhook requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		m.EventsIngested,
		m.IngestRejected,
		m.DeliveriesTotal,
		m.DeliveryLatency,
		m.ReplaySkipped,
		m.DLQSize,
		m.RateLimited,
	)
	return m
}

// RecordIngest counts a stored webhook. signature is "valid" or "skipped".
func (m *Metrics) RecordIngest(source, signature string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(source, signature).Inc()
}

// RecordReject counts a webhook rejected before storage.
func (m *Metrics) RecordReject(reason string) {
	if m == nil {
		return
	}
	m.IngestRejected.WithLabelValues(reason).Inc()
}

// RecordDelivery records a forward attempt with the given status and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordReplaySkip counts a replay stopped by the named guard window.
func (m *Metrics) RecordReplaySkip(window string) {
	if m == nil {
		return
	}
	m.ReplaySkipped.WithLabelValues(window).Inc()
}

// SetDLQSize publishes the current dead-letter count.
func (m *Metrics) SetDLQSize(n int64) {
	if m == nil {
		return
	}
	m.DLQSize.Set(float64(n))
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
