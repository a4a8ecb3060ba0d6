// Package metrics exposes prometheus instrumentation for the core
// subsystems: webhook ingestion, review processing, LLM calls, and sprint
// execution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors handed to components at startup.
type Metrics struct {
	WebhookEvents   *prometheus.CounterVec
	ReviewJobs      *prometheus.CounterVec
	LLMDuration     prometheus.Histogram
	SprintEvents    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	QueueDepthGauge prometheus.Gauge
}

// New registers and returns the collector set on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lineary_webhook_events_total",
			Help: "Inbound webhook events by result (enqueued, suppressed, ignored, rejected).",
		}, []string{"host", "result"}),
		ReviewJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lineary_review_jobs_total",
			Help: "Review jobs by terminal result (reviewed, unparseable, failed).",
		}, []string{"result"}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lineary_llm_request_seconds",
			Help:    "LLM completion latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		SprintEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lineary_sprint_events_total",
			Help: "Sprint executor transitions (start, complete, finish, pause, resume, rejected).",
		}, []string{"event"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lineary_http_request_seconds",
			Help:    "HTTP handler latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		QueueDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lineary_review_queue_depth",
			Help: "Unconsumed review jobs.",
		}),
	}

	reg.MustRegister(
		m.WebhookEvents,
		m.ReviewJobs,
		m.LLMDuration,
		m.SprintEvents,
		m.HTTPDuration,
		m.QueueDepthGauge,
	)
	return m
}

// NewUnregistered returns a collector set bound to a private registry.
// Handy in tests that do not inspect metric values.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
