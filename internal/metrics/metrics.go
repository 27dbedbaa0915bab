// Package metrics defines the Prometheus series exported by this module.
// It sits below jobworker, jobmanager, and httpapi so that job telemetry
// and API telemetry can share one registration point without an import
// cycle: the job-processing packages record against a *Metrics passed in
// at construction, and httpapi mounts its /metrics handler over the same
// instance.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	global     *Metrics
	globalOnce sync.Once
)

// Metrics holds every Prometheus series this module exports.
type Metrics struct {
	JobsSubmitted     *prometheus.CounterVec
	JobsActive        prometheus.Gauge
	JobDuration       *prometheus.HistogramVec
	CrossingEvents    *prometheus.CounterVec
	DetectorErrors    prometheus.Counter
	StoreErrors       prometheus.Counter
	StreamSubscribers prometheus.Gauge
	APIRequests       *prometheus.CounterVec
	APILatency        *prometheus.HistogramVec
}

// New creates and registers all metrics (singleton, avoids double
// registration if called more than once in a process).
func New() *Metrics {
	globalOnce.Do(func() {
		global = newMetrics()
	})
	return global
}

func newMetrics() *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentry",
				Subsystem: "jobs",
				Name:      "submitted_total",
				Help:      "Total jobs submitted by kind",
			},
			[]string{"kind"},
		),
		JobsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sentry",
				Subsystem: "jobs",
				Name:      "active",
				Help:      "Number of non-terminal jobs currently registered",
			},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentry",
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Job wall-clock duration from start to terminal phase",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"kind", "final_phase"},
		),
		CrossingEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentry",
				Subsystem: "counter",
				Name:      "crossing_events_total",
				Help:      "Total line-crossing events recorded by direction",
			},
			[]string{"camera_id", "direction"},
		),
		DetectorErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sentry",
				Subsystem: "detector",
				Name:      "errors_total",
				Help:      "Total frames whose detector call and single retry both failed",
			},
		),
		StoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sentry",
				Subsystem: "eventstore",
				Name:      "errors_total",
				Help:      "Total persistence failures that fell back to the journal",
			},
		),
		StreamSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sentry",
				Subsystem: "mjpeg",
				Name:      "subscribers",
				Help:      "Currently connected MJPEG stream subscribers",
			},
		),
		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentry",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total REST requests by route and HTTP status text",
			},
			[]string{"route", "status"},
		),
		APILatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentry",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "REST request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	prometheus.MustRegister(
		m.JobsSubmitted, m.JobsActive, m.JobDuration, m.CrossingEvents,
		m.DetectorErrors, m.StoreErrors, m.StreamSubscribers,
		m.APIRequests, m.APILatency,
	)
	return m
}

// Handler returns the promhttp handler for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
