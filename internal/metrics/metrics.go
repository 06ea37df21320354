// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "media_ingest"

// Upload outcomes.
const (
	OutcomeDone         = "done"
	OutcomeUnauthorized = "unauthorized"
	OutcomeInvalid      = "invalid"
	OutcomeFailed       = "failed"
)

// Metrics holds the pipeline collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	uploads           *prometheus.CounterVec
	transformFailures *prometheus.CounterVec
	reduction         *prometheus.HistogramVec
	duration          *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload requests by terminal outcome.",
		}, []string{"outcome"}),
		transformFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_failures_total",
			Help:      "Transcode or compaction failures that fell back to the original file.",
		}, []string{"kind"}),
		reduction: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "size_reduction_percent",
			Help:      "Size reduction achieved by a transform step.",
			Buckets:   []float64{0, 10, 25, 40, 50, 60, 75, 90},
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.uploads,
		m.transformFailures,
		m.reduction,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Upload counts a finished request. m may be nil.
func (m *Metrics) Upload(outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

// TransformFailed counts a transform that fell back to the original.
func (m *Metrics) TransformFailed(kind string) {
	if m == nil {
		return
	}
	m.transformFailures.WithLabelValues(kind).Inc()
}

// Reduction records the percent saved by a transform of kind.
func (m *Metrics) Reduction(kind string, pct float64) {
	if m == nil {
		return
	}
	m.reduction.WithLabelValues(kind).Observe(pct)
}

// Stage records how long a stage took since start.
func (m *Metrics) Stage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
