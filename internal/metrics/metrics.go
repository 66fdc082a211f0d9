// Package metrics exposes ingestion counters on a private Prometheus
// registry. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calingest"

// Recorder holds the ingestion metrics.
type Recorder struct {
	registry *prometheus.Registry

	ingests   *prometheus.CounterVec
	events    *prometheus.CounterVec
	warnings  *prometheus.CounterVec
	skipped   prometheus.Counter
	truncated prometheus.Counter
	duration  *prometheus.HistogramVec
	swept     *prometheus.CounterVec
}

// New creates a Recorder with Go runtime and process collectors attached.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Ingest calls by source and outcome (ok, warning).",
		}, []string{"source", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Occurrences written by ingest calls.",
		}, []string{"source"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Warnings reported by ingest calls.",
		}, []string{"source"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_skipped_total",
			Help:      "Feed events dropped as malformed.",
		}),
		truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_truncated_total",
			Help:      "Recurring series that hit the expansion cap.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of ingest calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_total",
			Help:      "Rows and snapshot blobs removed by the retention sweep.",
		}, []string{"kind"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ingests, r.events, r.warnings, r.skipped, r.truncated, r.duration, r.swept,
	)
	return r
}

// IngestSample is one ingest call as seen by the recorder.
type IngestSample struct {
	Source    string
	Ingested  int
	Warnings  int
	Skipped   int
	Truncated int
	Elapsed   time.Duration
}

// ObserveIngest records an ingest call.
func (r *Recorder) ObserveIngest(s IngestSample) {
	if r == nil {
		return
	}
	outcome := "ok"
	if s.Warnings > 0 {
		outcome = "warning"
	}
	r.ingests.WithLabelValues(s.Source, outcome).Inc()
	r.events.WithLabelValues(s.Source).Add(float64(s.Ingested))
	r.warnings.WithLabelValues(s.Source).Add(float64(s.Warnings))
	r.skipped.Add(float64(s.Skipped))
	r.truncated.Add(float64(s.Truncated))
	r.duration.WithLabelValues(s.Source).Observe(s.Elapsed.Seconds())
}

// ObserveSweep records removed past rows, future rows and snapshot blobs.
func (r *Recorder) ObserveSweep(past, future int64, snapshots int) {
	if r == nil {
		return
	}
	r.swept.WithLabelValues("past").Add(float64(past))
	r.swept.WithLabelValues("future").Add(float64(future))
	r.swept.WithLabelValues("snapshot").Add(float64(snapshots))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
