// Package metrics exposes Prometheus instrumentation for the scanner, the
// subscriber layer and persistence. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livereload"

// Metrics holds every collector, registered on a private registry.
type Metrics struct {
	ScanDuration  prometheus.Histogram
	ScanPasses    prometheus.Counter
	WatchedFiles  *prometheus.GaugeVec
	Events        *prometheus.CounterVec
	Subscribers   prometheus.Gauge
	Dropped       prometheus.Counter
	SnapshotOps   *prometheus.CounterVec
	RateLimitHits prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of one scan pass over the watch-set",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .35, .5, 1, 2.5},
		}),
		ScanPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_passes_total",
			Help:      "Total number of completed scan passes",
		}),
		WatchedFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_files",
			Help:      "Number of files in the watch-set",
		}, []string{"category"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events emitted by the scanner",
		}, []string{"kind"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Currently connected stream subscribers",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_dropped_events_total",
			Help:      "Events discarded because the broadcast channel or a subscriber queue was full",
		}),
		SnapshotOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_operations_total",
			Help:      "Snapshot loads and saves by outcome",
		}, []string{"op", "result"}),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_rate_limit_hits_total",
			Help:      "Stream connections rejected by the per-client limiter",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.ScanDuration,
		m.ScanPasses,
		m.WatchedFiles,
		m.Events,
		m.Subscribers,
		m.Dropped,
		m.SnapshotOps,
		m.RateLimitHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveScan records one completed pass.
func (m *Metrics) ObserveScan(d time.Duration, counts map[string]int) {
	if m == nil {
		return
	}
	m.ScanDuration.Observe(d.Seconds())
	m.ScanPasses.Inc()
	for category, n := range counts {
		m.WatchedFiles.WithLabelValues(category).Set(float64(n))
	}
}

// IncEvent counts an emitted event.
func (m *Metrics) IncEvent(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

// SetSubscribers records the current subscriber count.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

// IncDropped counts an event discarded on queue overflow.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

// IncSnapshot counts a snapshot operation ("load" or "save") by outcome.
func (m *Metrics) IncSnapshot(op string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.SnapshotOps.WithLabelValues(op, result).Inc()
}

// IncRateLimitHit counts a rejected stream connection.
func (m *Metrics) IncRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHits.Inc()
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
