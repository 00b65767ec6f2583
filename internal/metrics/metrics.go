// Package metrics exposes Prometheus metrics for imports, fetches, the
// worker pool and the HTTP surface.
//
// A nil *Manager is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// Manager owns every collector.
type Manager struct {
	namespace       string
	durationBuckets []float64
	registry        *prometheus.Registry

	importsTotal   *prometheus.CounterVec
	importDuration *prometheus.HistogramVec
	lapsInserted   prometheus.Counter
	lapsSkipped    prometheus.Counter
	rowsRejected   *prometheus.CounterVec

	fetchesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchBytes    prometheus.Histogram

	jobsByState   *prometheus.GaugeVec
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	workersBusy   prometheus.Gauge
	queueRejected prometheus.Counter

	cacheLookups *prometheus.CounterVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates and registers all collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:       "laptiming",
		durationBuckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.importsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "import",
		Name:      "jobs_total",
		Help:      "Import jobs finished, by importer, report kind and outcome.",
	}, []string{"importer", "kind", "outcome"})

	m.importDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "import",
		Name:      "duration_seconds",
		Help:      "Time from job start to completion or failure.",
		Buckets:   m.durationBuckets,
	}, []string{"importer", "kind"})

	m.lapsInserted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "import",
		Name:      "laps_inserted_total",
		Help:      "Laps written by imports.",
	})

	m.lapsSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "import",
		Name:      "laps_skipped_total",
		Help:      "Timecard laps skipped because they already existed.",
	})

	m.rowsRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "import",
		Name:      "rows_rejected_total",
		Help:      "Report rows that could not be reconciled.",
	}, []string{"kind"})

	m.fetchesTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Report downloads by importer and outcome.",
	}, []string{"importer", "outcome"})

	m.fetchDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Report download time.",
		Buckets:   m.durationBuckets,
	}, []string{"importer"})

	m.fetchBytes = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "fetch",
		Name:      "body_bytes",
		Help:      "Size of downloaded reports.",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
	})

	m.jobsByState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "import",
		Name:      "jobs",
		Help:      "Import jobs currently stored, by state.",
	}, []string{"state"})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "workers",
		Name:      "queue_size",
		Help:      "Jobs waiting for a worker.",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "workers",
		Name:      "queue_capacity",
		Help:      "Maximum number of queued jobs.",
	})

	m.workersBusy = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "workers",
		Name:      "busy",
		Help:      "Workers currently running an import.",
	})

	m.queueRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "workers",
		Name:      "queue_rejected_total",
		Help:      "Submissions rejected because the queue was full.",
	})

	m.cacheLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "resolver",
		Name:      "cache_lookups_total",
		Help:      "Entity cache lookups by entity and result.",
	}, []string{"entity", "result"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration.",
		Buckets:   m.durationBuckets,
	}, []string{"route", "method"})
}

// Registry returns the registry the collectors are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format. A nil
// Manager serves 404.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ImportFinished records a job reaching a terminal state.
func (m *Manager) ImportFinished(importer timing.Importer, kind timing.ReportKind, state timing.JobState, d time.Duration) {
	if m == nil {
		return
	}
	m.importsTotal.WithLabelValues(string(importer), string(kind), string(state)).Inc()
	if d > 0 {
		m.importDuration.WithLabelValues(string(importer), string(kind)).Observe(d.Seconds())
	}
}

// RecordSummary adds an import's lap and rejection counts.
func (m *Manager) RecordSummary(kind timing.ReportKind, s timing.ImportSummary) {
	if m == nil {
		return
	}
	m.lapsInserted.Add(float64(s.LapsInserted))
	m.lapsSkipped.Add(float64(s.LapsSkipped))
	m.rowsRejected.WithLabelValues(string(kind)).Add(float64(s.Rejected))
}

// ObserveFetch implements fetch.Observer.
func (m *Manager) ObserveFetch(importer timing.Importer, outcome string, d time.Duration, size int) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(string(importer), outcome).Inc()
	m.fetchDuration.WithLabelValues(string(importer)).Observe(d.Seconds())
	if size > 0 {
		m.fetchBytes.Observe(float64(size))
	}
}

// SetJobsByState replaces the per-state job gauges.
func (m *Manager) SetJobsByState(counts map[timing.JobState]int) {
	if m == nil {
		return
	}
	for _, s := range timing.AllJobStates {
		m.jobsByState.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// SetQueue records the worker pool's queue occupancy.
func (m *Manager) SetQueue(queued, capacity, busy int) {
	if m == nil {
		return
	}
	m.queueSize.Set(float64(queued))
	m.queueCapacity.Set(float64(capacity))
	m.workersBusy.Set(float64(busy))
}

// QueueRejected counts a submission refused by a full queue.
func (m *Manager) QueueRejected() {
	if m == nil {
		return
	}
	m.queueRejected.Inc()
}

// CacheLookup records a resolver cache hit or miss.
func (m *Manager) CacheLookup(entity string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(entity, result).Inc()
}

// RecordHTTPRequest records one served request.
func (m *Manager) RecordHTTPRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
