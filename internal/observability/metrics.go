// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dex-trending/internal/storage"
)

// DefaultNamespace is used when NewMetrics is given an empty namespace.
const DefaultNamespace = "dex_trending"

// Metrics holds all Prometheus metrics for the application.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// Extraction metrics
	Extractions        *prometheus.CounterVec
	ExtractionDuration prometheus.Histogram
	RowsRejected       *prometheus.CounterVec
	FieldWarnings      *prometheus.CounterVec
	TokensServed       prometheus.Histogram

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance registered on its own registry,
// together with Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		namespace: namespace,

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Trending cache lookups by result (hit, miss)",
		}, []string{"result"}),

		Extractions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "runs_total",
			Help:      "Extraction runs by outcome (success, scrape_error, no_valid_rows)",
		}, []string{"outcome"}),
		ExtractionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "Duration of extraction runs including page render",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 15, 20, 30, 60},
		}),
		RowsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "rows_rejected_total",
			Help:      "Raw rows dropped during validation by reason",
		}, []string{"reason"}),
		FieldWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "field_warnings_total",
			Help:      "Fields that failed numeric normalization and defaulted to 0",
		}, []string{"field"}),
		TokensServed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "tokens_retained",
			Help:      "Tokens retained per successful extraction",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the registry metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterStoreStats exposes store counters as Prometheus counters.
func (m *Metrics) RegisterStoreStats(r storage.StatsReporter) {
	if m == nil || r == nil {
		return
	}

	counter := func(name, help string, value func(storage.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "store",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(r.Stats())) })
	}

	m.registry.MustRegister(
		counter("hits_total", "Store lookups that found a fresh entry",
			func(s storage.Stats) uint64 { return s.Hits }),
		counter("misses_total", "Store lookups that found no fresh entry",
			func(s storage.Stats) uint64 { return s.Misses }),
		counter("evictions_total", "Entries evicted for capacity",
			func(s storage.Stats) uint64 { return s.Evictions }),
		counter("expirations_total", "Entries dropped for age",
			func(s storage.Stats) uint64 { return s.Expirations }),
	)
}

// ObserveCacheLookup records a cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveExtraction records an extraction outcome and its duration in seconds.
func (m *Metrics) ObserveExtraction(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Extractions.WithLabelValues(outcome).Inc()
	m.ExtractionDuration.Observe(seconds)
}

// ObserveRejection records a dropped row.
func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.RowsRejected.WithLabelValues(reason).Inc()
}

// ObserveFieldWarning records a field that defaulted to 0.
func (m *Metrics) ObserveFieldWarning(field string) {
	if m == nil {
		return
	}
	m.FieldWarnings.WithLabelValues(field).Inc()
}

// ObserveTokens records the number of tokens retained by a successful extraction.
func (m *Metrics) ObserveTokens(n int) {
	if m == nil {
		return
	}
	m.TokensServed.Observe(float64(n))
}

// ObserveHTTP records a served HTTP request.
func (m *Metrics) ObserveHTTP(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(seconds)
}
