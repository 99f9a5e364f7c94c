package finder

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for volume lookups.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	BooksFoundTotal  prometheus.Counter
	RetriesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
}

// NewMetrics constructs all collectors and registers them on registry. A nil
// registry gets a dedicated one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfinder_upstream_requests_total",
			Help: "Total volume lookups issued to the upstream catalogue.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookfinder_upstream_request_duration_seconds",
			Help:    "Latency of upstream volume lookups.",
			Buckets: prometheus.DefBuckets,
		},
	)
	booksFound := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookfinder_books_found_total",
			Help: "Total number of book records returned by upstream lookups.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookfinder_upstream_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfinder_upstream_errors_total",
			Help: "Total number of upstream errors by type.",
		},
		[]string{"error_type"},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookfinder_cache_hits_total",
			Help: "Lookups answered from the result cache.",
		},
	)
	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookfinder_cache_misses_total",
			Help: "Lookups that required an upstream request.",
		},
	)

	registry.MustRegister(requests, requestDuration, booksFound, retries, errorsTotal, cacheHits, cacheMisses)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		BooksFoundTotal:  booksFound,
		RetriesTotal:     retries,
		ErrorsTotal:      errorsTotal,
		CacheHitsTotal:   cacheHits,
		CacheMissesTotal: cacheMisses,
	}
}

// IncRequest increments the requests counter for an outcome label.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an upstream request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddBooks adds n to the books found counter.
func (m *Metrics) AddBooks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BooksFoundTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCache records a cache hit or miss.
func (m *Metrics) IncCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}
