// Package metrics exports Prometheus instrumentation for the decision pipeline
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements decision-pipeline instrumentation with a
// zero-allocation hot path for the counters read by Snapshot.
type PrometheusMetrics struct {
	decisionsAllow atomic.Uint64
	decisionsDeny  atomic.Uint64
	cacheHits      atomic.Uint64
	cacheMisses    atomic.Uint64

	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	policiesSkipped  prometheus.Counter
	activeRequests   prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a metrics instance backed by a private registry
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions by reason",
		},
		[]string{"reason"},
	)

	// Decision latency: 1µs to 10ms (sub-millisecond expected)
	decisionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_microseconds",
			Help:      "Authorization decision latency in microseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)

	cacheHitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits by namespace",
		},
		[]string{"kind"},
	)

	cacheMissesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses by namespace",
		},
		[]string{"kind"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of decision pipeline errors by type",
		},
		[]string{"type"},
	)

	policiesSkipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policies_skipped_total",
			Help:      "Total number of policies skipped due to malformed conditions",
		},
	)

	activeRequests := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight decision requests",
		},
	)

	registry.MustRegister(
		decisionsTotal,
		decisionDuration,
		cacheHitsTotal,
		cacheMissesTotal,
		errorsTotal,
		policiesSkipped,
		activeRequests,
	)

	return &PrometheusMetrics{
		decisionsTotal:   decisionsTotal,
		decisionDuration: decisionDuration,
		cacheHitsTotal:   cacheHitsTotal,
		cacheMissesTotal: cacheMissesTotal,
		errorsTotal:      errorsTotal,
		policiesSkipped:  policiesSkipped,
		activeRequests:   activeRequests,
		registry:         registry,
	}
}

// RecordDecision records a completed decision (zero-allocation counters first)
func (p *PrometheusMetrics) RecordDecision(allowed bool, reason string, duration time.Duration) {
	if allowed {
		p.decisionsAllow.Add(1)
	} else {
		p.decisionsDeny.Add(1)
	}

	p.decisionsTotal.WithLabelValues(reason).Inc()
	p.decisionDuration.Observe(float64(duration.Microseconds()))
}

// RecordCacheHit records a cache hit for the given namespace kind
func (p *PrometheusMetrics) RecordCacheHit(kind string) {
	p.cacheHits.Add(1)
	p.cacheHitsTotal.WithLabelValues(kind).Inc()
}

// RecordCacheMiss records a cache miss for the given namespace kind
func (p *PrometheusMetrics) RecordCacheMiss(kind string) {
	p.cacheMisses.Add(1)
	p.cacheMissesTotal.WithLabelValues(kind).Inc()
}

// RecordError records a decision pipeline error
func (p *PrometheusMetrics) RecordError(errorType string) {
	p.errorsTotal.WithLabelValues(errorType).Inc()
}

// RecordPolicySkipped records a policy skipped for a malformed condition
func (p *PrometheusMetrics) RecordPolicySkipped() {
	p.policiesSkipped.Inc()
}

// IncActiveRequests increments the in-flight request gauge
func (p *PrometheusMetrics) IncActiveRequests() {
	p.activeRequests.Inc()
}

// DecActiveRequests decrements the in-flight request gauge
func (p *PrometheusMetrics) DecActiveRequests() {
	p.activeRequests.Dec()
}

// Snapshot holds point-in-time counter values for the stats endpoint
type Snapshot struct {
	DecisionsAllow uint64 `json:"decisions_allow"`
	DecisionsDeny  uint64 `json:"decisions_deny"`
	CacheHits      uint64 `json:"cache_hits"`
	CacheMisses    uint64 `json:"cache_misses"`
}

// Snapshot returns the current fast-path counter values
func (p *PrometheusMetrics) Snapshot() Snapshot {
	return Snapshot{
		DecisionsAllow: p.decisionsAllow.Load(),
		DecisionsDeny:  p.decisionsDeny.Load(),
		CacheHits:      p.cacheHits.Load(),
		CacheMisses:    p.cacheMisses.Load(),
	}
}

// HTTPHandler returns the Prometheus handler for the /metrics endpoint
func (p *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
