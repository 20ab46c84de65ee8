// Package telemetry exports the Prometheus metrics of the triage service.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zeroledger"

// Metrics holds all service metrics. A nil *Metrics is valid and records
// nothing, which keeps component constructors usable without telemetry.
type Metrics struct {
	registry *prometheus.Registry

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// External service metrics
	ExternalCalls    *prometheus.CounterVec
	ExternalDuration *prometheus.HistogramVec
	Retries          *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec

	// Triage outcome metrics
	Classifications *prometheus.CounterVec
	Resolutions     *prometheus.CounterVec

	// Aggregation metrics
	SnapshotBuildDuration *prometheus.HistogramVec
	SnapshotRecords       prometheus.Gauge
	Inconsistencies       prometheus.Counter
	IngestedRecords       prometheus.Counter
	RejectedRecords       prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// New registers every metric on reg. Passing nil creates a fresh registry
// with the Go and process collectors attached.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{registry: reg}
	f := promauto.With(reg)
	initCacheMetrics(f, m)
	initExternalMetrics(f, m)
	initOutcomeMetrics(f, m)
	initAggregationMetrics(f, m)

	m.HTTPRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})

	return m
}

func initCacheMetrics(f promauto.Factory, m *Metrics) {
	m.CacheLookups = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by entry kind and result (hit, miss, shared)",
	}, []string{"kind", "result"})
}

func initExternalMetrics(f promauto.Factory, m *Metrics) {
	m.ExternalCalls = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "external_calls_total",
		Help:      "Calls to the classifier and generation services by outcome",
	}, []string{"service", "outcome"})

	m.ExternalDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "external_call_duration_seconds",
		Help:      "Latency of a single external call attempt",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"service"})

	m.Retries = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Retried external call attempts",
	}, []string{"service"})

	m.BreakerState = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"breaker"})
}

func initOutcomeMetrics(f promauto.Factory, m *Metrics) {
	m.Classifications = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classifications_total",
		Help:      "Classification results by decision",
	}, []string{"decision"})

	m.Resolutions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolutions_total",
		Help:      "Resolution records by status",
	}, []string{"status"})
}

func initAggregationMetrics(f promauto.Factory, m *Metrics) {
	m.SnapshotBuildDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "snapshot_build_duration_seconds",
		Help:      "Time to build an aggregate snapshot",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
	}, []string{"mode"})

	m.SnapshotRecords = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_records",
		Help:      "Records covered by the current snapshot",
	})

	m.Inconsistencies = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "aggregation_inconsistencies_total",
		Help:      "Reconcile runs where the incremental snapshot diverged from a recompute",
	})

	m.IngestedRecords = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_records_total",
		Help:      "Complaint records accepted by the normalizer",
	})

	m.RejectedRecords = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_records_total",
		Help:      "Complaint records rejected by the normalizer",
	})
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCacheLookup counts a cache lookup. result is "hit", "miss" or "shared".
func (m *Metrics) RecordCacheLookup(kind, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(kind, result).Inc()
}

// RecordExternalCall counts one external call attempt and its latency.
func (m *Metrics) RecordExternalCall(service, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExternalCalls.WithLabelValues(service, outcome).Inc()
	m.ExternalDuration.WithLabelValues(service).Observe(d.Seconds())
}

// RecordRetry counts a retried attempt.
func (m *Metrics) RecordRetry(service string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(service).Inc()
}

// SetBreakerState publishes a breaker state as its numeric value.
func (m *Metrics) SetBreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordClassification counts a classification decision.
func (m *Metrics) RecordClassification(decision string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(decision).Inc()
}

// RecordResolution counts a resolution status.
func (m *Metrics) RecordResolution(status string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(status).Inc()
}

// RecordSnapshotBuild observes a snapshot build. mode is "full" or "increment".
func (m *Metrics) RecordSnapshotBuild(mode string, d time.Duration, records int) {
	if m == nil {
		return
	}
	m.SnapshotBuildDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.SnapshotRecords.Set(float64(records))
}

// RecordInconsistency counts a reconcile divergence.
func (m *Metrics) RecordInconsistency() {
	if m == nil {
		return
	}
	m.Inconsistencies.Inc()
}

// RecordIngest counts normalizer outcomes for a batch.
func (m *Metrics) RecordIngest(accepted, rejected int) {
	if m == nil {
		return
	}
	m.IngestedRecords.Add(float64(accepted))
	m.RejectedRecords.Add(float64(rejected))
}

// RecordHTTPRequest counts a served request.
func (m *Metrics) RecordHTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}
