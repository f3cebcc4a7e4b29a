// Package metrics exposes Prometheus instrumentation for the debug
// adapter: DAP request rates and latency, break/resume activity,
// stepping, breakpoint hits, and Go runtime health.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics collectors.
type Metrics struct {
	// DAP request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec

	// Bridge activity metrics
	breakEpisodes    *prometheus.CounterVec
	breakpointHits   prometheus.Counter
	steps            *prometheus.CounterVec
	evaluateDuration prometheus.Histogram
	activeSessions   prometheus.Gauge
	liveThreads      prometheus.Gauge

	// Resource usage metrics
	goroutines  prometheus.Gauge
	memoryAlloc prometheus.Gauge
	numGC       prometheus.Gauge

	registry *prometheus.Registry
}

// Config holds configuration for metrics.
type Config struct {
	Namespace string
	// Custom histogram buckets for request duration (in seconds)
	DurationBuckets []float64
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:       "luaud",
		DurationBuckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(config Config) *Metrics {
	if config.Namespace == "" {
		config = DefaultConfig()
	}
	if len(config.DurationBuckets) == 0 {
		config.DurationBuckets = DefaultConfig().DurationBuckets
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "dap",
			Name:      "requests_total",
			Help:      "Total number of DAP requests",
		},
		[]string{"command", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "dap",
			Name:      "request_duration_seconds",
			Help:      "DAP request latency in seconds",
			Buckets:   config.DurationBuckets,
		},
		[]string{"command"},
	)

	m.requestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "dap",
			Name:      "request_errors_total",
			Help:      "Total number of DAP error responses",
		},
		[]string{"command", "kind"},
	)

	m.breakEpisodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "bridge",
			Name:      "break_episodes_total",
			Help:      "Total number of Break episodes by stop reason",
		},
		[]string{"reason"},
	)

	m.breakpointHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "bridge",
			Name:      "breakpoint_hits_total",
			Help:      "Total number of breakpoint hits, including conditional misses",
		},
	)

	m.steps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "bridge",
			Name:      "steps_total",
			Help:      "Total number of stepping commands by kind",
		},
		[]string{"kind"},
	)

	m.evaluateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "bridge",
			Name:      "evaluate_duration_seconds",
			Help:      "Expression evaluation latency in seconds",
			Buckets:   config.DurationBuckets,
		},
	)

	m.activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: "dap",
			Name:      "active_sessions",
			Help:      "Number of currently connected DAP clients",
		},
	)

	m.liveThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: "bridge",
			Name:      "live_threads",
			Help:      "Number of live script threads (main plus coroutines)",
		},
	)

	m.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: "runtime",
			Name:      "goroutines",
			Help:      "Number of goroutines currently running",
		},
	)

	m.memoryAlloc = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: "runtime",
			Name:      "memory_alloc_bytes",
			Help:      "Number of bytes allocated and still in use",
		},
	)

	m.numGC = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: "runtime",
			Name:      "gc_runs_total",
			Help:      "Total number of GC runs",
		},
	)

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.requestErrors,
		m.breakEpisodes,
		m.breakpointHits,
		m.steps,
		m.evaluateDuration,
		m.activeSessions,
		m.liveThreads,
		m.goroutines,
		m.memoryAlloc,
		m.numGC,
	)

	go m.collectRuntimeMetrics()

	return m
}

// collectRuntimeMetrics periodically collects runtime metrics.
func (m *Metrics) collectRuntimeMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.UpdateRuntimeMetrics()
	}
}

// UpdateRuntimeMetrics updates runtime metrics (goroutines, memory, GC).
func (m *Metrics) UpdateRuntimeMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAlloc.Set(float64(memStats.Alloc))
	m.numGC.Set(float64(memStats.NumGC))
}

// RecordRequest records one handled DAP request.
func (m *Metrics) RecordRequest(command string, success bool, duration time.Duration) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.requestsTotal.WithLabelValues(command, status).Inc()
	m.requestDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordRequestError records one DAP error response by error kind.
func (m *Metrics) RecordRequestError(command, kind string) {
	m.requestErrors.WithLabelValues(command, kind).Inc()
}

// RecordBreak records the start of one Break episode.
func (m *Metrics) RecordBreak(reason string) {
	m.breakEpisodes.WithLabelValues(reason).Inc()
}

// RecordBreakpointHit counts one breakpoint hit.
func (m *Metrics) RecordBreakpointHit() {
	m.breakpointHits.Inc()
}

// RecordStep counts one stepping command ("in", "out" or "over").
func (m *Metrics) RecordStep(kind string) {
	m.steps.WithLabelValues(kind).Inc()
}

// ObserveEvaluate records the latency of one evaluate request.
func (m *Metrics) ObserveEvaluate(duration time.Duration) {
	m.evaluateDuration.Observe(duration.Seconds())
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }

// SetLiveThreads records the current live script thread count.
func (m *Metrics) SetLiveThreads(n int) { m.liveThreads.Set(float64(n)) }

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// GetRegistry returns the Prometheus registry.
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}
