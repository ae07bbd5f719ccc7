// Package metrics exposes Prometheus collectors for the ingestion pipeline
// and the read API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineItemsTotal         *prometheus.CounterVec
	pipelineActiveItems        prometheus.Gauge
	pipelineStageDuration      *prometheus.HistogramVec
	pipelineBatchesTotal       *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	robotsFallbackTotal        prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pipelineItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_pipeline_items_total",
				Help: "Pipeline stage transitions, labeled by action and result.",
			},
			[]string{"action", "result"},
		)

		pipelineActiveItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nexus_pipeline_active_items",
				Help: "Number of items currently between fetch start and write end.",
			},
		)

		pipelineStageDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_pipeline_stage_duration_seconds",
				Help:    "Latency of external pipeline calls, labeled by stage.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 15, 30, 60, 120},
			},
			[]string{"stage"},
		)

		pipelineBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_pipeline_batches_total",
				Help: "Completed batches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"limiter"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nexus_robots_fallback_total",
				Help: "robots.txt probes that timed out and were treated as allow-all.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem counts one pipeline stage transition.
func ObserveItem(action, result string) {
	Init()
	pipelineItemsTotal.WithLabelValues(action, result).Inc()
}

// ObserveStage records how long an external stage call took.
func ObserveStage(stage string, d time.Duration) {
	Init()
	pipelineStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveBatch counts a finished batch by outcome (ok, fatal, canceled).
func ObserveBatch(outcome string) {
	Init()
	pipelineBatchesTotal.WithLabelValues(outcome).Inc()
}

// IncActiveItems increments the in-flight item gauge.
func IncActiveItems() {
	Init()
	pipelineActiveItems.Inc()
}

// DecActiveItems decrements the in-flight item gauge.
func DecActiveItems() {
	Init()
	pipelineActiveItems.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(limiter string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(limiter).Observe(d.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
