// Package metrics exposes Prometheus collectors for the harvester.
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
	harvesterPagesTotal         *prometheus.CounterVec
	harvesterArtifactsTotal     *prometheus.CounterVec
	harvesterPartitionsTotal    *prometheus.CounterVec
	harvesterFetchAttemptsTotal *prometheus.CounterVec
	harvesterQuotaRemaining     *prometheus.GaugeVec
	harvesterQuotaCooldowns     prometheus.Counter
	harvesterCheckpoint         *prometheus.GaugeVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Search result pages processed, labeled by status.",
			},
			[]string{"status"},
		)

		harvesterArtifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_artifacts_total",
				Help: "Search result items processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		harvesterPartitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_partitions_total",
				Help: "Partitions finished, labeled by how they ended.",
			},
			[]string{"status"},
		)

		harvesterFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "GitHub API attempts, labeled by classified outcome.",
			},
			[]string{"outcome"},
		)

		harvesterQuotaRemaining = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_quota_remaining",
				Help: "Remaining GitHub API quota by class.",
			},
			[]string{"class"},
		)

		harvesterQuotaCooldowns = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_quota_cooldowns_total",
				Help: "Cooldown waits triggered by exhausted quota.",
			},
		)

		harvesterCheckpoint = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_checkpoint",
				Help: "Current checkpoint position (partition lower bound and page).",
			},
			[]string{"field"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts a processed page.
func ObservePage(status string) {
	Init()
	harvesterPagesTotal.WithLabelValues(status).Inc()
}

// ObserveArtifacts adds n items with the given outcome.
func ObserveArtifacts(outcome string, n int) {
	Init()
	if n <= 0 {
		return
	}
	harvesterArtifactsTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObservePartition counts a finished partition.
func ObservePartition(status string) {
	Init()
	harvesterPartitionsTotal.WithLabelValues(status).Inc()
}

// ObserveFetchAttempt counts one API attempt.
func ObserveFetchAttempt(outcome string) {
	Init()
	harvesterFetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveQuota records the most recent quota poll.
func ObserveQuota(core, search int) {
	Init()
	harvesterQuotaRemaining.WithLabelValues("core").Set(float64(core))
	harvesterQuotaRemaining.WithLabelValues("search").Set(float64(search))
}

// ObserveCooldown counts one quota cooldown.
func ObserveCooldown() {
	Init()
	harvesterQuotaCooldowns.Inc()
}

// ObserveCheckpoint records the last durable checkpoint.
func ObserveCheckpoint(partitionLower int64, page int) {
	Init()
	harvesterCheckpoint.WithLabelValues("partition").Set(float64(partitionLower))
	harvesterCheckpoint.WithLabelValues("page").Set(float64(page))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
