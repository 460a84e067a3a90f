// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestFetchTotal            *prometheus.CounterVec
	harvestFetchDurationSeconds  *prometheus.HistogramVec
	harvestFetchBytesTotal       *prometheus.CounterVec
	harvestFetchRetriesTotal     *prometheus.CounterVec
	harvestRateLimitDelaySeconds *prometheus.HistogramVec
	harvestPartialFailuresTotal  *prometheus.CounterVec
	harvestRunsTotal             *prometheus.CounterVec
	harvestPapersTotal           *prometheus.CounterVec
	harvestActiveWorkers         prometheus.Gauge
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetch_total",
				Help: "Total number of page fetches, labeled by page kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		harvestFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_fetch_duration_seconds",
				Help:    "Histogram of successful fetch latencies, labeled by page kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		harvestFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		harvestFetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetch_retries_total",
				Help: "Total number of fetch retries, labeled by page kind.",
			},
			[]string{"kind"},
		)

		harvestRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		harvestPartialFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_partial_failures_total",
				Help: "Total number of tolerated failures, labeled by stage and cause.",
			},
			[]string{"stage", "cause"},
		)

		harvestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_runs_total",
				Help: "Total number of issue runs, labeled by terminal state.",
			},
			[]string{"state"},
		)

		harvestPapersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_papers_total",
				Help: "Total number of merged papers, labeled by merge disposition.",
			},
			[]string{"disposition"},
		)

		harvestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_workers",
				Help: "Number of enrichment workers currently fetching a detail page.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_http_requests_total",
				Help: "Total number of requests served by the ops server.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_http_request_duration_seconds",
				Help:    "Histogram of ops server latencies.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one request served by the ops server.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFetch records one fetch outcome ("ok", "transient", "permanent", "canceled").
func ObserveFetch(kind, outcome, site string, bytesFetched int, duration time.Duration) {
	Init()
	harvestFetchTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == "ok" {
		harvestFetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	}
	if bytesFetched > 0 {
		harvestFetchBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveRetry increments the retry counter for a page kind.
func ObserveRetry(kind string) {
	Init()
	harvestFetchRetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	harvestRateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObservePartialFailure increments the tolerated-failure counter.
func ObservePartialFailure(stage, cause string) {
	Init()
	harvestPartialFailuresTotal.WithLabelValues(stage, cause).Inc()
}

// ObserveRun increments the run counter for a terminal state.
func ObserveRun(state string) {
	Init()
	harvestRunsTotal.WithLabelValues(state).Inc()
}

// ObservePapers adds n papers under a merge disposition ("inserted", "matched", "drifted", "dropped", "retained").
func ObservePapers(disposition string, n int) {
	if n <= 0 {
		return
	}
	Init()
	harvestPapersTotal.WithLabelValues(disposition).Add(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvestActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvestActiveWorkers.Dec()
}
