// Package metrics exposes Prometheus collectors for the crawler.
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
	crawlerResolvesTotal       *prometheus.CounterVec
	crawlerFailuresTotal       *prometheus.CounterVec
	crawlerAdmissionsTotal     *prometheus.CounterVec
	crawlerBatchSize           prometheus.Histogram
	crawlerBatchSeconds        prometheus.Histogram
	crawlerFrontierSize        prometheus.Gauge
	crawlerCheckpointsTotal    *prometheus.CounterVec
	crawlerPageFetchesTotal    *prometheus.CounterVec
	crawlerRateLimitDelays     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// more than once.
func Init() {
	once.Do(func() {
		crawlerResolvesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cromap_resolves_total",
				Help: "Links resolved through the fetch cache, labeled by link kind and source (fetch or cache).",
			},
			[]string{"kind", "source"},
		)

		crawlerFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cromap_item_failures_total",
				Help: "Links dropped after a failed dispatch, labeled by link kind and reason.",
			},
			[]string{"kind", "reason"},
		)

		crawlerAdmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cromap_dedup_admissions_total",
				Help: "Records offered to the dedup index, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cromap_batch_size",
				Help:    "Number of links dispatched per batch.",
				Buckets: []float64{1, 2, 4, 8, 16, 32},
			},
		)

		crawlerBatchSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cromap_batch_duration_seconds",
				Help:    "Wall time from batch dispatch to join.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		crawlerFrontierSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cromap_frontier_size",
				Help: "Links waiting in the frontier after the last batch.",
			},
		)

		crawlerCheckpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cromap_cache_checkpoints_total",
				Help: "Fetch cache persists, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerPageFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cromap_page_fetches_total",
				Help: "Raw page fetches, labeled by site, transport and status.",
			},
			[]string{"site", "transport", "status"},
		)

		crawlerRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cromap_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
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

// ObserveResolve counts a successfully resolved link.
func ObserveResolve(kind string, fetched bool) {
	source := "cache"
	if fetched {
		source = "fetch"
	}
	crawlerResolvesTotal.WithLabelValues(kind, source).Inc()
}

// ObserveFailure counts a dropped link.
func ObserveFailure(kind, reason string) {
	crawlerFailuresTotal.WithLabelValues(kind, reason).Inc()
}

// ObserveAdmission counts a dedup outcome ("admitted" or "duplicate").
func ObserveAdmission(outcome string) {
	crawlerAdmissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatch records a settled batch and the frontier length left behind.
func ObserveBatch(size, pending int, elapsed time.Duration) {
	crawlerBatchSize.Observe(float64(size))
	crawlerBatchSeconds.Observe(elapsed.Seconds())
	crawlerFrontierSize.Set(float64(pending))
}

// ObserveCheckpoint counts a fetch cache persist.
func ObserveCheckpoint(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	crawlerCheckpointsTotal.WithLabelValues(status).Inc()
}

// ObservePageFetch counts a raw page download.
func ObservePageFetch(rawURL, transport string, code int) {
	status := "error"
	if code > 0 {
		status = strconv.Itoa(code)
	}
	crawlerPageFetchesTotal.WithLabelValues(SanitizeSite(rawURL), transport, status).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	crawlerRateLimitDelays.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest records a status server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
