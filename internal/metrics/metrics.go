// Package metrics exposes Prometheus collectors for the fetch service.
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
	openRequests               prometheus.Gauge
	browserLaunchesTotal       *prometheus.CounterVec
	navigationDurationSeconds  *prometheus.HistogramVec
	fetchCyclesTotal           *prometheus.CounterVec
	queueErrorsTotal           prometheus.Counter
	cleanupMismatchesTotal     prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		openRequests = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fetcher_open_requests",
			Help: "Requests whose navigation completed and whose fetch cycle is not cleaned up yet.",
		})

		browserLaunchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fetcher_browser_launches_total",
			Help: "Browser launch attempts, labeled by result.",
		}, []string{"result"})

		navigationDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetcher_navigation_duration_seconds",
			Help:    "Histogram of navigation latencies, labeled by outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"})

		fetchCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fetcher_fetch_cycles_total",
			Help: "Fetch cycles finished, labeled by site and final status.",
		}, []string{"site", "status"})

		queueErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_queue_errors_total",
			Help: "Queue updates that failed during a fetch cycle.",
		})

		cleanupMismatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "fetcher_cleanup_mismatches_total",
			Help: "Cleanups that found their request missing from the open request set.",
		})

		rateLimitDelaysSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetcher_rate_limit_delays_seconds",
			Help:    "Histogram of per-host rate limit waits.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"})

		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"})

		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"})
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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

// SetOpenRequests records the open request set size.
func SetOpenRequests(n int) {
	openRequests.Set(float64(n))
}

// ObserveBrowserLaunch counts a launch attempt.
func ObserveBrowserLaunch(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	browserLaunchesTotal.WithLabelValues(result).Inc()
}

// ObserveNavigation records how long a navigation took and how it ended
// (ok, timeout or error).
func ObserveNavigation(outcome string, d time.Duration) {
	navigationDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveFetchCycle counts a finished fetch cycle.
func ObserveFetchCycle(rawURL, status string) {
	fetchCyclesTotal.WithLabelValues(SanitizeSite(rawURL), status).Inc()
}

// ObserveQueueError counts a failed queue update.
func ObserveQueueError() {
	queueErrorsTotal.Inc()
}

// ObserveCleanupMismatch counts a cleanup whose request was not open.
func ObserveCleanupMismatch() {
	cleanupMismatchesTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, d time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(site).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
