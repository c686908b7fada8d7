// Package metrics exposes Prometheus collectors for the scanner.
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
	crawlPagesTotal          *prometheus.CounterVec
	crawlDeadLinksTotal      prometheus.Counter
	inventoryEntriesTotal    prometheus.Counter
	probeAttemptsTotal       *prometheus.CounterVec
	probeLatencySeconds      *prometheus.HistogramVec
	probeInflight            prometheus.Gauge
	capturedExchangesTotal   *prometheus.CounterVec
	rateLimitDelaySeconds    *prometheus.HistogramVec
	templatesInferredTotal   prometheus.Counter
	variantsGeneratedTotal   *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_crawl_pages_total",
				Help: "Total number of pages visited, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		crawlDeadLinksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scanner_crawl_dead_links_total",
				Help: "Total number of navigation targets that failed to load.",
			},
		)

		inventoryEntriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scanner_inventory_entries_total",
				Help: "Total number of distinct endpoint inventory entries recorded.",
			},
		)

		probeAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_probe_attempts_total",
				Help: "Total number of probe attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		probeLatencySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_probe_latency_seconds",
				Help:    "Histogram of probe attempt latencies, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		probeInflight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanner_probe_inflight",
				Help: "Number of probe attempts currently in flight.",
			},
		)

		capturedExchangesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_captured_exchanges_total",
				Help: "Total number of request/response pairs recorded by the capture sink, labeled by phase.",
			},
			[]string{"phase"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		templatesInferredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scanner_templates_inferred_total",
				Help: "Total number of endpoint templates produced by inference.",
			},
		)

		variantsGeneratedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_variants_generated_total",
				Help: "Total number of probe variants generated, labeled by class.",
			},
			[]string{"class"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a raw URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObservePage increments the crawl page counter.
func ObservePage(rawURL string, statusCode int) {
	crawlPagesTotal.WithLabelValues(SanitizeHost(rawURL), strconv.Itoa(statusCode)).Inc()
}

// ObserveDeadLink increments the dead link counter.
func ObserveDeadLink() {
	crawlDeadLinksTotal.Inc()
}

// ObserveInventoryEntry increments the inventory entry counter.
func ObserveInventoryEntry() {
	inventoryEntriesTotal.Inc()
}

// ObserveProbeAttempt records one probe attempt and its latency.
func ObserveProbeAttempt(rawURL, outcome string, latency time.Duration) {
	probeAttemptsTotal.WithLabelValues(outcome).Inc()
	probeLatencySeconds.WithLabelValues(SanitizeHost(rawURL)).Observe(latency.Seconds())
}

// IncInflight increments the in-flight probe gauge.
func IncInflight() {
	probeInflight.Inc()
}

// DecInflight decrements the in-flight probe gauge.
func DecInflight() {
	probeInflight.Dec()
}

// ObserveExchange counts one captured request/response pair.
func ObserveExchange(phase string) {
	capturedExchangesTotal.WithLabelValues(phase).Inc()
}

// ObserveRateLimitDelay records the duration of a per-host rate limit wait.
func ObserveRateLimitDelay(rawURL string, delay time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(SanitizeHost(rawURL)).Observe(delay.Seconds())
}

// ObserveTemplates adds to the inferred template counter.
func ObserveTemplates(n int) {
	templatesInferredTotal.Add(float64(n))
}

// ObserveVariant counts one generated variant by class.
func ObserveVariant(class string) {
	variantsGeneratedTotal.WithLabelValues(class).Inc()
}
