// Package metrics exposes Prometheus collectors for the ingestion pipeline.
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
	pageCacheLookupsTotal      *prometheus.CounterVec
	pageDownloadsTotal         *prometheus.CounterVec
	stitchAttemptsTotal        *prometheus.CounterVec
	recordsExtractedTotal      *prometheus.CounterVec
	deliveriesTotal            *prometheus.CounterVec
	deliveryBackoffSeconds     *prometheus.HistogramVec
	queueDepth                 *prometheus.GaugeVec
	datesTotal                 *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pageCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_page_cache_lookups_total",
				Help: "Page cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		pageDownloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_page_downloads_total",
				Help: "Page fetches issued to the source, labeled by status.",
			},
			[]string{"status"},
		)

		stitchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_stitch_attempts_total",
				Help: "Stitching attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		recordsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_records_extracted_total",
				Help: "Records written to the output directory, labeled by whether they were stitched.",
			},
			[]string{"stitched"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_deliveries_total",
				Help: "Delivery attempts, labeled by outcome and error class.",
			},
			[]string{"outcome", "class"},
		)

		deliveryBackoffSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gazette_delivery_backoff_seconds",
				Help:    "Backoff waits before requeueing an item, labeled by error class.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 60, 120},
			},
			[]string{"class"},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gazette_queue_depth",
				Help: "Items held by the durable queue, labeled by list.",
			},
			[]string{"list"},
		)

		datesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_dates_total",
				Help: "Date outcomes recorded by the orchestrator.",
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gazette_active_workers",
				Help: "Number of orchestrator workers currently scraping a date.",
			},
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

// ObserveCacheLookup counts a page cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	pageCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObservePageDownload counts a fetch against the source.
func ObservePageDownload(err error) {
	Init()
	status := "ok"
	if err != nil {
		status = "error"
	}
	pageDownloadsTotal.WithLabelValues(status).Inc()
}

// ObserveStitch counts a stitching attempt outcome.
func ObserveStitch(outcome string) {
	Init()
	stitchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecordExtracted counts a record written by a scraping session.
func ObserveRecordExtracted(stitched bool) {
	Init()
	recordsExtractedTotal.WithLabelValues(strconv.FormatBool(stitched)).Inc()
}

// ObserveDelivery counts a delivery outcome.
func ObserveDelivery(outcome, class string) {
	Init()
	if class == "" {
		class = "none"
	}
	deliveriesTotal.WithLabelValues(outcome, class).Inc()
}

// ObserveBackoff records a backoff wait.
func ObserveBackoff(class string, d time.Duration) {
	Init()
	deliveryBackoffSeconds.WithLabelValues(class).Observe(d.Seconds())
}

// SetQueueDepth records the size of one queue list.
func SetQueueDepth(list string, n int64) {
	Init()
	queueDepth.WithLabelValues(list).Set(float64(n))
}

// ObserveDate counts a date outcome.
func ObserveDate(outcome string) {
	Init()
	datesTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
