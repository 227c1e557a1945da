package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total number of HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ActiveRequests tracks currently active requests
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_http_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"method"},
	)

	// RateResolutions counts conversion contexts by the tier that produced them
	RateResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_rate_resolutions_total",
			Help: "Conversion contexts resolved, by tier",
		},
		[]string{"tier"},
	)

	// RateLookups counts per-currency lookups by where the rate came from
	RateLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_rate_lookups_total",
			Help: "Per-currency exchange rate lookups, by origin",
		},
		[]string{"origin"},
	)

	// Normalizations counts normalization attempts
	Normalizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_normalizations_total",
			Help: "Response normalizations, by document class and outcome",
		},
		[]string{"document_class", "outcome"},
	)

	// DuplicatesDetected counts duplicates by the check that matched
	DuplicatesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_duplicates_detected_total",
			Help: "Duplicate pieces detected, by check",
		},
		[]string{"check"},
	)

	// RecordFallbacks counts assemblies that degraded to a minimal record
	RecordFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_record_fallbacks_total",
			Help: "Assembled records downgraded to minimal data",
		},
	)

	// PiecesProcessed counts finished pipeline runs by resulting status
	PiecesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_pieces_processed_total",
			Help: "Pieces processed, by resulting status",
		},
		[]string{"status"},
	)

	// ProcessingDuration tracks pipeline duration
	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_processing_duration_seconds",
			Help:    "Time spent processing one piece",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueueDepth tracks jobs waiting for a worker
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_processing_queue_depth",
			Help: "Pieces waiting in the processing queue",
		},
	)

	// StaleReset counts PROCESSING pieces swept back to UPLOADED
	StaleReset = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_stale_pieces_reset_total",
			Help: "Stale processing pieces reset to uploaded",
		},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// NewMetricsMiddleware creates a middleware that collects Prometheus metrics
func NewMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Track active requests
		ActiveRequests.WithLabelValues(r.Method).Inc()
		defer ActiveRequests.WithLabelValues(r.Method).Dec()

		// Track duration
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// The mux fills in the matched pattern while routing.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}

		RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
