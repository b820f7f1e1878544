package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	entriesSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_entries_submitted_total",
			Help: "Total number of persisted progress entries",
		},
		[]string{"condition", "urgency"},
	)

	submissionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_submission_failures_total",
			Help: "Total number of rejected or failed submissions by error code",
		},
		[]string{"code"},
	)

	storageCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "progress_storage_circuit_state",
			Help: "Circuit breaker state per storage breaker (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	queueDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_queue_deliveries_total",
			Help: "Total number of queued submissions consumed from RabbitMQ by outcome",
		},
		[]string{"outcome"},
	)

	queueDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "progress_queue_delivery_duration_seconds",
			Help:    "Duration of queued submission handling",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)
)

// statusRecorder captures the status code written by the handler
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware measures the time and status of each request. Requests are
// labelled by route pattern so path parameters do not explode cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(recorder.statusCode)

		httpRequestsTotal.WithLabelValues(path, r.Method, status).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}

// RecordSubmission counts a persisted entry
func RecordSubmission(condition, urgency string) {
	entriesSubmittedTotal.WithLabelValues(condition, urgency).Inc()
}

// RecordSubmissionFailure counts a rejected or failed submission
func RecordSubmissionFailure(code string) {
	submissionFailuresTotal.WithLabelValues(code).Inc()
}

// ObserveDelivery records how a queued submission ended
func ObserveDelivery(outcome string, elapsed time.Duration) {
	queueDeliveriesTotal.WithLabelValues(outcome).Inc()
	queueDeliveryDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveCircuitState exports breaker transitions; it matches gobreaker's OnStateChange
func ObserveCircuitState(name string, _, to gobreaker.State) {
	storageCircuitState.WithLabelValues(name).Set(float64(to))
}
