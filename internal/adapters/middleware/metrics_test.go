package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestMetricsMiddleware_LabelsByRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /progress/entries/{condition}/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := MetricsMiddleware(mux)

	counter := httpRequestsTotal.WithLabelValues("GET /progress/entries/{condition}/{id}", "GET", "404")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"1", "2", "3"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/progress/entries/kidney/"+id, nil))
	}

	assert.Equal(t, before+3, testutil.ToFloat64(counter))
}

func TestMetricsMiddleware_UnmatchedRoute(t *testing.T) {
	handler := MetricsMiddleware(http.NewServeMux())

	counter := httpRequestsTotal.WithLabelValues("unmatched", "GET", "404")
	before := testutil.ToFloat64(counter)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nowhere", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRecordSubmission(t *testing.T) {
	before := testutil.ToFloat64(entriesSubmittedTotal.WithLabelValues("kidney", "high"))
	RecordSubmission("kidney", "high")
	assert.Equal(t, before+1, testutil.ToFloat64(entriesSubmittedTotal.WithLabelValues("kidney", "high")))

	before = testutil.ToFloat64(submissionFailuresTotal.WithLabelValues("RangeViolation"))
	RecordSubmissionFailure("RangeViolation")
	assert.Equal(t, before+1, testutil.ToFloat64(submissionFailuresTotal.WithLabelValues("RangeViolation")))
}

func TestObserveDelivery(t *testing.T) {
	before := testutil.ToFloat64(queueDeliveriesTotal.WithLabelValues("requeued"))
	ObserveDelivery("requeued", 30*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(queueDeliveriesTotal.WithLabelValues("requeued")))
}

func TestObserveCircuitState(t *testing.T) {
	ObserveCircuitState("kidney_entries", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Equal(t, float64(gobreaker.StateOpen), testutil.ToFloat64(storageCircuitState.WithLabelValues("kidney_entries")))

	ObserveCircuitState("kidney_entries", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	assert.Equal(t, float64(gobreaker.StateHalfOpen), testutil.ToFloat64(storageCircuitState.WithLabelValues("kidney_entries")))
}
