package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/mjolnir/pkg/metrics"
)

// MetricsMiddleware records request counts and latency for endpoint. Error
// responses are labelled with the same code the response body carries.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		durationMs := float64(time.Since(start).Milliseconds())
		status := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)

		if rec.status >= http.StatusBadRequest {
			code := errorCode(rec.status)
			metrics.RecordErrorByEndpoint(endpoint, r.Method, code)
			metrics.RecordErrorByType(code, errorSeverity(rec.status))
			metrics.RecordErrorLatency("http", code, durationMs)
		}
	}
}

// errorSeverity grades an error status for alerting. Backpressure is flow
// control the pipeline retries, and 503 only happens around start and stop.
func errorSeverity(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "low"
	case http.StatusServiceUnavailable:
		return "medium"
	}
	if status >= http.StatusInternalServerError {
		return "high"
	}
	return "medium"
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}
