package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/okian/mjolnir/internal/adapters/http/api"
	"github.com/okian/mjolnir/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

// errorCount returns errors_by_type_total for the given type and severity.
func errorCount(t *testing.T, errorType, severity string) float64 {
	t.Helper()
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "mjolnir_throws_errors_by_type_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["error_type"] == errorType && labels["severity"] == severity {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMetricsMiddleware(t *testing.T) {
	Convey("Given handlers that fail with each API status", t, func() {
		cases := []struct {
			status   int
			code     string
			severity string
		}{
			{http.StatusBadRequest, "bad_request", "medium"},
			{http.StatusNotFound, "not_found", "medium"},
			{http.StatusRequestEntityTooLarge, "payload_too_large", "medium"},
			{http.StatusTooManyRequests, "backpressure", "low"},
			{http.StatusInternalServerError, "internal_error", "high"},
			{http.StatusServiceUnavailable, "unavailable", "medium"},
			{http.StatusTeapot, "client_error", "medium"},
			{http.StatusBadGateway, "server_error", "high"},
		}

		Convey("Then each error should be counted under the code the body carries", func() {
			for _, c := range cases {
				before := errorCount(t, c.code, c.severity)
				h := api.MetricsMiddleware(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(c.status)
				}, "test")
				w := httptest.NewRecorder()
				h(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

				So(w.Code, ShouldEqual, c.status)
				So(errorCount(t, c.code, c.severity)-before, ShouldEqual, 1)
			}
		})

		Convey("Then successful responses should not be counted as errors", func() {
			before := errorCount(t, "internal_error", "high")
			h := api.MetricsMiddleware(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("ok"))
			}, "test")
			h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
			So(errorCount(t, "internal_error", "high"), ShouldEqual, before)
		})
	})
}
