package api

import (
	"errors"
	"net/http"
	"strconv"

	service "github.com/okian/mjolnir/internal/app"
	"github.com/okian/mjolnir/internal/domain/throw"
)

// errorCodes names every status the API answers with on failure. The same
// code goes into the response body and the error metrics.
var errorCodes = map[int]string{
	http.StatusBadRequest:            "bad_request",
	http.StatusNotFound:              "not_found",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusRequestEntityTooLarge: "payload_too_large",
	http.StatusTooManyRequests:       "backpressure",
	http.StatusInternalServerError:   "internal_error",
	http.StatusServiceUnavailable:    "unavailable",
}

// errorCode returns the code for status, falling back to the status class.
func errorCode(status int) string {
	if code, ok := errorCodes[status]; ok {
		return code
	}
	if status >= http.StatusInternalServerError {
		return "server_error"
	}
	return "client_error"
}

// statusFor maps an error from the service layer to an HTTP status and an
// error code for the response body.
func statusFor(err error) (int, string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrBadRequest), errors.Is(err, throw.ErrValidation), errors.Is(err, service.ErrInvalidLimit):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrBackpressure), errors.Is(err, service.ErrBackpressure):
		status = http.StatusTooManyRequests
	case errors.Is(err, ErrUnavailable), errors.Is(err, service.ErrNotStarted):
		status = http.StatusServiceUnavailable
	}
	return status, errorCodes[status]
}

// parseLimit reads ?limit=N, falling back to def when absent.
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		return 0, errors.New("limit exceeds maximum of " + strconv.Itoa(max))
	}
	return n, nil
}
