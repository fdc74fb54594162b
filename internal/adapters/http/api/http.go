// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/logger"
)

// Default request limits.
const (
	defaultMaxListLimit   = 100
	defaultMaxUploadBytes = 32 << 20
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// PublishDummy produces, persists and returns a synthetic throw.
	PublishDummy(ctx context.Context) (throw.Result, error)

	// Read operations expose published throws.
	Latest(ctx context.Context) (throw.Result, error)
	Get(ctx context.Context, id uuid.UUID) (throw.Result, error)
	Recent(ctx context.Context, n int) ([]throw.Result, error)

	// Submit queues a pipeline result. duplicate is true when the throw id
	// was already accepted.
	Submit(ctx context.Context, s throw.Submission) (duplicate bool, err error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	helloHandler  *HelloHandler
	throwsHandler *ThrowsHandler
	ingestHandler *IngestHandler
	stream        http.Handler

	maxListLimit   int
	maxUploadBytes int64
	logger         logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		maxListLimit:   defaultMaxListLimit,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}

	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(statsProvider)
	s.helloHandler = NewHelloHandler()
	s.throwsHandler = NewThrowsHandler(deps, s.maxListLimit, s.logger)
	s.ingestHandler = NewIngestHandler(deps, s.maxUploadBytes, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("GET /api/hello_world", MetricsMiddleware(s.helloHandler.HandleHello, "hello_world"))
	mux.HandleFunc("GET /api/dummy", MetricsMiddleware(s.throwsHandler.HandleDummy, "dummy"))
	mux.HandleFunc("GET /api/throws/latest", MetricsMiddleware(s.throwsHandler.HandleLatest, "throws_latest"))
	mux.HandleFunc("GET /api/throws/{throwId}", MetricsMiddleware(s.throwsHandler.HandleGet, "throws_get"))
	mux.HandleFunc("GET /api/throws", MetricsMiddleware(s.throwsHandler.HandleList, "throws_list"))
	mux.HandleFunc("POST /api/throws", MetricsMiddleware(s.ingestHandler.HandleSubmit, "throws_submit"))
	if s.stream != nil {
		mux.Handle("GET /api/throws/stream", s.stream)
	}
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps err to a response. Server-side failures are logged and
// answered with a generic message so paths and causes stay internal.
func writeFailure(w http.ResponseWriter, r *http.Request, l logger.Logger, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		l.Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Error(err),
		)
		writeError(w, status, code, nil)
		return
	}
	writeError(w, status, code, err)
}
