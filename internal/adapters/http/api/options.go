package api

import (
	"net/http"

	"github.com/okian/mjolnir/pkg/logger"
)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithMaxListLimit caps GET /api/throws?limit.
func WithMaxListLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxListLimit = n
		}
	}
}

// WithMaxUploadBytes caps the body of POST /api/throws.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithStream mounts h at GET /api/throws/stream.
func WithStream(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.stream = h
		}
	}
}

// WithLogger sets the logger used by handlers.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
