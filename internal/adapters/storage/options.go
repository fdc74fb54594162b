package storage

import "github.com/okian/mjolnir/pkg/logger"

// Option applies a configuration option to the Local store.
type Option func(*Local)

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *Local) {
		if l != nil {
			s.logger = l
		}
	}
}
