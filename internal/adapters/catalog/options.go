package catalog

import "github.com/okian/mjolnir/pkg/logger"

// Option applies a configuration option to the SQLite catalog.
type Option func(*SQLite)

// WithLogger sets the logger used by the catalog.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLite) {
		if l != nil {
			s.logger = l
		}
	}
}
