package producer

import (
	"time"

	"github.com/google/uuid"
)

// Option applies a configuration option to the Dummy producer.
type Option func(*Dummy)

// WithMediaPrefix sets the URL prefix frames are served under.
func WithMediaPrefix(prefix string) Option {
	return func(d *Dummy) {
		if prefix != "" {
			d.mediaPrefix = prefix
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dummy) {
		if now != nil {
			d.now = now
		}
	}
}

// WithIDGenerator overrides throw id generation.
func WithIDGenerator(gen func() (uuid.UUID, error)) Option {
	return func(d *Dummy) {
		if gen != nil {
			d.newID = gen
		}
	}
}
