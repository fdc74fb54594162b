package service

import (
	"github.com/okian/mjolnir/internal/adapters/storage"
	"github.com/okian/mjolnir/internal/domain/producer"
	"github.com/okian/mjolnir/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStorageRoot sets the directory throws are written to.
func WithStorageRoot(root string) Option {
	return func(s *Service) {
		if root != "" {
			s.storageRoot = root
		}
	}
}

// WithStore replaces the filesystem store built from the storage root.
func WithStore(store storage.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithPlaceholderImage sets the image copied into every dummy frame.
func WithPlaceholderImage(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.placeholderPath = path
		}
	}
}

// WithMediaPrefix sets the URL path the storage root is served under.
func WithMediaPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.mediaPrefix = prefix
		}
	}
}

// WithCatalog selects the catalog driver and its data source.
func WithCatalog(driver, dsn string) Option {
	return func(s *Service) {
		if driver != "" {
			s.catalogDriver = driver
			s.catalogDSN = dsn
		}
	}
}

// WithProducer replaces the dummy producer.
func WithProducer(p producer.Producer) Option {
	return func(s *Service) {
		if p != nil {
			s.producer = p
		}
	}
}

// WithBroadcaster sets who is told about published throws.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) {
		if b != nil {
			s.broadcaster = b
		}
	}
}

// WithWorkerCount sets the number of publish workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the ingest queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many throw ids the ingest path remembers.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
