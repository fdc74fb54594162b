// Package service provides the throw service that implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/adapters/catalog"
	ingestqueue "github.com/okian/mjolnir/internal/adapters/mq/queue"
	workerpool "github.com/okian/mjolnir/internal/adapters/mq/worker"
	"github.com/okian/mjolnir/internal/adapters/storage"
	"github.com/okian/mjolnir/internal/domain/dedupe"
	"github.com/okian/mjolnir/internal/domain/producer"
	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/logger"
	"github.com/okian/mjolnir/pkg/metrics"
)

const stopTimeout = 30 * time.Second

// Service publishes throw results and answers queries about them.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       storage.Store
	catalog     catalog.Catalog
	producer    producer.Producer
	publisher   *Publisher
	placeholder *PlaceholderSource
	broadcaster Broadcaster
	deduper     dedupe.Deduper
	queue       ingestqueue.Queue
	workerPool  *workerpool.Pool

	// Configuration
	storageRoot     string
	placeholderPath string
	mediaPrefix     string
	catalogDriver   string
	catalogDSN      string
	workerCount     int
	queueSize       int
	dedupeSize      int

	// State
	started       bool
	cancelWorkers context.CancelFunc

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storageRoot:     "/data",
		placeholderPath: "assets/placeholder.jpg",
		mediaPrefix:     "/media",
		catalogDriver:   catalog.DriverMemory,
		workerCount:     runtime.NumCPU(),
		queueSize:       1_024,
		dedupeSize:      10_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start prepares the storage root, opens the catalog, rebuilds it from
// committed throws and starts the publish workers. A storage root that
// cannot be created is reported here.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting throw service...")

	if s.store == nil {
		local := storage.NewLocal(s.storageRoot, storage.WithLogger(s.logger.Named("storage")))
		if err := local.EnsureRoot(ctx); err != nil {
			return err
		}
		s.store = local
	}

	s.placeholder = NewPlaceholderSource(s.placeholderPath)
	if err := s.placeholder.Check(ctx); err != nil {
		// Dummy requests fail with a server error until the file appears.
		s.logger.Warn(ctx, "placeholder image unavailable", logger.String("path", s.placeholderPath), logger.Error(err))
	}

	cat, err := catalog.Open(ctx, s.catalogDriver, s.catalogDSN, s.logger.Named("catalog"))
	if err != nil {
		return err
	}
	s.catalog = cat
	if err := s.rebuildCatalog(ctx); err != nil {
		_ = cat.Close()
		return err
	}

	if s.producer == nil {
		s.producer = producer.NewDummy(producer.WithMediaPrefix(s.mediaPrefix))
	}
	s.publisher = NewPublisher(s.store, s.catalog, s.broadcaster, s.mediaPrefix, s.logger.Named("publisher"))

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = ingestqueue.NewInMemoryQueue(ingestqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.queue, workerpool.HandlerFunc(s.handleSubmission))

	// Workers outlive the request context that started the service; Stop
	// drains and then cancels them.
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelWorkers = cancel
	s.workerPool.Start(workerCtx)

	s.started = true
	s.logger.Info(ctx, "throw service started",
		logger.String("storageRoot", s.store.Root()),
		logger.String("catalog", s.catalogDriver),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// rebuildCatalog records every committed throw found in storage. It only
// runs against an empty catalog. Publish order is not kept on disk, so
// throws are recorded oldest timestamp first.
func (s *Service) rebuildCatalog(ctx context.Context) error {
	n, err := s.catalog.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	ids, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	restored := make([]throw.Result, 0, len(ids))
	for _, id := range ids {
		rc, err := s.store.Open(ctx, id, throw.ResultFileName)
		if err != nil {
			s.logger.Warn(ctx, "skipping throw without result", logger.String("throwId", id.String()), logger.Error(err))
			continue
		}
		r, err := readResult(rc)
		if err != nil || r.ThrowID != id {
			s.logger.Warn(ctx, "skipping unreadable result", logger.String("throwId", id.String()), logger.Error(err))
			continue
		}
		restored = append(restored, r)
	}

	slices.SortStableFunc(restored, func(a, b throw.Result) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	for _, r := range restored {
		if err := s.catalog.Record(ctx, r); err != nil {
			return fmt.Errorf("rebuild catalog: %w", err)
		}
	}
	if len(restored) > 0 {
		s.logger.Info(ctx, "catalog rebuilt from storage", logger.Int("throws", len(restored)))
	}
	return nil
}

// Stop drains the ingest queue, stops the workers and closes the catalog.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping throw service...")

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
	}
	s.cancelWorkers()

	if err := s.catalog.Close(); err != nil {
		s.logger.Warn(ctx, "closing catalog failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "throw service stopped")
}

// components returns the running publisher and catalog or ErrNotStarted.
func (s *Service) components() (*Publisher, catalog.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.publisher, s.catalog, nil
}

// PublishDummy produces a synthetic result, persists it with placeholder
// frames and returns it once every file is committed.
func (s *Service) PublishDummy(ctx context.Context) (throw.Result, error) {
	pub, _, err := s.components()
	if err != nil {
		return throw.Result{}, err
	}
	r, err := s.producer.Produce(ctx)
	if err != nil {
		metrics.RecordPublishFailure("produce")
		return throw.Result{}, fmt.Errorf("produce dummy: %w", err)
	}
	if err := pub.Publish(ctx, r, s.placeholder, SourceDummy); err != nil {
		return throw.Result{}, err
	}
	return r, nil
}

// Latest returns the most recently published result.
func (s *Service) Latest(ctx context.Context) (throw.Result, error) {
	_, cat, err := s.components()
	if err != nil {
		return throw.Result{}, err
	}
	r, err := cat.Latest(ctx)
	return r, mapCatalogErr(err)
}

// Get returns the published result with id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (throw.Result, error) {
	_, cat, err := s.components()
	if err != nil {
		return throw.Result{}, err
	}
	r, err := cat.Get(ctx, id)
	return r, mapCatalogErr(err)
}

// Recent returns up to n published results, newest first.
func (s *Service) Recent(ctx context.Context, n int) ([]throw.Result, error) {
	_, cat, err := s.components()
	if err != nil {
		return nil, err
	}
	rs, err := cat.Recent(ctx, n)
	return rs, mapCatalogErr(err)
}

func mapCatalogErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, catalog.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, catalog.ErrInvalidLimit):
		return fmt.Errorf("%w: %w", ErrInvalidLimit, err)
	default:
		return err
	}
}

// Submit validates a pipeline submission and queues it for publishing.
// It reports duplicate=true, without queueing, when the throw id was
// already accepted or published.
func (s *Service) Submit(ctx context.Context, sub throw.Submission) (duplicate bool, err error) {
	s.mu.RLock()
	started, cat, deduper, q := s.started, s.catalog, s.deduper, s.queue
	s.mu.RUnlock()
	if !started {
		return false, ErrNotStarted
	}

	if err := sub.Validate(s.mediaPrefix); err != nil {
		return false, err
	}
	id := sub.Result.ThrowID

	if _, err := cat.Get(ctx, id); err == nil || deduper.SeenAndRecord(ctx, id) {
		metrics.RecordIngestDuplicate()
		s.logger.Debug(ctx, "duplicate submission", logger.String("throwId", id.String()))
		return true, nil
	}

	if sub.Received.IsZero() {
		sub.Received = time.Now()
	}
	if err := q.Enqueue(ctx, sub); err != nil {
		deduper.Unrecord(ctx, id)
		if errors.Is(err, ingestqueue.ErrFull) {
			return false, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		if errors.Is(err, ingestqueue.ErrClosed) {
			return false, fmt.Errorf("%w: %w", ErrNotStarted, err)
		}
		return false, err
	}
	return false, nil
}

// handleSubmission publishes a queued submission. A failed publish forgets
// the id so the pipeline can retry.
func (s *Service) handleSubmission(ctx context.Context, sub throw.Submission) error { //nolint:gocritic // hugeParam
	err := s.publisher.Publish(ctx, sub.Result, MemorySource(sub.Frames), SourcePipeline)
	if err != nil {
		s.deduper.Unrecord(ctx, sub.Result.ThrowID)
	}
	return err
}

// MediaPrefix returns the URL path the storage root is served under.
func (s *Service) MediaPrefix() string { return s.mediaPrefix }

// StorageRoot returns the directory throws are written to.
func (s *Service) StorageRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store != nil {
		return s.store.Root()
	}
	return s.storageRoot
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"catalog":     s.catalogDriver,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["dedupeEntries"] = s.deduper.Size()
		if n, err := s.catalog.Count(ctx); err == nil {
			stats["totalThrows"] = n
			metrics.UpdateCatalogSize(n)
		}
		metrics.UpdateQueueSize(queueLen)
	}
	return stats
}
