package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/okian/mjolnir/internal/adapters/catalog"
	"github.com/okian/mjolnir/internal/adapters/storage"
	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/logger"
	"github.com/okian/mjolnir/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Publish sources, used as metric labels and in logs.
const (
	SourceDummy    = "dummy"
	SourcePipeline = "pipeline"
)

// Broadcaster is told about every committed result.
type Broadcaster interface {
	Broadcast(ctx context.Context, r throw.Result)
}

// Publisher writes a result and its frames to storage as one unit and then
// makes it visible to readers.
type Publisher struct {
	store       storage.Store
	catalog     catalog.Catalog
	broadcaster Broadcaster
	mediaPrefix string
	logger      logger.Logger
}

// NewPublisher creates a publisher. broadcaster may be nil.
func NewPublisher(store storage.Store, cat catalog.Catalog, broadcaster Broadcaster, mediaPrefix string, l logger.Logger) *Publisher {
	if l == nil {
		l = logger.Get().Named("publisher")
	}
	return &Publisher{
		store:       store,
		catalog:     cat,
		broadcaster: broadcaster,
		mediaPrefix: mediaPrefix,
		logger:      l,
	}
}

// Persist writes result.json (indented, external field names) into tx.
func (p *Publisher) Persist(ctx context.Context, tx storage.Txn, r throw.Result) error {
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", throw.ResultFileName, err)
	}
	if _, err := tx.Put(ctx, throw.ResultFileName, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("persist %s: %w", r.ThrowID, err)
	}
	return nil
}

// MaterializeFrames writes one frame per image, named after the image URL,
// reading content from src. Frames are written concurrently. It returns the
// total number of bytes written.
func (p *Publisher) MaterializeFrames(ctx context.Context, tx storage.Txn, r throw.Result, src FrameSource) (int64, error) {
	names := make([]string, len(r.Images))
	for i, img := range r.Images {
		id, name, err := throw.ParseMediaURL(p.mediaPrefix, img.URL)
		if err != nil {
			return 0, err
		}
		if id != r.ThrowID {
			return 0, fmt.Errorf("%w: image %s does not belong to throw %s", throw.ErrValidation, img.URL, r.ThrowID)
		}
		names[i] = name
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			rc, err := src.Frame(gctx, name)
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()
			n, err := tx.Put(gctx, name, rc)
			if err != nil {
				return fmt.Errorf("frame %s: %w", name, err)
			}
			total.Add(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total.Load(), err
	}
	return total.Load(), nil
}

// Publish stages r and its frames, commits them atomically, records the
// result in the catalog and broadcasts it. If an error is returned nothing
// became visible under the media mount. Once committed, Publish succeeds
// even when the catalog rejects the result.
func (p *Publisher) Publish(ctx context.Context, r throw.Result, src FrameSource, source string) (err error) {
	start := time.Now()
	stage := "begin"
	defer func() {
		if err != nil {
			metrics.RecordPublishFailure(stage)
			metrics.RecordErrorByComponent("publisher", stage)
			metrics.RecordErrorLatency("publisher", stage, float64(time.Since(start).Milliseconds()))
			p.logger.Error(ctx, "publish failed",
				logger.String("throwId", r.ThrowID.String()),
				logger.String("stage", stage),
				logger.String("source", source),
				logger.Error(err),
			)
		}
	}()

	if err = r.Validate(); err != nil {
		stage = "validate"
		return err
	}

	tx, err := p.store.Begin(ctx, r.ThrowID)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			if abortErr := tx.Abort(context.WithoutCancel(ctx)); abortErr != nil {
				p.logger.Warn(ctx, "abort staging failed", logger.String("throwId", r.ThrowID.String()), logger.Error(abortErr))
			}
		}
	}()

	stage = "persist"
	if err = p.Persist(ctx, tx, r); err != nil {
		return err
	}

	stage = "frames"
	written, err := p.MaterializeFrames(ctx, tx, r, src)
	if err != nil {
		return err
	}
	metrics.AddFrameBytes(written)

	stage = "commit"
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	committed = true

	// The throw is committed and served from here on; a catalog failure
	// only delays indexing until the next rebuild.
	if recErr := p.catalog.Record(ctx, r); recErr != nil {
		metrics.RecordPublishFailure("catalog")
		metrics.RecordErrorByComponent("publisher", "catalog")
		p.logger.Error(ctx, "committed throw not indexed",
			logger.String("throwId", r.ThrowID.String()),
			logger.String("source", source),
			logger.Error(recErr),
		)
	}

	if p.broadcaster != nil {
		p.broadcaster.Broadcast(ctx, r)
	}

	elapsed := time.Since(start)
	metrics.RecordThrowPublished(source)
	metrics.RecordPublishLatency(float64(elapsed.Microseconds()) / 1000)
	p.logger.Info(ctx, "throw published",
		logger.String("throwId", r.ThrowID.String()),
		logger.String("source", source),
		logger.String("frames", humanize.Bytes(uint64(written))),
		logger.Duration("took", elapsed),
	)
	return nil
}

// readResult decodes a committed result.json.
func readResult(rc io.ReadCloser) (throw.Result, error) {
	defer func() { _ = rc.Close() }()
	var r throw.Result
	if err := json.NewDecoder(rc).Decode(&r); err != nil {
		return throw.Result{}, err
	}
	return r, nil
}
