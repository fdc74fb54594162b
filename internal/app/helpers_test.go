package service_test

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/adapters/catalog"
	"github.com/okian/mjolnir/internal/domain/throw"
)

// recordingCatalog wraps the memory catalog and remembers Record calls.
type recordingCatalog struct {
	*catalog.Memory
	mu  sync.Mutex
	ids []uuid.UUID
}

func newCatalog() *recordingCatalog {
	return &recordingCatalog{Memory: catalog.NewMemory()}
}

func (c *recordingCatalog) Record(ctx context.Context, r throw.Result) error {
	c.mu.Lock()
	c.ids = append(c.ids, r.ThrowID)
	c.mu.Unlock()
	return c.Memory.Record(ctx, r)
}

func (c *recordingCatalog) recorded() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uuid.UUID(nil), c.ids...)
}

// failingCatalog refuses every Record.
type failingCatalog struct {
	*catalog.Memory
}

var errCatalogDown = errors.New("catalog down")

func (failingCatalog) Record(context.Context, throw.Result) error {
	return errCatalogDown
}

type recordingBroadcaster struct {
	ids []uuid.UUID
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, r throw.Result) {
	b.ids = append(b.ids, r.ThrowID)
}
