package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/metrics"
)

// Memory is an in-memory Catalog. The zero value is not usable; call NewMemory.
type Memory struct {
	mu    sync.RWMutex
	index *treapIndex
	seq   uint64
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{index: newTreapIndex()}
}

// Record implements Catalog.
func (m *Memory) Record(ctx context.Context, result throw.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.seq++
	m.index.put(entry{result: cloneResult(result), seq: m.seq})
	size := m.index.len()
	m.mu.Unlock()

	metrics.UpdateCatalogSize(size)
	return nil
}

// Latest implements Catalog.
func (m *Memory) Latest(ctx context.Context) (throw.Result, error) {
	if err := ctx.Err(); err != nil {
		return throw.Result{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := first(m.index.root)
	if !ok {
		metrics.RecordErrorByComponent("catalog", "not_found")
		return throw.Result{}, ErrNotFound
	}
	return cloneResult(e.result), nil
}

// Get implements Catalog.
func (m *Memory) Get(ctx context.Context, id uuid.UUID) (throw.Result, error) {
	if err := ctx.Err(); err != nil {
		return throw.Result{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.index.byID[id]
	if !ok {
		metrics.RecordErrorByComponent("catalog", "not_found")
		return throw.Result{}, ErrNotFound
	}
	return cloneResult(e.result), nil
}

// Recent implements Catalog.
func (m *Memory) Recent(ctx context.Context, n int) ([]throw.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		metrics.RecordErrorByComponent("catalog", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n = min(n, m.index.len())
	out := make([]throw.Result, 0, n)
	collect(m.index.root, n, &out)
	return out, nil
}

// Count implements Catalog.
func (m *Memory) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.len(), nil
}

// Close implements Catalog. It is a no-op for the in-memory catalog.
func (m *Memory) Close() error { return nil }
