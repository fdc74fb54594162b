// Package storage holds per-throw artifacts (result.json and frames) under
// a storage root that the media file server exposes read-only.
package storage

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Store persists artifacts keyed by throw id.
type Store interface {
	// Begin opens a staging area for id. Nothing written through the
	// returned Txn is visible until Commit.
	Begin(ctx context.Context, id uuid.UUID) (Txn, error)

	// Open reads a committed artifact. Returns ErrNotFound if absent.
	Open(ctx context.Context, id uuid.UUID, name string) (io.ReadCloser, error)

	// List returns the ids of all committed throws.
	List(ctx context.Context) ([]uuid.UUID, error)

	// Root is the directory served under the media mount.
	Root() string
}

// Txn collects the artifacts of one throw.
type Txn interface {
	// Put writes a named artifact and returns the number of bytes written.
	Put(ctx context.Context, name string, r io.Reader) (int64, error)

	// Commit publishes every artifact at once. A previously committed throw
	// with the same id is replaced.
	Commit(ctx context.Context) error

	// Abort discards the staged artifacts. Safe to call after Commit.
	Abort(ctx context.Context) error
}
