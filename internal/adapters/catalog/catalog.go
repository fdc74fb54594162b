// Package catalog keeps track of published throws so the service can answer
// "latest", by-id and recent-N queries without walking the storage root.
package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/logger"
)

// Supported drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Catalog records committed throw results.
//
// Ordering is by the order results were recorded, so latest is the most
// recently published throw even when its own timestamp is older.
type Catalog interface {
	// Record adds result, replacing any previous result with the same id.
	Record(ctx context.Context, result throw.Result) error

	// Latest returns the most recent result or ErrNotFound.
	Latest(ctx context.Context) (throw.Result, error)

	// Get returns the result with id or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (throw.Result, error)

	// Recent returns up to n results, newest first. n must be positive.
	Recent(ctx context.Context, n int) ([]throw.Result, error)

	// Count returns the number of recorded results.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the catalog.
	Close() error
}

// Open returns the catalog implementation named by driver.
func Open(ctx context.Context, driver, dsn string, log logger.Logger) (Catalog, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, dsn, WithLogger(log))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func cloneResult(r throw.Result) throw.Result {
	out := r
	out.Images = append([]throw.Image(nil), r.Images...)
	out.Infractions = append([]throw.Infraction(nil), r.Infractions...)
	return out
}
