package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/logger"
	"github.com/okian/mjolnir/pkg/metrics"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

const schema = `
CREATE TABLE IF NOT EXISTS throws (
	id        TEXT PRIMARY KEY,
	ts        INTEGER NOT NULL,
	seq       INTEGER NOT NULL,
	distance  REAL    NOT NULL,
	payload   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS throws_seq ON throws (seq DESC);
`

const upsertThrow = `
INSERT INTO throws (id, ts, seq, distance, payload)
VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM throws), ?, ?)
ON CONFLICT (id) DO UPDATE SET
	ts = excluded.ts,
	seq = excluded.seq,
	distance = excluded.distance,
	payload = excluded.payload
`

// SQLite is a Catalog persisted in a SQLite database.
type SQLite struct {
	db     *sql.DB
	logger logger.Logger
	closed atomic.Bool
}

// OpenSQLite opens (creating when needed) the database at dsn and applies
// the schema.
func OpenSQLite(ctx context.Context, dsn string, opts ...Option) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", dsn, err)
	}
	// One connection keeps writes serialized and lets ":memory:" databases
	// be shared by every query.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, logger: logger.Get().Named("catalog")}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if n, err := s.Count(ctx); err == nil {
		metrics.UpdateCatalogSize(n)
		s.logger.Info(ctx, "sqlite catalog opened", logger.String("dsn", dsn), logger.Int("throws", n))
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}
	return nil
}

// Record implements Catalog.
func (s *SQLite) Record(ctx context.Context, result throw.Result) error {
	if s.closed.Load() {
		return ErrClosed
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode throw %s: %w", result.ThrowID, err)
	}
	if _, err := s.db.ExecContext(ctx, upsertThrow,
		result.ThrowID.String(), result.Timestamp.UnixNano(), result.Distance, string(payload)); err != nil {
		metrics.RecordErrorByComponent("catalog", "write_failed")
		return fmt.Errorf("record throw %s: %w", result.ThrowID, err)
	}
	if n, err := s.Count(ctx); err == nil {
		metrics.UpdateCatalogSize(n)
	}
	return nil
}

// Latest implements Catalog.
func (s *SQLite) Latest(ctx context.Context) (throw.Result, error) {
	return s.queryOne(ctx, `SELECT payload FROM throws ORDER BY seq DESC LIMIT 1`)
}

// Get implements Catalog.
func (s *SQLite) Get(ctx context.Context, id uuid.UUID) (throw.Result, error) {
	return s.queryOne(ctx, `SELECT payload FROM throws WHERE id = ?`, id.String())
}

func (s *SQLite) queryOne(ctx context.Context, query string, args ...any) (throw.Result, error) {
	if s.closed.Load() {
		return throw.Result{}, ErrClosed
	}
	var payload string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("catalog", "not_found")
		return throw.Result{}, ErrNotFound
	}
	if err != nil {
		return throw.Result{}, fmt.Errorf("query catalog: %w", err)
	}
	return decode(payload)
}

// Recent implements Catalog.
func (s *SQLite) Recent(ctx context.Context, n int) ([]throw.Result, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if n <= 0 {
		metrics.RecordErrorByComponent("catalog", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM throws ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]throw.Result, 0, n)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan catalog: %w", err)
		}
		r, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return out, nil
}

// Count implements Catalog.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM throws`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count catalog: %w", err)
	}
	return n, nil
}

// Close implements Catalog.
func (s *SQLite) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func decode(payload string) (throw.Result, error) {
	var r throw.Result
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return throw.Result{}, fmt.Errorf("decode catalog payload: %w", err)
	}
	return r, nil
}
