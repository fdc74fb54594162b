package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/okian/mjolnir/pkg/logger"
)

// File permission constants. Artifacts are world-readable so the media
// server can run under a different user than the writer.
const (
	directoryPermission = 0o755
	filePermission      = 0o644
)

// StagingDir is the hidden directory under the root that holds in-flight
// throws. The media server refuses dot-prefixed paths.
const StagingDir = ".staging"

// Local stores artifacts on the local filesystem as <root>/<id>/<name>.
type Local struct {
	root   string
	logger logger.Logger

	// commitMu serializes the swap of a throw directory.
	commitMu sync.Mutex
}

// NewLocal creates a filesystem store rooted at root.
func NewLocal(root string, opts ...Option) *Local {
	l := &Local{root: filepath.Clean(root)}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.Get().Named("storage")
	}
	return l
}

// EnsureRoot creates the root and staging directories, including parents,
// and clears what an interrupted process left in the staging area. It must
// run before any transaction begins.
func (l *Local) EnsureRoot(ctx context.Context) error {
	if err := os.MkdirAll(l.stagingRoot(), directoryPermission); err != nil {
		return fmt.Errorf("storage: create root %s: %w", l.root, err)
	}
	if err := l.recoverStaging(ctx); err != nil {
		return err
	}
	l.logger.Debug(ctx, "storage root ready", logger.String("root", l.root))
	return nil
}

// recoverStaging removes abandoned staging directories. A replaced throw
// directory (".old") whose successor never landed is moved back into place.
func (l *Local) recoverStaging(ctx context.Context) error {
	entries, err := os.ReadDir(l.stagingRoot())
	if err != nil {
		return fmt.Errorf("storage: read staging area: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(l.stagingRoot(), e.Name())
		if id, ok := replacedID(e.Name()); ok && e.IsDir() {
			target := filepath.Join(l.root, id.String())
			if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
				if err := os.Rename(path, target); err != nil {
					return fmt.Errorf("storage: restore %s: %w", id, err)
				}
				l.logger.Warn(ctx, "restored replaced throw directory", logger.String("throwId", id.String()))
				continue
			}
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("storage: clear staging %s: %w", e.Name(), err)
		}
		l.logger.Info(ctx, "removed stale staging entry", logger.String("name", e.Name()))
	}
	return nil
}

// replacedID parses "<uuid>-<suffix>.old", the name swap gives a throw
// directory it moved aside.
func replacedID(name string) (uuid.UUID, bool) {
	const idLen = 36
	if !strings.HasSuffix(name, ".old") || len(name) <= idLen || name[idLen] != '-' {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(name[:idLen])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Root returns the storage root directory.
func (l *Local) Root() string { return l.root }

// Begin creates a private staging directory for id.
func (l *Local) Begin(ctx context.Context, id uuid.UUID) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.stagingRoot(), directoryPermission); err != nil {
		return nil, fmt.Errorf("storage: create staging area: %w", err)
	}
	dir, err := os.MkdirTemp(l.stagingRoot(), id.String()+"-*")
	if err != nil {
		return nil, fmt.Errorf("storage: begin %s: %w", id, err)
	}
	// MkdirTemp uses 0700; the committed directory must be readable.
	if err := os.Chmod(dir, directoryPermission); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("storage: begin %s: %w", id, err)
	}
	return &localTxn{store: l, id: id, dir: dir}, nil
}

// Open opens a committed artifact for reading.
func (l *Local) Open(ctx context.Context, id uuid.UUID, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.root, id.String(), name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("storage: %s/%s: %w", id, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s/%s: %w", id, name, err)
	}
	return f, nil
}

// List returns the ids of committed throw directories. Entries that are not
// UUID-named directories are ignored.
func (l *Local) List(ctx context.Context) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(l.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", l.root, err)
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := uuid.Parse(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (l *Local) stagingRoot() string {
	return filepath.Join(l.root, StagingDir)
}

// swap moves a staged directory into place, replacing any existing one.
func (l *Local) swap(ctx context.Context, id uuid.UUID, staged string) error {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	target := filepath.Join(l.root, id.String())
	var old string
	if _, err := os.Stat(target); err == nil {
		old = staged + ".old"
		if err := os.Rename(target, old); err != nil {
			return fmt.Errorf("storage: move aside %s: %w", id, err)
		}
		l.logger.Warn(ctx, "replacing existing throw directory", logger.String("throwId", id.String()))
	}
	if err := os.Rename(staged, target); err != nil {
		if old != "" {
			_ = os.Rename(old, target)
		}
		return fmt.Errorf("storage: commit %s: %w", id, err)
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			l.logger.Warn(ctx, "failed to remove replaced throw directory", logger.String("path", old), logger.Error(err))
		}
	}
	return nil
}

type localTxn struct {
	store *Local
	id    uuid.UUID
	dir   string

	mu   sync.Mutex
	done bool
}

// Put is safe for concurrent use with distinct names.
func (t *localTxn) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkName(name); err != nil {
		return 0, err
	}
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done {
		return 0, ErrTxnClosed
	}

	f, err := os.OpenFile(filepath.Join(t.dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermission)
	if err != nil {
		return 0, fmt.Errorf("storage: create %s/%s: %w", t.id, name, err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		return n, fmt.Errorf("storage: write %s/%s: %w", t.id, name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return n, fmt.Errorf("storage: sync %s/%s: %w", t.id, name, err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("storage: close %s/%s: %w", t.id, name, err)
	}
	return n, nil
}

func (t *localTxn) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.store.swap(ctx, t.id, t.dir); err != nil {
		return err
	}
	t.done = true
	return nil
}

func (t *localTxn) Abort(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	if err := os.RemoveAll(t.dir); err != nil {
		return fmt.Errorf("storage: abort %s: %w", t.id, err)
	}
	return nil
}

// checkName allows plain file names only.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
