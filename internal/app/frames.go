package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// FrameSource supplies the bytes of a frame by its file name.
type FrameSource interface {
	Frame(ctx context.Context, name string) (io.ReadCloser, error)
}

// PlaceholderSource serves the same image for every frame. It stands in for
// camera capture until real frames arrive through the ingest path.
type PlaceholderSource struct {
	path string
}

// NewPlaceholderSource returns a source reading the image at path.
func NewPlaceholderSource(path string) *PlaceholderSource {
	return &PlaceholderSource{path: path}
}

// Frame opens the placeholder image. A missing file yields an error matching
// both ErrPlaceholderMissing and fs.ErrNotExist.
func (p *PlaceholderSource) Frame(ctx context.Context, _ string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrPlaceholderMissing, p.path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open placeholder %s: %w", p.path, err)
	}
	return f, nil
}

// Check reports whether the placeholder is present and readable.
func (p *PlaceholderSource) Check(ctx context.Context) error {
	rc, err := p.Frame(ctx, "")
	if err != nil {
		return err
	}
	return rc.Close()
}

// MemorySource serves frames uploaded with a submission.
type MemorySource map[string][]byte

// Frame returns the named frame or ErrFrameMissing.
func (m MemorySource) Frame(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFrameMissing, name)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}
