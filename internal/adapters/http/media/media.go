// Package media serves committed throw artifacts read-only.
package media

import (
	"context"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/okian/mjolnir/pkg/logger"
)

// Register mounts the storage root at prefix on mux. Only GET and HEAD are
// routed; directory listings and dot-prefixed names are never served.
func Register(ctx context.Context, mux *http.ServeMux, prefix, root string) {
	if mux == nil {
		panic("mux is nil")
	}
	mount := path.Join("/", prefix) + "/"
	files := http.StripPrefix(strings.TrimSuffix(mount, "/"), Handler(root))
	mux.Handle("GET "+mount, files)
	logger.Get().Named("media").Debug(ctx, "media mounted",
		logger.String("prefix", mount),
		logger.String("root", root),
	)
}

// Handler returns a file server over root that hides directories and
// dot-prefixed names.
func Handler(root string) http.Handler {
	return http.FileServer(filesOnly{http.Dir(root)})
}

// filesOnly wraps a FileSystem so that anything other than a regular file
// reached through visible path segments reports fs.ErrNotExist.
type filesOnly struct {
	http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return nil, fs.ErrNotExist
		}
	}
	file, err := f.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}
