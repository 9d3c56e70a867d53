package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"vidgen/logging"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var errReleased = errors.New("resources already released")

// Resources owns every temporary file of one task. Paths are registered when allocated and
// removed by ReleaseAll, which the controller defers right after construction.
type Resources struct {
	dir string
	log zerolog.Logger

	mu       sync.Mutex
	paths    map[string]struct{}
	released bool
}

// NewResources creates the per-task working directory under baseDir (the system temp dir
// when empty).
func NewResources(baseDir, taskID string, logger zerolog.Logger) (*Resources, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, err
		}
	}
	dir, err := os.MkdirTemp(baseDir, "vidgen-"+safeName(taskID)+"-")
	if err != nil {
		return nil, fmt.Errorf("create task directory: %w", err)
	}
	return &Resources{
		dir:   dir,
		log:   logging.WithComponent(logger, "resources"),
		paths: make(map[string]struct{}),
	}, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, s)
}

// Dir is the per-task working directory.
func (r *Resources) Dir() string { return r.dir }

// CreateTemp allocates and registers a unique path such as <dir>/<kind>_<uuid>.<ext>.
// The file itself is not created.
func (r *Resources) CreateTemp(kind, ext string) (string, error) {
	name := kind + "_" + uuid.NewString()
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	p := filepath.Join(r.dir, name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return "", errReleased
	}
	r.paths[p] = struct{}{}
	return p, nil
}

// Track registers a path created elsewhere.
func (r *Resources) Track(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.released {
		r.paths[path] = struct{}{}
	}
}

// Release deletes one registered path. A file that was never written is not an error.
func (r *Resources) Release(path string) error {
	r.mu.Lock()
	delete(r.paths, path)
	r.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Len is the number of registered paths.
func (r *Resources) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

// Promote unregisters path and moves it to dst, so ReleaseAll leaves the deliverable alone.
func (r *Resources) Promote(path, dst string) error {
	r.mu.Lock()
	delete(r.paths, path)
	r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(path, dst); err == nil {
		return nil
	}

	// Rename fails across filesystems; fall back to copy and delete.
	if err := copyFile(path, dst); err != nil {
		r.Track(path)
		return fmt.Errorf("promote %s: %w", filepath.Base(path), err)
	}
	if err := os.Remove(path); err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("remove promoted source")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// ReleaseAll deletes every registered path and the task directory. Failures are logged and
// skipped. Calls after the first do nothing.
func (r *Resources) ReleaseAll() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	paths := r.paths
	r.paths = make(map[string]struct{})
	r.mu.Unlock()

	for p := range paths {
		if err := os.RemoveAll(p); err != nil {
			r.log.Warn().Err(err).Str("path", p).Msg("release temp file")
		}
	}
	if err := os.RemoveAll(r.dir); err != nil {
		r.log.Warn().Err(err).Str("dir", r.dir).Msg("release task directory")
		return
	}
	r.log.Debug().Int("files", len(paths)).Str("dir", r.dir).Msg("released task resources")
}
