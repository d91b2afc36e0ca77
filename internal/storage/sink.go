package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"website-extractor/pkg/types"
)

var (
	// ErrRootUnavailable means the crawl root directory could not be created.
	ErrRootUnavailable = errors.New("storage root unavailable")
	// ErrUnsafePath rejects relative paths that would escape the root.
	ErrUnsafePath = errors.New("path escapes storage root")
)

// Sink writes fetched resources to the local filesystem under a crawl root.
// Each URL maps to its own file, so writes need no cross-task locking; the
// mutex only serialises directory creation so each new directory is logged once.
type Sink struct {
	root   string
	logger *slog.Logger

	mu   sync.Mutex
	dirs map[string]struct{}
}

// NewSink constructs a filesystem sink rooted at root.
func NewSink(root string, logger *slog.Logger) (*Sink, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: root directory must be provided", ErrRootUnavailable)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{root: root, logger: logger, dirs: make(map[string]struct{})}, nil
}

// Root returns the directory the sink writes under.
func (s *Sink) Root() string {
	return s.root
}

// EnsureRoot creates the root directory, reusing it when it already exists.
func (s *Sink) EnsureRoot() error {
	if err := s.ensureDir(s.root); err != nil {
		return fmt.Errorf("%w: %v", ErrRootUnavailable, err)
	}
	return nil
}

// Write persists data at rel below the root. The file is written to a
// temporary name in the same directory and renamed into place.
func (s *Sink) Write(ctx context.Context, rel string, data []byte) (types.StoredResource, error) {
	if err := ctx.Err(); err != nil {
		return types.StoredResource{}, err
	}
	rel = filepath.FromSlash(rel)
	if !filepath.IsLocal(rel) {
		return types.StoredResource{}, fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	fullPath := filepath.Join(s.root, rel)
	dir := filepath.Dir(fullPath)
	if err := s.ensureDir(dir); err != nil {
		return types.StoredResource{}, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return types.StoredResource{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return types.StoredResource{}, fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return types.StoredResource{}, fmt.Errorf("close file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return types.StoredResource{}, fmt.Errorf("chmod file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return types.StoredResource{}, fmt.Errorf("rename file: %w", err)
	}
	return types.StoredResource{Path: fullPath, Size: int64(len(data))}, nil
}

func (s *Sink) ensureDir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirs[dir]; ok {
		return nil
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("%s exists and is not a directory", dir)
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		s.logger.Info("created directory", "path", dir)
	default:
		return err
	}
	s.dirs[dir] = struct{}{}
	return nil
}
