package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/studyloop/platform/metrics"
)

// Filesystem stores objects as plain files under a root directory.
type Filesystem struct {
	root   string
	logger *slog.Logger
}

// NewFilesystem creates the root directory if needed and returns a store
// rooted at its canonical path.
func NewFilesystem(root string, logger *slog.Logger) (*Filesystem, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize storage root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filesystem{root: canonical, logger: logger}, nil
}

// resolve runs the full path safety check for one operation.
func (s *Filesystem) resolve(logical string) (string, error) {
	p, err := resolveUnder(s.root, logical)
	if err != nil {
		metrics.UnsafePathRejections.Inc()
		return "", err
	}
	if err := verifyResolved(s.root, p); err != nil {
		if errors.Is(err, ErrUnsafePath) {
			metrics.UnsafePathRejections.Inc()
		}
		return "", err
	}
	return p, nil
}

// Save writes data under the logical path, creating parent directories as
// needed.
func (s *Filesystem) Save(ctx context.Context, logicalPath string, data []byte) (Ref, error) {
	p, err := s.resolve(logicalPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		metrics.StorageOperations.WithLabelValues("local", "save", "error").Inc()
		return "", fmt.Errorf("failed to create parent directories for %q: %w", logicalPath, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		metrics.StorageOperations.WithLabelValues("local", "save", "error").Inc()
		return "", fmt.Errorf("failed to write %q: %w", logicalPath, err)
	}

	cleaned, _ := cleanLogical(logicalPath)
	s.logger.DebugContext(ctx, "saved file", "path", cleaned, "bytes", len(data))
	metrics.StorageOperations.WithLabelValues("local", "save", "ok").Inc()
	return Ref(cleaned), nil
}

// Path returns the on-disk location of the referenced object.
func (s *Filesystem) Path(ctx context.Context, ref Ref) (string, error) {
	p, err := s.resolve(string(ref))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, ref)
		}
		return "", fmt.Errorf("failed to stat %q: %w", ref, err)
	}
	metrics.StorageOperations.WithLabelValues("local", "read", "ok").Inc()
	return p, nil
}

// Delete removes the referenced file, reporting whether it existed.
func (s *Filesystem) Delete(ctx context.Context, ref Ref) (bool, error) {
	p, err := s.resolve(string(ref))
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		metrics.StorageOperations.WithLabelValues("local", "delete", "error").Inc()
		return false, fmt.Errorf("failed to delete %q: %w", ref, err)
	}
	metrics.StorageOperations.WithLabelValues("local", "delete", "ok").Inc()
	return true, nil
}

// Exists reports whether the referenced file is present.
func (s *Filesystem) Exists(ctx context.Context, ref Ref) (bool, error) {
	p, err := s.resolve(string(ref))
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %q: %w", ref, err)
	}
	return true, nil
}
