// Package blobstore maps logical relative paths to bytes.
//
// Both implementations reject any logical path that would resolve outside
// the configured root before performing any filesystem or network call.
// Unlike package ratelimit, this layer fails closed: errors from the
// production backend propagate to the caller, and there is no silent
// fallback to a different root, because that could read or write the
// wrong location. Durability is whatever the chosen backend natively
// provides.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned when a logical path fails the traversal check.
// The error names the logical path only, never the resolved location.
var ErrUnsafePath = errors.New("path resolves outside the storage root")

// ErrNotFound is returned when a stored object does not exist.
var ErrNotFound = errors.New("stored object not found")

// Ref is a validated logical path identifying a stored object. Every
// operation re-validates it; persisted layout behind a Ref is not
// guaranteed stable across versions.
type Ref string

// Store maps logical relative paths to bytes.
type Store interface {
	// Save writes data under the logical path and returns its reference.
	Save(ctx context.Context, logicalPath string, data []byte) (Ref, error)

	// Path returns a local readable path for the referenced object.
	Path(ctx context.Context, ref Ref) (string, error)

	// Delete removes the referenced object, reporting whether it existed.
	Delete(ctx context.Context, ref Ref) (bool, error)

	// Exists reports whether the referenced object is present.
	Exists(ctx context.Context, ref Ref) (bool, error)
}

// cleanLogical normalizes a caller-supplied POSIX-style relative path and
// rejects anything that escapes a storage root lexically. The returned
// path is slash-separated and suitable as an object key.
func cleanLogical(logical string) (string, error) {
	if logical == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	if strings.ContainsRune(logical, 0) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, logical)
	}
	if path.IsAbs(logical) || filepath.IsAbs(logical) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, logical)
	}

	cleaned := path.Clean(logical)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, logical)
	}
	return cleaned, nil
}

// resolveUnder joins root with the logical path and verifies the cleaned
// result is a descendant of root. The comparison uses filepath.Rel on the
// canonical forms, not substring matching on the raw path.
func resolveUnder(root, logical string) (string, error) {
	cleaned, err := cleanLogical(logical)
	if err != nil {
		return "", err
	}

	candidate := filepath.Join(root, filepath.FromSlash(cleaned))
	if err := within(root, candidate); err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, logical)
	}
	return candidate, nil
}

// within reports whether p is root or a descendant of root.
func within(root, p string) error {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrUnsafePath
	}
	return nil
}

// verifyResolved canonicalizes the deepest existing ancestor of p,
// resolving any symlinks, and verifies the canonical form still sits
// under root. This runs before any I/O on p.
func verifyResolved(root, p string) error {
	existing := p
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}

	canonical, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return fmt.Errorf("failed to canonicalize storage path: %w", err)
	}
	if err := within(root, canonical); err != nil {
		return fmt.Errorf("%w: symlinked location", ErrUnsafePath)
	}
	return nil
}
