package blobstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	s, err := NewFilesystem(t.TempDir(), testLogger())
	require.NoError(t, err)
	return s
}

func TestFilesystem_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestFilesystem(t)
	ctx := context.Background()
	data := []byte("study notes")

	ref, err := s.Save(ctx, "a/b.txt", data)
	require.NoError(t, err)
	assert.Equal(t, Ref("a/b.txt"), ref)

	p, err := s.Path(ctx, ref)
	require.NoError(t, err)
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	exists, err := s.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, exists)

	existed, err := s.Delete(ctx, ref)
	require.NoError(t, err)
	assert.True(t, existed)

	exists, err = s.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again reports the object was already gone.
	existed, err = s.Delete(ctx, ref)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestFilesystem_PathForMissingObject(t *testing.T) {
	t.Parallel()

	s := newTestFilesystem(t)

	_, err := s.Path(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystem_RejectsTraversalBeforeAnyIO(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := NewFilesystem(root, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	const evil = "../../etc/passwd"

	_, err = s.Save(ctx, evil, []byte("x"))
	assert.ErrorIs(t, err, ErrUnsafePath)

	_, err = s.Path(ctx, Ref(evil))
	assert.ErrorIs(t, err, ErrUnsafePath)

	_, err = s.Delete(ctx, Ref(evil))
	assert.ErrorIs(t, err, ErrUnsafePath)

	_, err = s.Exists(ctx, Ref(evil))
	assert.ErrorIs(t, err, ErrUnsafePath)

	// Nothing was written outside the root.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFilesystem_RejectsSymlinkEscape(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()
	s, err := NewFilesystem(root, testLogger())
	require.NoError(t, err)

	// A symlink inside the root pointing outside must not be followed.
	require.NoError(t, os.Symlink(outside, filepath.Join(s.root, "escape")))

	_, err = s.Save(context.Background(), "escape/creds.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsafePath)

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFilesystem_SaveOverwrites(t *testing.T) {
	t.Parallel()

	s := newTestFilesystem(t)
	ctx := context.Background()

	_, err := s.Save(ctx, "notes.txt", []byte("v1"))
	require.NoError(t, err)
	ref, err := s.Save(ctx, "notes.txt", []byte("v2"))
	require.NoError(t, err)

	p, err := s.Path(ctx, ref)
	require.NoError(t, err)
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}
