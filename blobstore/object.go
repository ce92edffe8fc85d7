package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/studyloop/platform/config"
	"github.com/studyloop/platform/metrics"
)

// Object stores blobs in an S3-compatible object store, caching downloads
// locally so repeated reads of the same path skip the network.
type Object struct {
	client   *minio.Client
	bucket   string
	cacheDir string
	logger   *slog.Logger
}

// NewObject constructs the remote backend from storage configuration and
// verifies the bucket is reachable. Missing identifiers or an unreachable
// store are initialization errors the backend selector converts into a
// fallback to the filesystem store.
func NewObject(cfg config.StorageConfig, logger *slog.Logger) (*Object, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: object store endpoint is required", config.ErrInvalid)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: object store bucket is required", config.ErrInvalid)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to reach object store: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("object store bucket %q does not exist", cfg.Bucket)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "studyloop-blobcache")
	}
	abs, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize cache directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Object{
		client:   client,
		bucket:   cfg.Bucket,
		cacheDir: canonical,
		logger:   logger,
	}, nil
}

// validate runs the path safety check and returns the object key and the
// local cache path for a logical path. The cache path gets the same
// symlink canonicalization as the filesystem store: a symlink planted
// under the cache directory must not redirect reads or invalidations
// outside it. No network call happens before this check passes.
func (s *Object) validate(logical string) (key, cachePath string, err error) {
	key, err = cleanLogical(logical)
	if err != nil {
		metrics.UnsafePathRejections.Inc()
		return "", "", err
	}
	cachePath, err = resolveUnder(s.cacheDir, key)
	if err != nil {
		metrics.UnsafePathRejections.Inc()
		return "", "", err
	}
	if err = verifyResolved(s.cacheDir, cachePath); err != nil {
		if errors.Is(err, ErrUnsafePath) {
			metrics.UnsafePathRejections.Inc()
		}
		return "", "", err
	}
	return key, cachePath, nil
}

// Save uploads data to the remote store and drops any stale cache entry
// for the path.
func (s *Object) Save(ctx context.Context, logicalPath string, data []byte) (Ref, error) {
	key, cachePath, err := s.validate(logicalPath)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		metrics.StorageOperations.WithLabelValues("remote", "save", "error").Inc()
		return "", fmt.Errorf("failed to upload %q: %w", key, err)
	}

	// The cached copy, if any, now disagrees with the remote object.
	if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
		s.logger.WarnContext(ctx, "failed to invalidate cache entry",
			"path", key,
			"error", err)
	}

	s.logger.DebugContext(ctx, "uploaded object", "path", key, "bytes", len(data))
	metrics.StorageOperations.WithLabelValues("remote", "save", "ok").Inc()
	return Ref(key), nil
}

// Path returns a local readable path for the referenced object,
// downloading it into the cache directory on first access. Subsequent
// reads of the same path reuse the cached copy without re-downloading.
func (s *Object) Path(ctx context.Context, ref Ref) (string, error) {
	key, cachePath, err := s.validate(string(ref))
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(cachePath); err == nil {
		metrics.StorageOperations.WithLabelValues("remote", "read", "cache_hit").Inc()
		return cachePath, nil
	}

	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directories for %q: %w", key, err)
	}
	if err := s.client.FGetObject(ctx, s.bucket, key, cachePath, minio.GetObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("%w: %q", ErrNotFound, ref)
		}
		metrics.StorageOperations.WithLabelValues("remote", "read", "error").Inc()
		return "", fmt.Errorf("failed to download %q: %w", key, err)
	}

	metrics.StorageOperations.WithLabelValues("remote", "read", "ok").Inc()
	return cachePath, nil
}

// Delete removes the remote object and any local cache entry, reporting
// whether the remote object existed.
func (s *Object) Delete(ctx context.Context, ref Ref) (bool, error) {
	key, cachePath, err := s.validate(string(ref))
	if err != nil {
		return false, err
	}

	existed, err := s.Exists(ctx, ref)
	if err != nil {
		return false, err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		metrics.StorageOperations.WithLabelValues("remote", "delete", "error").Inc()
		return false, fmt.Errorf("failed to delete %q: %w", key, err)
	}
	if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
		s.logger.WarnContext(ctx, "failed to remove cache entry",
			"path", key,
			"error", err)
	}

	metrics.StorageOperations.WithLabelValues("remote", "delete", "ok").Inc()
	return existed, nil
}

// Exists reports whether the referenced object is present in the remote
// store.
func (s *Object) Exists(ctx context.Context, ref Ref) (bool, error) {
	key, _, err := s.validate(string(ref))
	if err != nil {
		return false, err
	}

	_, err = s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %q: %w", key, err)
	}
	return true, nil
}
