package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/maauso/geoseq/internal/apperr"
)

var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
	// ErrInvalidRef is returned when a remote reference cannot be parsed.
	ErrInvalidRef = errors.New("invalid storage reference")
)

// LocalStorage implements the Storage interface using local disk.
// It resolves local paths only and does not support S3 operations unless
// wrapped with S3Storage.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// The tempDir parameter specifies where temporary files are stored.
// If tempDir is empty, os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "geoseq")
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// Fetch returns the absolute path of a local file. Remote refs fail with
// ErrS3NotConfigured.
func (s *LocalStorage) Fetch(ctx context.Context, ref string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if IsRemote(ref) {
		return "", ErrS3NotConfigured
	}

	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", apperr.ErrPath, ref, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("%w: %s does not exist", apperr.ErrPath, ref)
	}
	return abs, nil
}

// saveTemp writes data to <tempDir>/<unique>/<name> so the original file name,
// which names sampled frames, survives the download.
func (s *LocalStorage) saveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dir := filepath.Join(s.tempDir, "fetch_"+uuid.NewString())
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create temp directory: %w", err)
	}

	fileName := filepath.Join(dir, filepath.Base(name))
	f, err := os.Create(fileName) // #nosec G304 - name is reduced to its base
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// CleanupTemp removes the specified temporary files, along with the
// download directory that held them once it is empty.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
			continue
		}
		if dir := filepath.Dir(p); filepath.Dir(dir) == filepath.Clean(s.tempDir) {
			_ = os.Remove(dir)
		}
	}
	return firstErr
}

// Publish is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) Publish(_ context.Context, _, _ string) (string, error) {
	return "", ErrS3NotConfigured
}
