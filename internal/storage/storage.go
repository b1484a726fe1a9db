// Package storage resolves input references to local files and publishes
// built archives. It defines the Storage interface and implementations for
// local disk and S3.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Storage defines the interface for fetching inputs and publishing outputs.
type Storage interface {
	// Fetch resolves ref to a local file path. Local paths must exist.
	// Remote refs (s3://bucket/key) are downloaded into the temp directory
	// and should be released with CleanupTemp.
	Fetch(ctx context.Context, ref string) (path string, err error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Publish uploads a local file under key and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	Publish(ctx context.Context, localPath, key string) (url string, err error)
}

const s3Scheme = "s3://"

// IsRemote returns true if ref names an object store location.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, s3Scheme)
}

// ParseS3Ref splits an s3://bucket/key reference.
func ParseS3Ref(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, s3Scheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return bucket, key, nil
}
