package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrObjectNotFound is returned when a blob does not exist
var ErrObjectNotFound = errors.New("object not found")

// BlobStore persists opaque binary objects, keyed by path-like strings.
// Used for campaign call recordings.
type BlobStore interface {
	Put(ctx context.Context, key string, content io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// NewBlobStore constructs the blob store selected by the configuration
func NewBlobStore(cfg Config) (BlobStore, error) {
	switch cfg.RecordingsBackend {
	case "filesystem":
		return NewFilesystemStore(cfg.FilesystemRoot)
	case "s3":
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("invalid recordings backend: %s (must be filesystem or s3)", cfg.RecordingsBackend)
	}
}
