// Package store resolves dataset keys to local files on a filesystem or S3 backend.
package store

import (
	"context"
	"errors"
	"fmt"

	"climatedata-api/internal/config"
)

var (
	// ErrInvalidKey indicates a key that is empty or would escape the store root.
	ErrInvalidKey = errors.New("invalid key")
	// ErrNotFound indicates the key does not exist.
	ErrNotFound = errors.New("object not found")
)

// Store is the backing store for array files. Keys are slash-separated and
// relative to the store root.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Fetch makes key readable as a local file. The returned release func
	// must be called once the file is no longer needed.
	Fetch(ctx context.Context, key string) (path string, release func(), err error)
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "fs", "":
		return NewFS(cfg.Root)
	case "s3":
		client, err := NewClient(ctx, ClientConfig{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			UsePathStyle:    cfg.S3.UsePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 client: %w", err)
		}
		return NewS3(client, S3Config{
			Bucket:  cfg.S3.Bucket,
			Prefix:  cfg.S3.Prefix,
			TempDir: cfg.TempDir,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
