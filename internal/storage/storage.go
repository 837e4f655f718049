// Package storage keeps uploaded documents. The path returned by Put is what
// the document record stores and what Get later accepts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kiranshivaraju/cvscreen/internal/config"
)

var ErrObjectNotFound = errors.New("stored object not found")

// Blobs stores and loads document bytes.
type Blobs interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Blobs, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.LocalDir)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:      cfg.S3.Bucket,
			Region:      cfg.S3.Region,
			EndpointURL: cfg.S3.EndpointURL,
			AccessKey:   cfg.S3.AccessKey,
			SecretKey:   cfg.S3.SecretKey,
			Prefix:      cfg.S3.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
