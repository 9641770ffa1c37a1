// Package blob stores raw source bytes. Keys are content addressed, so every
// backend treats a second Put of the same key as an overwrite with equal bytes.
package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
)

const (
	BackendFS  = "fs"
	BackendS3  = "s3"
	BackendGCS = "gcs"
)

// Store persists and retrieves blobs by key.
type Store interface {
	// Put writes data under key and returns the backend-specific location.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

type Config struct {
	Backend string

	// fs
	Dir string

	// s3
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	// gcs
	GCSBucket          string
	GCSCredentialsFile string
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg Config, logger ectologger.Logger) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendFS:
		return NewFSStore(cfg.Dir)
	case BackendS3:
		return NewS3Store(ctx, cfg, logger)
	case BackendGCS:
		return NewGCSStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
