package blob

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GCSStore writes blobs to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger ectologger.Logger
}

func NewGCSStore(ctx context.Context, cfg Config, logger ectologger.Logger) (*GCSStore, error) {
	if cfg.GCSBucket == "" {
		return nil, fmt.Errorf("gcs blob backend requires a bucket")
	}

	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCS storage client")
	}

	logger.WithField("bucket", cfg.GCSBucket).Info("GCS blob store initialized")

	return &GCSStore{client: client, bucket: cfg.GCSBucket, logger: logger}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		s.logger.WithContext(ctx).WithError(err).WithField("key", key).Error("Failed to upload blob")
		return "", errors.Wrap(err, "gcs upload failed")
	}
	if err := writer.Close(); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("key", key).Error("Failed to finalize blob")
		return "", errors.Wrap(err, "gcs upload failed")
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gcs download failed")
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
