package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Gobusters/ectologger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3Store writes blobs to an S3 compatible bucket (AWS, MinIO).
type S3Store struct {
	client *s3.Client
	bucket string
	logger ectologger.Logger
}

func NewS3Store(ctx context.Context, cfg Config, logger ectologger.Logger) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 blob backend requires a bucket")
	}

	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			// MinIO needs path-style addressing
			o.UsePathStyle = true
		}
	})

	logger.WithFields(map[string]any{"bucket": cfg.S3Bucket, "endpoint": cfg.S3Endpoint}).Info("S3 blob store initialized")

	return &S3Store{client: client, bucket: cfg.S3Bucket, logger: logger}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("key", key).Error("Failed to upload blob")
		return "", errors.Wrap(err, "s3 upload failed")
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrap(err, "s3 download failed")
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *S3Store) Close() error {
	return nil
}
