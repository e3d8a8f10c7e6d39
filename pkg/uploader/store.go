package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// GCSStore uploads to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore opens a GCS client against the default application
// credentials and targets bucket.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("uploader: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put uploads path to key, skipping the write if an object already exists
// there.
func (s *GCSStore) Put(ctx context.Context, key, path string) (bool, error) {
	obj := s.client.Bucket(s.bucket).Object(key)
	if _, err := obj.Attrs(ctx); err == nil {
		return true, nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return false, fmt.Errorf("uploader: gcs head %s: %w", key, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("uploader: open %s: %w", path, err)
	}
	defer f.Close()

	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return false, fmt.Errorf("uploader: gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return false, fmt.Errorf("uploader: gcs close %s: %w", key, err)
	}
	return false, nil
}

// Close releases the GCS client.
func (s *GCSStore) Close() error { return s.client.Close() }

// S3Store uploads to an S3 bucket using manager.Uploader for multi-part,
// parallel transfer.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Store constructs an S3Store from a resolved AWS SDK config.
func NewS3Store(cfg aws.Config, bucket string) *S3Store {
	client := s3.NewFromConfig(cfg)
	return &S3Store{client: client, uploader: manager.NewUploader(client), bucket: bucket}
}

// Put uploads path to key, skipping the write if an object already exists
// there.
func (s *S3Store) Put(ctx context.Context, key, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return false, fmt.Errorf("uploader: s3 head %s: %w", key, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("uploader: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return false, fmt.Errorf("uploader: s3 upload %s: %w", key, err)
	}
	return false, nil
}
