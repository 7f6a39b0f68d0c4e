package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrBucketNotFound is returned when the configured MinIO bucket is missing.
var ErrBucketNotFound = errors.New("storage: bucket does not exist")

// MinIOConfig holds the configuration for a MinIO (or other S3-compatible)
// object store.
type MinIOConfig struct {
	Endpoint  string // host:port, no scheme
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// MinIOStorage keeps working files on local disk and publishes artifacts
// to a MinIO bucket.
type MinIOStorage struct {
	*LocalStorage
	client *minio.Client
	bucket string
}

// NewMinIOStorage creates a new MinIOStorage rooted at tempDir. No network
// call is made; use EnsureBucket to verify the bucket.
func NewMinIOStorage(tempDir string, cfg MinIOConfig) (*MinIOStorage, error) {
	local, err := NewLocalStorage(tempDir)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStorage{LocalStorage: local, client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket checks that the bucket exists.
func (s *MinIOStorage) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, s.bucket)
	}
	return nil
}

// Upload puts the artifact into the bucket and returns its URL.
func (s *MinIOStorage) Upload(ctx context.Context, key, contentType string, data io.Reader, size int64) (string, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, data, size, opts); err != nil {
		return "", fmt.Errorf("upload to minio: %w", err)
	}
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucket, key), nil
}

// RemoteEnabled returns true.
func (s *MinIOStorage) RemoteEnabled() bool {
	return true
}
