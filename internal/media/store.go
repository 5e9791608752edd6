// Package media provides the MinIO-backed store for chat media payloads.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"chathub_backend/platform/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store reads and writes media payloads in an S3-compatible bucket.
type Store struct {
	client      *minio.Client
	bucket      string
	maxFileSize int64
}

// NewStore creates a media store over MinIO.
func NewStore(cfg config.MediaStoreConfig) (*Store, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Store{
		client:      client,
		bucket:      cfg.GetMinioBucketMedia(),
		maxFileSize: cfg.GetMinIOMaxFileSize(),
	}, nil
}

// EnsureBucket creates the media bucket if it doesn't exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
		}
	}

	return nil
}

// Fetch downloads one payload and returns its bytes and content type.
func (s *Store) Fetch(ctx context.Context, fileKey string) ([]byte, string, error) {
	if s == nil {
		return nil, "", fmt.Errorf("media store not configured")
	}

	obj, err := s.client.GetObject(ctx, s.bucket, fileKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get object %s: %w", fileKey, err)
	}
	defer func() { _ = obj.Close() }()

	stat, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat object %s: %w", fileKey, err)
	}
	if s.maxFileSize > 0 && stat.Size > s.maxFileSize {
		return nil, "", fmt.Errorf("object %s exceeds max payload size (%d > %d)", fileKey, stat.Size, s.maxFileSize)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object %s: %w", fileKey, err)
	}

	return data, stat.ContentType, nil
}

// Put uploads one payload under the given key.
func (s *Store) Put(ctx context.Context, fileKey string, data []byte, contentType string) error {
	if s == nil {
		return fmt.Errorf("media store not configured")
	}
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return fmt.Errorf("payload exceeds max size (%d > %d)", len(data), s.maxFileSize)
	}

	_, err := s.client.PutObject(ctx, s.bucket, fileKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", fileKey, err)
	}
	return nil
}
