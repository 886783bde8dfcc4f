// Package snapshot exports point-in-time encrypted snapshots of resolved
// secret views to S3-compatible object storage.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// ObjectInfo describes a stored snapshot object.
type ObjectInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag"`
}

// ObjectStorage is the storage surface the snapshot service needs.
type ObjectStorage interface {
	// Upload stores data at objectPath.
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) error

	// List returns all objects under prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Health checks reachability of the backend.
	Health(ctx context.Context) error
}

// StorageConfig holds object storage connection settings.
type StorageConfig struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Storage implements ObjectStorage on MinIO/S3.
type Storage struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

// NewStorage creates a MinIO-backed snapshot storage.
func NewStorage(cfg StorageConfig, logger zerolog.Logger) (*Storage, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return &Storage{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "snapshot_storage").Logger(),
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info().Str("bucket", s.bucket).Msg("created bucket")
	}
	return nil
}

// Upload stores data at objectPath.
func (s *Storage) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectPath,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}

	s.logger.Info().
		Str("path", objectPath).
		Int("size", len(data)).
		Msg("uploaded snapshot")
	return nil
}

// List returns all objects under prefix.
func (s *Storage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	objectsCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectsCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing snapshots: %w", object.Err)
		}
		out = append(out, ObjectInfo{
			Path:         object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ETag:         object.ETag,
		})
	}
	return out, nil
}

// Health checks reachability of the backend.
func (s *Storage) Health(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}
