package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"toko-catalog/internal/models"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds the connection details of the object store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string        // base URL images are served from; defaults to the endpoint
	Timeout   time.Duration // per call
}

// MinioStore is a Store backed by a MinIO (or any S3 compatible) bucket.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL *url.URL
	timeout time.Duration
}

// NewMinioStore connects to the object store and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("minio endpoint, access key and secret key are required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "product-images"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	base := cli.EndpointURL()
	if cfg.PublicURL != "" {
		if base, err = url.Parse(cfg.PublicURL); err != nil {
			return nil, fmt.Errorf("invalid public url %q: %w", cfg.PublicURL, err)
		}
	}

	return &MinioStore{client: cli, bucket: cfg.Bucket, baseURL: base, timeout: cfg.Timeout}, nil
}

// Upload puts the file under a fresh object name and returns its public URL.
func (s *MinioStore) Upload(ctx context.Context, localPath string) (models.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	objectName := objectNameFor(localPath)
	_, err := s.client.FPutObject(ctx, s.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(localPath),
	})
	if err != nil {
		return models.Image{}, fmt.Errorf("failed to upload %s: %w", filepath.Base(localPath), err)
	}
	return models.Image{
		URL:        s.baseURL.JoinPath(s.bucket, objectName).String(),
		ExternalID: objectName,
	}, nil
}

// Delete removes an object. Removing a missing object is not an error.
func (s *MinioStore) Delete(ctx context.Context, externalID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.RemoveObject(ctx, s.bucket, externalID, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", externalID, err)
	}
	return nil
}

// objectNameFor builds e.g. "products/2025-01-01/3f1c...e9.jpg".
func objectNameFor(localPath string) string {
	ext := strings.ToLower(filepath.Ext(localPath))
	return fmt.Sprintf("products/%s/%s%s", time.Now().UTC().Format("2006-01-02"), uuid.New().String(), ext)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
