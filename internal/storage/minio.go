package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/fauna/internal/config"
)

const artifactPrefix = "artifacts/"

// ErrForeignURL is returned for URLs that do not point into the artifact bucket.
var ErrForeignURL = errors.New("url is outside the artifact bucket")

// MinIOStore is a content-addressed artifact store. Objects are keyed by the
// SHA-256 of their bytes and addressed by public URL.
type MinIOStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(cfg.PublicURL, "/") + "/" + cfg.Bucket + "/",
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// Put stores data under its content hash and returns the public URL.
// Storing identical bytes twice yields the same URL.
func (s *MinIOStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	key := ContentKey(data, contentType)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.baseURL + key, nil
}

// Fetch reads the object behind an artifact URL.
func (s *MinIOStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	key, err := KeyFromURL(s.baseURL, url)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the object behind an artifact URL.
func (s *MinIOStore) Delete(ctx context.Context, url string) error {
	key, err := KeyFromURL(s.baseURL, url)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Ping checks MinIO connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// ContentKey derives the object key for a blob from its bytes.
func ContentKey(data []byte, contentType string) string {
	sum := sha256.Sum256(data)
	return artifactPrefix + hex.EncodeToString(sum[:]) + extensionFor(contentType)
}

// KeyFromURL strips the bucket base URL from an artifact URL.
func KeyFromURL(baseURL, url string) (string, error) {
	if !strings.HasPrefix(url, baseURL) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	key := strings.TrimPrefix(url, baseURL)
	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	return key, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
