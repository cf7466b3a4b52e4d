// Package storage mirrors generated assets into object storage. Provider
// asset URLs tend to expire; mirroring gives the UI a durable reference.
// Mirroring is best-effort: on any failure the caller keeps the original
// provider URL.
package storage

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/brandmill/brandmill/internal/config"
)

// Storage provides object storage operations
type Storage struct {
	client     *minio.Client
	httpClient *http.Client
	bucketName string
}

// New creates a new storage client
func New(cfg config.StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		bucketName: cfg.BucketName,
	}, nil
}

// MirrorAsset downloads an asset from its provider URL and stores a copy
// under the user's prefix, returning a presigned URL for the copy
func (s *Storage) MirrorAsset(ctx context.Context, userID, assetURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("asset download returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	objectName := fmt.Sprintf("%s/%s%s", userID, uuid.New().String(), extensionFor(assetURL, contentType))

	_, err = s.client.PutObject(ctx, s.bucketName, objectName, resp.Body, resp.ContentLength, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload mirrored asset: %w", err)
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, 7*24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign mirrored asset: %w", err)
	}

	return presigned.String(), nil
}

// Delete removes a mirrored object
func (s *Storage) Delete(ctx context.Context, objectName string) error {
	if err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// extensionFor picks an object extension from the source URL path,
// falling back to the response content type
func extensionFor(assetURL, contentType string) string {
	if u, err := url.Parse(assetURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return ext
		}
	}

	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}

	return ""
}
