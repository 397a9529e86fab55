// Package avatars mirrors provider avatar images into object storage so
// linked records do not depend on the provider's CDN staying reachable.
// Mirroring is best-effort: every failure falls back to the provider URL.
package avatars

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	fetchTimeout = 10 * time.Second
	servedExpiry = 7 * 24 * time.Hour
)

// Store is a thin wrapper around the minio client used for avatar objects.
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore creates a MinIO-backed avatar store and ensures the bucket exists.
func NewStore(cfg *Config) (*Store, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	s := &Store{client: mc, bucket: cfg.Bucket}
	// ensure bucket exists (idempotent)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		// ignore "already exists" style errors
		exist, xerr := mc.BucketExists(ctx, s.bucket)
		if xerr != nil || !exist {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return s, nil
}

// Mirror fetches the provider avatar and stores it under the record's public
// identifier, returning a presigned URL for the mirrored copy. On any error
// the provider URL is returned unchanged so the caller can store it as-is.
func (s *Store) Mirror(ctx context.Context, publicID, providerURL string) (string, error) {
	if providerURL == "" {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, providerURL, nil)
	if err != nil {
		return providerURL, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return providerURL, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return providerURL, fmt.Errorf("avatar fetch returned %d", resp.StatusCode)
	}

	key := "avatars/" + publicID
	contentType := resp.Header.Get("Content-Type")
	_, err = s.client.PutObject(ctx, s.bucket, key, resp.Body, resp.ContentLength,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return providerURL, fmt.Errorf("avatar upload: %w", err)
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, servedExpiry, url.Values{})
	if err != nil {
		return providerURL, fmt.Errorf("avatar presign: %w", err)
	}
	return presigned.String(), nil
}
