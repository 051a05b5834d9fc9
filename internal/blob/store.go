// Package blob uploads rendered cards and mints time-limited download links.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectExists is returned when an upload would overwrite an existing
// object. Purchases never replace a delivered card in place.
var ErrObjectExists = errors.New("object already exists")

// Store talks to an S3-compatible bucket holding delivered cards.
type Store struct {
	client *minio.Client
	bucket string
}

// Config mirrors the S3_* environment settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewStore(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Upload writes data to path. Fails with ErrObjectExists if the key is
// already taken rather than silently replacing it.
func (s *Store) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return ErrObjectExists
	}
	if resp := minio.ToErrorResponse(err); resp.Code != "NoSuchKey" && resp.Code != "NotFound" {
		return fmt.Errorf("stat object %s: %w", path, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload object %s: %w", path, err)
	}
	log.Printf("[Blob] Uploaded %s (%d bytes)", path, len(data))
	return nil
}

// SignedURL mints a time-limited GET link for an uploaded object.
func (s *Store) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, path, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", path, err)
	}
	return u.String(), nil
}
