package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kozaktomas/pixpursuit/internal/config"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// S3Store is an ObjectStore backed by DigitalOcean Spaces or any S3 API.
type S3Store struct {
	client   *minio.Client
	bucket   string
	endpoint string // scheme://host, used to build public URLs
}

// NewS3Store creates a client for cfg. It does not contact the server.
func NewS3Store(cfg config.StorageConfig) (*S3Store, error) {
	endpoint := cfg.Endpoint
	secure := true
	var publicBase string
	// Accept both a bare host and a full URL
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
		publicBase = u.Scheme + "://" + u.Host
	} else {
		publicBase = "https://" + endpoint
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	client.SetAppInfo("pixpursuit", "1.0")

	return &S3Store{client: client, bucket: cfg.Bucket, endpoint: strings.TrimRight(publicBase, "/")}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	log.Info().Str("bucket", s.bucket).Msg("bucket created")
	return nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	err := retry(ctx, "put_object", func() error {
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{"x-amz-acl": "public-read"},
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.URL(key), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	err := retry(ctx, "remove_object", func() error {
		return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URL returns <endpoint>/<bucket>/<key>.
func (s *S3Store) URL(key string) string {
	return s.endpoint + "/" + s.bucket + "/" + key
}

// HealthCheck verifies the credentials by checking the bucket.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
