package objstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

func newConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{
		useSSL: false,
	}

	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

type minioStore struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioStore(opts ...MinioOpts) (Store, error) {
	cfg := newConfig(opts...)

	minioClient, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, err
	}

	return &minioStore{cfg: cfg, client: minioClient}, nil
}

func (s *minioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", s.cfg.bucket, err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.cfg.bucket, minio.MakeBucketOptions{}); err != nil {
		// another instance may have created it between the two calls
		if exists, existsErr := s.client.BucketExists(ctx, s.cfg.bucket); existsErr == nil && exists {
			return nil
		}
		return fmt.Errorf("failed to create bucket %q: %w", s.cfg.bucket, err)
	}
	return nil
}

func (s *minioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*PutResult, error) {
	info, err := s.client.PutObject(ctx, s.cfg.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, err
	}

	return &PutResult{
		ObjectKey: key,
		ETag:      info.ETag,
		Location:  fmt.Sprintf("%s/%s/%s", s.client.EndpointURL(), s.cfg.bucket, key),
		Size:      info.Size,
	}, nil
}

func (s *minioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.cfg.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	// GetObject is lazy, Stat surfaces a missing key before the first read
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return object, nil
}

func (s *minioStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.cfg.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *minioStore) Remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.cfg.bucket, key, minio.RemoveObjectOptions{})
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}
