package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

const outputContentType = "video/mp4"

type Storage struct {
	client       *miniogo.Client
	uploadBucket string
	outputBucket string
	outputTTL    int
}

type StorageConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UploadBucket string
	OutputBucket string
	// OutputTTLDays expires rendered videos after this many days. Zero keeps them.
	OutputTTLDays int
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{
		client:       client,
		uploadBucket: cfg.UploadBucket,
		outputBucket: cfg.OutputBucket,
		outputTTL:    cfg.OutputTTLDays,
	}, nil
}

func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.uploadBucket, s.outputBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}

	if s.outputTTL <= 0 {
		return nil
	}
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{{
		ID:         "expire-rendered-videos",
		Status:     "Enabled",
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(s.outputTTL)},
	}}
	if err := s.client.SetBucketLifecycle(ctx, s.outputBucket, cfg); err != nil {
		return fmt.Errorf("set lifecycle on %s: %w", s.outputBucket, err)
	}
	return nil
}

// Healthy reports whether the output bucket is reachable.
func (s *Storage) Healthy(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.outputBucket)
	return err
}

func (s *Storage) OpenVideo(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.uploadBucket, objectKey, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get video %s: %w", objectKey, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the pipeline starts.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat video %s: %w", objectKey, err)
	}
	return obj, nil
}

func (s *Storage) UploadOutput(ctx context.Context, objectKey string, reader io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.outputBucket, objectKey, reader, size, miniogo.PutObjectOptions{
		ContentType: outputContentType,
	})
	if err != nil {
		return fmt.Errorf("upload output: %w", err)
	}
	return nil
}

func (s *Storage) PresignOutput(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.outputBucket, objectKey, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign output: %w", err)
	}
	return u.String(), nil
}
