package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Storage struct {
	client       *s3.Client
	bucket       string
	publicPrefix string
	maxBytes     int64
}

type Config struct {
	Endpoint       string
	PublicEndpoint string // Base for object URLs handed to clients; falls back to Endpoint
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	MaxUploadBytes int64
}

func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	public := cfg.PublicEndpoint
	if public == "" {
		public = cfg.Endpoint
	}

	return &Storage{
		client:       client,
		bucket:       cfg.Bucket,
		publicPrefix: strings.TrimRight(public, "/") + "/" + cfg.Bucket + "/",
		maxBytes:     cfg.MaxUploadBytes,
	}, nil
}

// PublicURL is the client-facing URL of key.
func (s *Storage) PublicURL(key string) string {
	return s.publicPrefix + strings.TrimLeft(key, "/")
}

// KeyFromURL reverses PublicURL. ok is false for URLs outside this bucket.
func (s *Storage) KeyFromURL(url string) (key string, ok bool) {
	key, ok = strings.CutPrefix(url, s.publicPrefix)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

func (s *Storage) MaxUploadBytes() int64 {
	return s.maxBytes
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *Storage) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if s.maxBytes > 0 && size > s.maxBytes {
		return fmt.Errorf("file too large: %d > %d", size, s.maxBytes)
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (s *Storage) UploadFile(ctx context.Context, key string, filePath string, contentType string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %s: %w", filePath, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat file %s: %w", filePath, err)
	}
	return s.Upload(ctx, key, f, info.Size(), contentType)
}

func (s *Storage) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
