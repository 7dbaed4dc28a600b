// Package s3backup mirrors cache entries to
// an S3/R2-compatible bucket, wired as an optional durable export behind
// internal/cache (SPEC_FULL.md §4.A) — off unless S3_BUCKET is set.
package s3backup

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Mirror is the narrow interface internal/cache depends on, so tests can
// substitute a no-op or in-memory double.
type Mirror interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Config describes how to reach the bucket. Endpoint is optional and
// overrides the default AWS resolver for R2/MinIO-style endpoints.
type Config struct {
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
}

// Client is the aws-sdk-go-v2-backed Mirror implementation.
type Client struct {
	bucket     string
	s3         *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// New builds a Client from cfg. Region defaults to "auto" (R2 convention).
func New(ctx context.Context, cfg Config) (*Client, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Client{
		bucket:     cfg.Bucket,
		s3:         client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", c.bucket, key, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := c.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", c.bucket, key, err)
	}
	return buf.Bytes(), nil
}
