// Package objectstore is a thin S3-compatible object storage client
// (AWS S3, Cloudflare R2, MinIO) with bounded retries.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when the requested object does not exist
var ErrNotFound = errors.New("object not found")

// API is the subset of the S3 client the store uses
type API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds connection settings. An empty Endpoint means AWS S3.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// RetryPolicy bounds how transient failures are retried
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy retries three times within thirty seconds
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxElapsedTime:  30 * time.Second,
	}
}

// Object describes a stored object
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Client reads and writes objects in a single bucket
type Client struct {
	api      API
	uploader *manager.Uploader
	bucket   string
	retry    RetryPolicy
	log      zerolog.Logger
}

// NewClient builds an S3 client from static credentials.
func NewClient(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewClientWithAPI(api, cfg.Bucket, DefaultRetryPolicy(), log), nil
}

// NewClientWithAPI wraps an existing S3 API implementation
func NewClientWithAPI(api API, bucket string, retry RetryPolicy, log zerolog.Logger) *Client {
	return &Client{
		api:      api,
		uploader: manager.NewUploader(api),
		bucket:   bucket,
		retry:    retry,
		log:      log.With().Str("component", "objectstore").Str("bucket", bucket).Logger(),
	}
}

// Bucket returns the bucket name
func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.retry.InitialInterval),
		backoff.WithMaxElapsedTime(c.retry.MaxElapsedTime),
	)
	return backoff.WithContext(backoff.WithMaxRetries(b, c.retry.MaxRetries), ctx)
}

func (c *Client) notify(op, key string) backoff.Notify {
	return func(err error, wait time.Duration) {
		c.log.Warn().
			Err(err).
			Str("op", op).
			Str("key", key).
			Dur("retry_in", wait).
			Msg("Object store call failed, retrying")
	}
}

// Upload stores data under key
func (c *Client) Upload(ctx context.Context, key string, data []byte) error {
	operation := func() error {
		_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		return err
	}

	if err := backoff.RetryNotify(operation, c.backoff(ctx), c.notify("upload", key)); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	c.log.Debug().Str("key", key).Int("size", len(data)).Msg("Uploaded object")
	return nil
}

// Download reads the object under key. A missing object yields ErrNotFound.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	operation := func() ([]byte, error) {
		out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noKey *types.NoSuchKey
			if errors.As(err, &noKey) {
				return nil, backoff.Permanent(ErrNotFound)
			}
			return nil, err
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	}

	data, err := backoff.RetryNotifyWithData(operation, c.backoff(ctx), c.notify("download", key))
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return data, nil
}

// List returns every object whose key starts with prefix
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			o := Object{Key: *obj.Key}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			objects = append(objects, o)
		}
	}
	return objects, nil
}

// Delete removes the object under key
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
