package kv

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var errPreconditionFailed = errors.New("precondition failed")

// S3API is the subset of the S3 client used by S3Backend.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds configuration for the S3 backend.
type S3Config struct {
	// Bucket holds one object per key.
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
	// Region is the AWS region for the S3 bucket.
	Region string
	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
	// PageSize is the ListObjectsV2 page size for range scans (default: 1000).
	PageSize int32
	// MaxRetries bounds retries of transient failures (default: 3).
	MaxRetries int
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:     "us-east-1",
		Prefix:     "catalog/",
		PageSize:   1000,
		MaxRetries: 3,
	}
}

// S3Backend implements ConditionalBackend with one S3 object per key. Object
// names are the hex encoding of the key, which preserves byte order in
// listings.
type S3Backend struct {
	client S3API
	cfg    S3Config
}

// NewS3Backend creates an S3 backend using the default AWS credential chain.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3BackendWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// NewS3BackendWithClient creates an S3 backend with a pre-configured client.
func NewS3BackendWithClient(client S3API, cfg S3Config) *S3Backend {
	def := DefaultS3Config()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &S3Backend{client: client, cfg: cfg}
}

func (s *S3Backend) objectKey(key []byte) string {
	return s.cfg.Prefix + hex.EncodeToString(key)
}

func (s *S3Backend) decodeObjectKey(objectKey string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(objectKey, s.cfg.Prefix))
}

func (s *S3Backend) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := s.retryWithBackoff(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.objectKey(key)),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			if errors.As(err, &noSuchKey) {
				found = false
				return nil
			}
			return err
		}
		defer resp.Body.Close()
		value, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, backendError("get", err)
	}
	return value, found, nil
}

func (s *S3Backend) Set(ctx context.Context, key, value []byte) error {
	err := s.retryWithBackoff(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.objectKey(key)),
			Body:   bytes.NewReader(value),
		})
		return err
	})
	return backendError("set", err)
}

// PutIfAbsent relies on S3 conditional writes (If-None-Match: *).
func (s *S3Backend) PutIfAbsent(ctx context.Context, key, value []byte) (bool, error) {
	err := s.retryWithBackoff(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(s.objectKey(key)),
			Body:        bytes.NewReader(value),
			IfNoneMatch: aws.String("*"),
		})
		if isS3PreconditionFailed(err) {
			return errPreconditionFailed
		}
		return err
	})
	if errors.Is(err, errPreconditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, backendError("put_if_absent", err)
	}
	return true, nil
}

// Range lists the prefix page by page and fetches each value as it is yielded.
func (s *S3Backend) Range(ctx context.Context, prefix []byte) iter.Seq2[KeyValue, error] {
	return func(yield func(KeyValue, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.cfg.Bucket),
			Prefix: aws.String(s.objectKey(prefix)),
		}, func(o *s3.ListObjectsV2PaginatorOptions) {
			o.Limit = s.cfg.PageSize
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(KeyValue{}, backendError("range", err))
				return
			}
			for _, obj := range page.Contents {
				key, err := s.decodeObjectKey(aws.ToString(obj.Key))
				if err != nil {
					// Foreign object under our prefix.
					continue
				}
				value, found, err := s.Get(ctx, key)
				if err != nil {
					yield(KeyValue{}, err)
					return
				}
				if !found {
					// Deleted between list and get.
					continue
				}
				if !yield(KeyValue{Key: key, Value: value}, nil) {
					return
				}
			}
		}
	}
}

func (s *S3Backend) DeleteRange(ctx context.Context, start, end []byte) error {
	if end == nil {
		return backendError("delete_range", s.deleteObject(ctx, s.objectKey(start)))
	}

	// List everything sharing the longest common prefix of start and end,
	// then delete the keys that fall in [start, end).
	common := commonPrefix(start, end)
	var doomed []string
	for kv, err := range s.listKeys(ctx, common) {
		if err != nil {
			return backendError("delete_range", err)
		}
		if inRange(kv, start, end) {
			doomed = append(doomed, s.objectKey(kv))
		}
	}
	for _, objectKey := range doomed {
		if err := s.deleteObject(ctx, objectKey); err != nil {
			return backendError("delete_range", err)
		}
	}
	return nil
}

func (s *S3Backend) listKeys(ctx context.Context, prefix []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.cfg.Bucket),
			Prefix: aws.String(s.objectKey(prefix)),
		}, func(o *s3.ListObjectsV2PaginatorOptions) {
			o.Limit = s.cfg.PageSize
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, obj := range page.Contents {
				key, err := s.decodeObjectKey(aws.ToString(obj.Key))
				if err != nil {
					continue
				}
				if !yield(key, nil) {
					return
				}
			}
		}
	}
}

func (s *S3Backend) deleteObject(ctx context.Context, objectKey string) error {
	return s.retryWithBackoff(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(objectKey),
		})
		return err
	})
}

// Close is a no-op; the S3 client holds no resources that need releasing.
func (s *S3Backend) Close() error {
	return nil
}

func commonPrefix(a, b []byte) []byte {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return a[:n]
}

// isS3PreconditionFailed checks if the error is a precondition failed error.
func isS3PreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "PreconditionFailed"
	}
	return strings.Contains(err.Error(), "PreconditionFailed") || strings.Contains(err.Error(), "412")
}

// retryWithBackoff executes the operation with exponential backoff retry.
func (s *S3Backend) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		// Don't retry on precondition failures
		if errors.Is(lastErr, errPreconditionFailed) {
			return lastErr
		}

		if attempt < s.cfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
