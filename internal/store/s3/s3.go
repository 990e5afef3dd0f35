// Package s3 implements the mirror destination on Amazon S3 with aws-sdk-go-v2.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/larrabee/ratelimit"

	"github.com/italolelis/ftpmirror/internal/transfer"
)

// Options configures the S3 store.
type Options struct {
	Region    string
	Endpoint  string // Custom endpoint for S3-compatible services; enables path-style addressing
	AccessKey string // Static credentials; the default AWS chain is used when empty
	SecretKey string
	Prefix    string // Prepended to every object key
	RateLimit int64  // Upload bandwidth cap in bytes per second, 0 for unlimited
}

// Store uploads objects to S3.
type Store struct {
	uploader *manager.Uploader
	prefix   string
	rlBucket ratelimit.Bucket
}

var _ transfer.Store = (*Store)(nil)

// New loads the default AWS configuration and returns a configured store.
func New(ctx context.Context, opts Options) (*Store, error) {
	loadOpts := []func(*config.LoadOptions) error{}

	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return NewFromConfig(cfg, opts)
}

// NewFromConfig builds a store from an existing AWS configuration.
func NewFromConfig(cfg aws.Config, opts Options) (*Store, error) {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	var rlBucket ratelimit.Bucket = ratelimit.NewFakeBucket()

	if opts.RateLimit > 0 {
		bucket, err := ratelimit.NewBucketWithRate(float64(opts.RateLimit), opts.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid upload rate limit: %w", err)
		}

		rlBucket = bucket
	}

	return &Store{
		uploader: manager.NewUploader(client),
		prefix:   strings.Trim(opts.Prefix, "/"),
		rlBucket: rlBucket,
	}, nil
}

// PutObject uploads body under key. Seekable bodies are rate limited and let the
// uploader size parts without buffering; others are streamed.
func (s *Store) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	objectKey := s.objectKey(key)

	if rs, ok := body.(io.ReadSeeker); ok {
		body = ratelimit.NewReadSeeker(rs, s.rlBucket)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
		Body:   body,
	}

	if contentType := mime.TypeByExtension(path.Ext(key)); contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return &transfer.StoreError{Bucket: bucket, Key: objectKey, Code: ErrorCode(err), Err: err}
	}

	return nil
}

func (s *Store) objectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.prefix == "" {
		return key
	}

	return path.Join(s.prefix, key)
}

// ErrorCode extracts the service error code (e.g. "AccessDenied") from err, or "".
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}

	return ""
}

// IsErrPermission reports whether the destination rejected the write for lack of permissions.
func IsErrPermission(err error) bool {
	switch ErrorCode(err) {
	case "AccessDenied", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	}

	return false
}
