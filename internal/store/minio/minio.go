// Package minio implements the mirror destination on S3-compatible services
// (MinIO, Ceph RGW, ...) with minio-go.
package minio

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/italolelis/ftpmirror/internal/transfer"
)

// Options configures the MinIO store.
type Options struct {
	Endpoint  string // host:port, or a URL whose scheme decides UseSSL
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	UseSSL    bool
}

// Store uploads objects through minio-go.
type Store struct {
	client *minio.Client
	prefix string
}

var _ transfer.Store = (*Store)(nil)

func New(opts Options) (*Store, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint must be provided")
	}

	endpoint, secure, err := parseEndpoint(opts.Endpoint, opts.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Store{client: client, prefix: strings.Trim(opts.Prefix, "/")}, nil
}

// PutObject uploads body under key. size may be -1 when unknown.
func (s *Store) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	objectKey := strings.TrimPrefix(key, "/")
	if s.prefix != "" {
		objectKey = path.Join(s.prefix, objectKey)
	}

	opts := minio.PutObjectOptions{ContentType: mime.TypeByExtension(path.Ext(key))}

	if _, err := s.client.PutObject(ctx, bucket, objectKey, body, size, opts); err != nil {
		return &transfer.StoreError{
			Bucket: bucket,
			Key:    objectKey,
			Code:   minio.ToErrorResponse(err).Code,
			Err:    err,
		}
	}

	return nil
}

func parseEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(endpoint, "/"), useSSL, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid minio endpoint %q: %w", endpoint, err)
	}

	switch u.Scheme {
	case "http":
		return u.Host, false, nil
	case "https":
		return u.Host, true, nil
	default:
		return "", false, fmt.Errorf("invalid minio endpoint scheme %q", u.Scheme)
	}
}
