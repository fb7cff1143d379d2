// Package minio implements artifact.Store on MinIO or any S3-compatible
// object store using minio-go.
//
// Usage:
//
//	s, err := minio.New("localhost:9000", "minioadmin", "minioadmin", false)
//	if err := s.EnsureBuckets(ctx); err != nil { ... }
package minio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/artifact"
)

var _ artifact.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRegion sets the region used when creating buckets.
func WithRegion(region string) Option {
	return func(s *Store) { s.region = region }
}

// Store is an artifact.Store backed by a minio-go client.
type Store struct {
	client *miniogo.Client
	region string
	logger *slog.Logger
}

// New connects to endpoint with static credentials.
func New(endpoint, accessKey, secretKey string, secure bool, opts ...Option) (*Store, error) {
	client, err := miniogo.New(endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("cluster/minio: connect %s: %w", endpoint, err)
	}
	return NewFromClient(client, opts...), nil
}

// NewFromClient wraps an existing client. The caller owns its lifecycle.
func NewFromClient(client *miniogo.Client, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying minio-go client.
func (s *Store) Client() *miniogo.Client { return s.client }

// EnsureBuckets creates the inputs and results buckets if missing.
func (s *Store) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range artifact.Buckets {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return unavailable("bucket exists "+bucket, err)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{Region: s.region}); err != nil {
			return unavailable("make bucket "+bucket, err)
		}
		s.logger.Info("created bucket", slog.String("bucket", bucket))
	}
	return nil
}

// Put uploads r to ref.
func (s *Store) Put(ctx context.Context, ref artifact.Ref, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = artifact.ContentType(ref.Key)
	}
	_, err := s.client.PutObject(ctx, ref.Bucket, ref.Key, r, size, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return unavailable("put "+ref.String(), err)
	}
	return nil
}

// Get opens ref. The object is stat'ed first so a missing key fails here
// rather than on the first read.
func (s *Store) Get(ctx context.Context, ref artifact.Ref) (io.ReadCloser, artifact.Info, error) {
	obj, err := s.client.GetObject(ctx, ref.Bucket, ref.Key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, artifact.Info{}, unavailable("get "+ref.String(), err)
	}
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close() //nolint:errcheck // already failing
		return nil, artifact.Info{}, unavailable("stat "+ref.String(), err)
	}
	return obj, artifact.Info{Size: st.Size, ContentType: st.ContentType}, nil
}

// Delete removes ref. Missing objects are ignored.
func (s *Store) Delete(ctx context.Context, ref artifact.Ref) error {
	err := s.client.RemoveObject(ctx, ref.Bucket, ref.Key, miniogo.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return unavailable("delete "+ref.String(), err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := miniogo.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", cluster.ErrArtifactUnavailable, op, err)
}
