package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/Herbiiiii/Nano-banana/internal/domain"
)

// Key prefixes namespace stored blobs by purpose. Results live under
// images/, submitted reference inputs under references/.
const (
	ResultPrefix    = "images/"
	ReferencePrefix = "references/"
)

// Options configures a MinioStore.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
	PublicURL string
	Logger    zerolog.Logger
}

// MinioStore implements domain.ObjectStore on a MinIO (or S3-compatible)
// backend. The bucket is provisioned with a public-read policy on first use,
// so object URLs are plain {publicURL}/{bucket}/{key} with no signing.
type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
	logger    zerolog.Logger
}

// NewMinioStore connects to the backend and ensures the bucket exists.
func NewMinioStore(ctx context.Context, opts Options) (*MinioStore, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("storage: endpoint is required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	s := &MinioStore{
		client:    client,
		bucket:    opts.Bucket,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		logger:    opts.Logger,
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("storage: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("storage: create bucket: %w", err)
	}
	policy := fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"AWS": ["*"]},
    "Action": ["s3:GetObject"],
    "Resource": ["arn:aws:s3:::%s/*"]
  }]
}`, s.bucket)
	if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
		// Objects stay reachable through Get; only direct URLs break, so
		// startup continues.
		s.logger.Warn().Err(err).Str("bucket", s.bucket).Msg("storage: set public-read policy failed")
	}
	s.logger.Info().Str("bucket", s.bucket).Msg("storage: bucket created")
	return nil
}

// Put uploads data under the given key and returns the public URL and path.
func (s *MinioStore) Put(ctx context.Context, data []byte, key, contentType string) (domain.PutResult, error) {
	if len(data) == 0 {
		return domain.PutResult{}, fmt.Errorf("%w: empty payload", domain.ErrStorage)
	}
	key = strings.TrimLeft(key, "/")
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return domain.PutResult{}, fmt.Errorf("%w: put %s: %v", domain.ErrStorage, key, err)
	}
	return domain.PutResult{
		URL:  s.publicURL + "/" + s.bucket + "/" + key,
		Path: key,
	}, nil
}

// Get downloads the object stored at path.
func (s *MinioStore) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrStorage, path, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrStorage, path, err)
	}
	return data, nil
}

// Delete removes the object stored at path.
func (s *MinioStore) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: delete %s: %v", domain.ErrStorage, path, err)
	}
	return nil
}

// KeyFromURL reconstructs the storage key from one of this store's public
// URLs by stripping the public base and bucket prefix.
func (s *MinioStore) KeyFromURL(url string) (string, bool) {
	return KeyFromURL(url, s.publicURL, s.bucket)
}

// KeyFromURL strips a known public-URL+bucket prefix from url. It returns
// false for URLs that do not belong to the store.
func KeyFromURL(url, publicURL, bucket string) (string, bool) {
	prefix := strings.TrimRight(publicURL, "/") + "/" + bucket + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	if key == "" {
		return "", false
	}
	return key, true
}
