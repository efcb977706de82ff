// Package archive mirrors uploaded documents and materialized images to an
// S3-compatible object store.
package archive

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// ObjectStore is the subset of the S3 API the archive needs.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
	FPutObject(ctx context.Context, bucket, key, localPath, contentType string) error
}

// Archive copies local files into a bucket. A nil *Archive is a valid,
// disabled archive.
type Archive struct {
	store  ObjectStore
	bucket string
	region string

	mu      sync.Mutex
	ensured bool
}

// New returns nil when the archive is disabled.
func New(cfg Config) (*Archive, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	store, err := newMinioStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(store, cfg.Bucket, cfg.Region), nil
}

// NewWithStore builds an archive over any ObjectStore.
func NewWithStore(store ObjectStore, bucket, region string) *Archive {
	return &Archive{store: store, bucket: bucket, region: region}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ensured {
		return nil
	}
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.store.MakeBucket(ctx, a.bucket, a.region); err != nil {
			return fmt.Errorf("create bucket %s: %w", a.bucket, err)
		}
		log.Info().Str("bucket", a.bucket).Msg("archive bucket created")
	}
	a.ensured = true
	return nil
}

// PutFile uploads localPath under key.
func (a *Archive) PutFile(ctx context.Context, key, localPath string) error {
	if a == nil {
		return nil
	}
	key = strings.TrimLeft(path.Clean("/"+filepath.ToSlash(key)), "/")
	if key == "" || key == "." {
		return errors.New("object key is required")
	}
	if err := a.EnsureBucket(ctx); err != nil {
		return err
	}
	ct := mime.TypeByExtension(filepath.Ext(localPath))
	if ct == "" {
		ct = "application/octet-stream"
	}
	if err := a.store.FPutObject(ctx, a.bucket, key, localPath, ct); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	log.Debug().Str("bucket", a.bucket).Str("key", key).Msg("archived")
	return nil
}

type minioStore struct {
	client *minio.Client
}

func newMinioStore(cfg Config) (*minioStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("archive endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("archive credentials are required")
	}

	// accept either host:port or a full URL
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &minioStore{client: client}, nil
}

func (s *minioStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return s.client.BucketExists(ctx, bucket)
}

func (s *minioStore) MakeBucket(ctx context.Context, bucket, region string) error {
	err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && (resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists") {
			return nil
		}
	}
	return err
}

func (s *minioStore) FPutObject(ctx context.Context, bucket, key, localPath, contentType string) error {
	_, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType})
	return err
}
