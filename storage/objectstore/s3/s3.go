package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/storage/objectstore"
	storageutil "github.com/indieinfra/mediavault/storage/util"
)

type s3Client interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

var newMinioClient = func(endpoint string, opts *minio.Options) (s3Client, error) {
	return minio.New(endpoint, opts)
}

// Store keeps media in S3 or any compatible service (R2, Backblaze, MinIO).
type Store struct {
	client         s3Client
	bucket         string
	publicBase     string
	forcePathStyle bool
	endpointHost   string
	secure         bool
	region         string
	pattern        *storageutil.PathPattern
	now            func() time.Time
}

func NewStore(cfg *config.Media) (*Store, error) {
	if cfg == nil || cfg.S3 == nil {
		return nil, fmt.Errorf("s3 media config is nil")
	}

	s3cfg := cfg.S3
	region := strings.TrimSpace(s3cfg.Region)
	if strings.EqualFold(region, "auto") {
		region = ""
	}

	endpointHost := strings.TrimSpace(s3cfg.Endpoint)
	if endpointHost == "" {
		if region == "" {
			endpointHost = "s3.amazonaws.com"
		} else {
			endpointHost = fmt.Sprintf("s3.%s.amazonaws.com", region)
		}
	} else if parsed, err := url.Parse(endpointHost); err == nil && parsed.Host != "" {
		endpointHost = parsed.Host
	}

	lookup := minio.BucketLookupAuto
	if s3cfg.ForcePathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := newMinioClient(endpointHost, &minio.Options{
		Creds:        credentials.NewStaticV4(s3cfg.AccessKeyId, s3cfg.SecretKeyId, ""),
		Secure:       !s3cfg.DisableSSL,
		Region:       region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, s3cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to verify s3 bucket %q: %w", s3cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("s3 bucket %q does not exist or is not accessible", s3cfg.Bucket)
	}

	publicBase := s3cfg.PublicUrl
	if publicBase == "" {
		publicBase = cfg.PublicUrl
	}

	pattern := storageutil.DefaultMediaPattern()
	if cfg.PathPattern != "" {
		pattern = storageutil.NewPathPattern(cfg.PathPattern)
	}

	return &Store{
		client:         client,
		bucket:         s3cfg.Bucket,
		publicBase:     strings.TrimSuffix(strings.TrimSpace(publicBase), "/"),
		forcePathStyle: s3cfg.ForcePathStyle,
		endpointHost:   endpointHost,
		secure:         !s3cfg.DisableSSL,
		region:         s3cfg.Region,
		pattern:        pattern,
		now:            time.Now,
	}, nil
}

func (s *Store) Upload(ctx context.Context, in *objectstore.UploadInput) (*objectstore.Object, error) {
	if in == nil || in.Body == nil {
		return nil, fmt.Errorf("upload body is required: %w", objectstore.ErrRejected)
	}

	key, err := objectstore.BuildKey(s.pattern, in, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", objectstore.ErrRejected)
	}

	opts := minio.PutObjectOptions{ContentType: in.ContentType}
	info, err := s.client.PutObject(ctx, s.bucket, key, in.Body, in.Size, opts)
	if err != nil {
		return nil, fmt.Errorf("upload to s3 failed: %w", mapError(err))
	}

	size := info.Size
	if size == 0 {
		size = in.Size
	}

	return &objectstore.Object{
		ObjectID: key,
		URL:      s.objectURL(key),
		Format:   in.Format,
		Width:    in.Width,
		Height:   in.Height,
		Bytes:    size,
	}, nil
}

// Delete stats the object first because S3 deletes succeed silently for
// missing keys.
func (s *Store) Delete(ctx context.Context, objectID string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, objectID, minio.StatObjectOptions{}); err != nil {
		return fmt.Errorf("stat %q: %w", objectID, mapError(err))
	}

	if err := s.client.RemoveObject(ctx, s.bucket, objectID, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete from s3 failed: %w", mapError(err))
	}

	return nil
}

func (s *Store) Exists(ctx context.Context, objectID string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectID, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	mapped := mapError(err)
	if errors.Is(mapped, objectstore.ErrNotFound) {
		return false, nil
	}

	return false, fmt.Errorf("stat %q: %w", objectID, mapped)
}

func (s *Store) ObjectIDFromURL(raw string) (string, bool) {
	key, err := s.keyFromURL(raw)
	if err != nil || key == "" {
		return "", false
	}

	return key, true
}

func (s *Store) objectURL(key string) string {
	if s.publicBase != "" {
		return fmt.Sprintf("%s/%s", s.publicBase, key)
	}

	scheme := "https"
	if !s.secure {
		scheme = "http"
	}

	if s.forcePathStyle {
		return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpointHost, s.bucket, key)
	}

	return fmt.Sprintf("%s://%s.%s/%s", scheme, s.bucket, s.endpointHost, key)
}

func (s *Store) keyFromURL(raw string) (string, error) {
	if s.publicBase != "" {
		key, ok := objectstore.KeyFromPublicURL(raw, s.publicBase)
		if !ok {
			return "", fmt.Errorf("url does not belong to this media store")
		}
		return key, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	p := strings.TrimPrefix(u.Path, "/")
	switch {
	case u.Host == s.bucket+"."+s.endpointHost:
		return p, nil
	case u.Host == s.endpointHost && strings.HasPrefix(p, s.bucket+"/"):
		return strings.TrimPrefix(p, s.bucket+"/"), nil
	}

	return "", fmt.Errorf("url does not belong to this media store")
}

func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %v", objectstore.ErrNotFound, err)
	case "QuotaExceeded", "EntityTooLarge", "StorageQuotaExceeded", "XMinioStorageFull":
		return fmt.Errorf("%w: %v", objectstore.ErrQuotaExceeded, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket", "InvalidArgument", "InvalidBucketName":
		return fmt.Errorf("%w: %v", objectstore.ErrRejected, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", objectstore.ErrNotFound, err)
	}

	return err
}
