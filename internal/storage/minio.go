package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds the connection settings for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// MinioStore implements ObjectStore on top of a single long lived minio-go
// client. It works against AWS S3, MinIO or any other S3-compatible service.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore creates the client for cfg. No request is issued.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket must not be empty")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket checks if the bucket exists, and creates it if it does not.
func (s *MinioStore) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
		}
		slog.Info("Created bucket", "bucket", s.bucket)
	}
	return nil
}

func (s *MinioStore) Bucket() string {
	return s.bucket
}

func (s *MinioStore) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) (PutResult, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return PutResult{}, s.fault("put object", key, err)
	}

	res := newPutResult(info)
	res.ContentType = contentType
	return res, nil
}

func (s *MinioStore) UploadFile(ctx context.Context, key string, filePath string, opts TransferOptions) (PutResult, error) {
	info, err := s.client.FPutObject(ctx, s.bucket, key, filePath, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		StorageClass: opts.StorageClass,
		PartSize:     opts.PartSize,
	})
	if err != nil {
		return PutResult{}, s.fault("upload file", key, err)
	}

	res := newPutResult(info)
	res.ContentType = opts.ContentType
	res.StorageClass = opts.StorageClass
	return res, nil
}

func (s *MinioStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.getObject(ctx, key, minio.GetObjectOptions{})
}

func (s *MinioStore) GetObjectIfMatch(ctx context.Context, key string, tag string) (io.ReadCloser, error) {
	var opts minio.GetObjectOptions

	// minio-go adds the quotes itself.
	if err := opts.SetMatchETag(unquoteTag(tag)); err != nil {
		return nil, fmt.Errorf("set match etag: %w", err)
	}
	return s.getObject(ctx, key, opts)
}

func (s *MinioStore) getObject(ctx context.Context, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, s.fault("get object", key, err)
	}

	// GetObject is lazy; Stat forces the request so missing keys and failed
	// preconditions surface here rather than halfway through a copy.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s.fault("get object", key, err)
	}

	return obj, nil
}

func (s *MinioStore) ListObjects(ctx context.Context, prefix string) ([]ObjectSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []ObjectSummary
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, s.fault("list objects", prefix, info.Err)
		}

		objects = append(objects, ObjectSummary{
			Key:          info.Key,
			ETag:         QuoteTag(info.ETag),
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}

	return objects, nil
}

func (s *MinioStore) ChecksumTag(ctx context.Context, key string) (string, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return "", s.fault("stat object", key, err)
	}
	return QuoteTag(info.ETag), nil
}

func (s *MinioStore) DeleteObject(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return s.fault("delete object", key, err)
	}
	return nil
}

func (s *MinioStore) fault(op string, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	return &StorageFault{
		Op:         op,
		Key:        key,
		Code:       resp.Code,
		StatusCode: resp.StatusCode,
		Err:        err,
	}
}

func newPutResult(info minio.UploadInfo) PutResult {
	return PutResult{
		Bucket:         info.Bucket,
		Key:            info.Key,
		ETag:           QuoteTag(info.ETag),
		Size:           info.Size,
		VersionID:      info.VersionID,
		LastModified:   info.LastModified,
		Location:       info.Location,
		ChecksumCRC32:  info.ChecksumCRC32,
		ChecksumCRC32C: info.ChecksumCRC32C,
		ChecksumSHA256: info.ChecksumSHA256,
	}
}
