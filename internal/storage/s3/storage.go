// Package s3 implements storage.Backend for AWS S3 and S3-compatible storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nimeninja/ingestd/internal/storage"
)

const (
	// multipartUploadPartSize is the size for S3 multipart upload parts (5MB minimum)
	multipartUploadPartSize = 5 * 1024 * 1024
)

// S3Config holds configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for MinIO or other S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool // Use path-style addressing (required for MinIO)
	Prefix          string
}

// S3Storage implements storage.Backend for AWS S3 and S3-compatible storage.
type S3Storage struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Storage creates a new S3Storage with the given configuration.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	var optFuncs []func(*config.LoadOptions) error

	if cfg.Region != "" {
		optFuncs = append(optFuncs, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFuncs = append(optFuncs, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFuncs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = multipartUploadPartSize
	})

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %q: %w", cfg.Bucket, err)
	}

	slog.Info("S3 storage initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.PathStyle,
	)

	return &S3Storage{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// validateKey ensures the S3 key doesn't contain path traversal or dangerous characters.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key not allowed", storage.ErrInvalidKey)
	}

	// Null bytes can cause truncation issues
	if strings.ContainsRune(key, '\x00') {
		return fmt.Errorf("%w: null bytes not allowed in key", storage.ErrInvalidKey)
	}

	// Reject keys that look URL-encoded to prevent double-encoding attacks
	if strings.Contains(key, "%") {
		return fmt.Errorf("%w: encoded characters not allowed in key", storage.ErrInvalidKey)
	}

	if strings.Contains(key, "..") {
		return fmt.Errorf("%w: path traversal not allowed: %s", storage.ErrInvalidKey, key)
	}

	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: absolute keys not allowed: %s", storage.ErrInvalidKey, key)
	}

	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == "/" {
		return fmt.Errorf("%w: invalid key: %s", storage.ErrInvalidKey, key)
	}

	return nil
}

// objectKey applies the configured prefix to key.
func (s *S3Storage) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Publish uploads srcPath to the bucket and removes the local file.
// The local file is kept when the upload fails.
func (s *S3Storage) Publish(ctx context.Context, srcPath, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", storage.NewStorageErrorWithMessage("Publish", key, err, "key validation failed")
	}

	file, err := os.Open(srcPath)
	if err != nil {
		return "", storage.NewStorageError("Publish", srcPath, err)
	}

	objKey := s.objectKey(key)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
		Body:   file,
	})
	file.Close()
	if err != nil {
		return "", storage.NewStorageError("Publish", key, err)
	}

	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove local file after S3 upload",
			"src", srcPath,
			"error", err,
		)
	}

	slog.Debug("file published to S3", "bucket", s.bucket, "key", objKey)
	return "s3://" + s.bucket + "/" + objKey, nil
}

// Open returns a reader for the stored object.
func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, storage.NewStorageErrorWithMessage("Open", key, err, "key validation failed")
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, storage.NewStorageErrorWithMessage("Open", key, storage.ErrNotFound, "file not found")
		}
		return nil, storage.NewStorageError("Open", key, err)
	}

	return result.Body, nil
}

// Delete removes an object from S3.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return storage.NewStorageErrorWithMessage("Delete", key, err, "key validation failed")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		// S3 doesn't error on delete of non-existent objects
		return storage.NewStorageError("Delete", key, err)
	}

	slog.Debug("file deleted from S3", "key", key)
	return nil
}

// Exists checks if an object exists in S3.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, storage.NewStorageErrorWithMessage("Exists", key, err, "key validation failed")
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return false, nil
		}
		return false, storage.NewStorageError("Exists", key, err)
	}

	return true, nil
}

// HealthCheck verifies that the bucket is accessible with a HEAD request.
func (s *S3Storage) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(checkCtx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return storage.NewStorageErrorWithMessage("HealthCheck", s.bucket, err, "S3 bucket not accessible")
	}
	return nil
}
