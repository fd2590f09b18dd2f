package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var errMissingBucket = errors.New("storage: s3 bucket is required")

// S3Config describes an S3-compatible endpoint (AWS, MinIO, Wasabi, ...).
// An empty Endpoint means the AWS default resolver.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3Store keeps chunk blobs as objects in a single bucket, using the chunk
// path as the object key.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds a client for the configured endpoint and returns a
// store bound to the configured bucket.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errMissingBucket
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO and most self-hosted endpoints do not resolve
			// virtual-hosted bucket names.
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Write uploads data as the object at path, overwriting any existing object.
func (s *S3Store) Write(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return &StorageError{Op: "put", Path: path, Err: err}
	}
	return nil
}

// Read downloads the object at path.
func (s *S3Store) Read(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, path)
		}
		return nil, &StorageError{Op: "get", Path: path, Err: err}
	}
	defer out.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &StorageError{Op: "get", Path: path, Err: err}
	}
	return data, nil
}

// Delete removes the object at path. S3 DeleteObject already succeeds for
// absent keys, which matches the no-op contract.
func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return &StorageError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

// Exists probes the object at path with a HEAD request. Only a NotFound
// API response maps to (false, nil); every other failure, transient
// network errors included, is surfaced so callers do not mistake an
// unreachable backend for a missing blob.
func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		return true, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
	}
	return false, &StorageError{Op: "head", Path: path, Err: err}
}
