package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Environment variables read by NewMinioClient.
const (
	EnvEndpoint = "QUANT_S3_ENDPOINT" // host[:port], default s3.amazonaws.com
	EnvInsecure = "QUANT_S3_INSECURE" // "true" disables TLS
	EnvRegion   = "QUANT_S3_REGION"

	defaultEndpoint = "s3.amazonaws.com"
)

// MinioStore implements Store for MinIO and S3-compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore creates a store for one bucket. prefix is prepended to all
// names (e.g. "images/").
func NewMinioStore(client *minio.Client, bucket, prefix string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, prefix: prefix}
}

// NewMinioClient creates a client from the environment. Credentials come
// from the AWS variables (AWS_ACCESS_KEY_ID, ...) or the MinIO ones
// (MINIO_ROOT_USER, ...), whichever are set.
func NewMinioClient() (*minio.Client, error) {
	endpoint := os.Getenv(EnvEndpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	insecure, _ := strconv.ParseBool(os.Getenv(EnvInsecure))

	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewChainCredentials([]credentials.Provider{
			new(credentials.EnvAWS),
			new(credentials.EnvMinio),
		}),
		Secure: !insecure,
		Region: os.Getenv(EnvRegion),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: minio client for %s: %w", endpoint, err)
	}
	return client, nil
}

func (s *MinioStore) key(name string) string {
	return path.Join(s.prefix, name)
}

// Get downloads an object.
func (s *MinioStore) Get(ctx context.Context, name string) ([]byte, error) {
	key := s.key(name)

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrap(key, err)
	}
	return data, nil
}

// Put uploads an object atomically.
func (s *MinioStore) Put(ctx context.Context, name string, data []byte) error {
	key := s.key(name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType(name)})
	if err != nil {
		return s.wrap(key, err)
	}
	return nil
}

// wrap maps missing objects and buckets to ErrNotFound.
func (s *MinioStore) wrap(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("blobstore: s3://%s/%s: %w", s.bucket, key, ErrNotFound)
	}
	return fmt.Errorf("blobstore: s3://%s/%s: %w", s.bucket, key, err)
}

// contentType guesses the MIME type of an image name for uploads.
func contentType(name string) string {
	switch path.Ext(name) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	}
	return "application/octet-stream"
}
