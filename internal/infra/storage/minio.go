package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore mirrors uploads into a MinIO/S3 bucket.
type ObjectStore struct {
	client     *minio.Client
	bucketName string
	region     string
}

// NewObjectStore connects to MinIO and creates the bucket when missing.
func NewObjectStore(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*ObjectStore, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "minio client")
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "check bucket %s", bucket)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, errors.Wrapf(err, "create bucket %s", bucket)
		}
	}

	return &ObjectStore{client: cli, bucketName: bucket, region: region}, nil
}

// Upload implements uploads.ArtifactStore.
func (s *ObjectStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	_, err := s.client.FPutObject(ctx, s.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return "", errors.Wrapf(err, "put %s", key)
	}

	// public URL; private buckets need a presigned URL instead
	url := fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucketName, key)
	return url, nil
}

// Check reports whether the bucket is reachable.
func (s *ObjectStore) Check(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

// ContentType picks the object content type from the file extension.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".data", ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
