// Package blob archives the original uploaded files in S3-compatible object
// storage. The annotation engine only ever sees extracted plain text; the raw
// upload is kept so a document can be re-ingested later.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store wraps a MinIO client for a single bucket. A nil *Store is valid and
// turns every operation into a no-op, so object storage stays optional.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		log.Printf("blob: created bucket %s", bucket)
	}

	return &Store{client: client, bucket: bucket}, nil
}

// Enabled reports whether object storage is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

// PutUpload archives an original upload under uploads/{documentID}/{filename}.
func (s *Store) PutUpload(ctx context.Context, documentID, filename, contentType string, data []byte) error {
	if !s.Enabled() {
		return nil
	}
	key := uploadKey(documentID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// GetUpload retrieves an archived original upload.
func (s *Store) GetUpload(ctx context.Context, documentID, filename string) ([]byte, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("object storage not configured")
	}
	key := uploadKey(documentID, filename)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// DeleteUploads removes every archived object for a document.
func (s *Store) DeleteUploads(ctx context.Context, documentID string) error {
	if !s.Enabled() {
		return nil
	}
	prefix := path.Join("uploads", documentID) + "/"
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", obj.Key, err)
		}
	}
	return nil
}

func uploadKey(documentID, filename string) string {
	return path.Join("uploads", documentID, path.Base(filename))
}
