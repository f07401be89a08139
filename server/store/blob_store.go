package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// SnapshotBlobStore holds the large reset/export snapshot bodies §2/§4.12
// keep out of Postgres, referenced from a dataset_generations row by
// object key.
type SnapshotBlobStore struct {
	client *minio.Client
	bucket string
}

// NewSnapshotBlobStore builds a SnapshotBlobStore and ensures its bucket
// exists.
func NewSnapshotBlobStore(ctx context.Context, endpoint, accessKey, secretKey string, useSSL bool, bucket string) (*SnapshotBlobStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &SnapshotBlobStore{client: client, bucket: bucket}, nil
}

// objectKey is deterministic per (userID, generationKey) pair so a reset
// handshake's snapshot can always be found again from the
// dataset_generations row that references it.
func objectKey(userID, generationKey string) string {
	return fmt.Sprintf("%s/%s.json", userID, generationKey)
}

// Put uploads blob under (userID, generationKey) and returns the object
// key to store as snapshot_blob_ref.
func (s *SnapshotBlobStore) Put(ctx context.Context, userID, generationKey string, blob json.RawMessage) (string, error) {
	key := objectKey(userID, generationKey)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(blob), int64(len(blob)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot blob: %w", err)
	}
	return key, nil
}

// Get downloads the blob at objectKey.
func (s *SnapshotBlobStore) Get(ctx context.Context, objectKey string) (json.RawMessage, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot blob: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot blob: %w", err)
	}
	return data, nil
}
