// Package blobstore holds the object-storage primitives used for conversation
// transcripts: get, put, delete and presigned GET URLs.
package blobstore

import (
	"context"
	"time"
)

// Store is the minimal object-storage surface. Get reports
// common.ErrBlobNotFound when the object does not exist; every other failure
// matches common.ErrStorage.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
	Delete(ctx context.Context, bucket, key string) error
	Presign(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
