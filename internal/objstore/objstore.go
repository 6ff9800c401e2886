package objstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("object not found")

// PutResult describes a stored object.
type PutResult struct {
	ObjectKey string
	ETag      string
	Location  string
	Size      int64
}

// Store is the durable home of submitted documents. Objects are written
// once under a caller chosen key and read back by the same key.
type Store interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*PutResult, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}
