package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process memory. It backs tests and local
// runs where no object storage endpoint is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
	}
}

func (s *MemoryStore) EnsureBucket(_ context.Context) error { return nil }

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (*PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.objects[key] = memoryObject{data: data, contentType: contentType}
	s.mu.Unlock()

	return &PutResult{
		ObjectKey: key,
		ETag:      fmt.Sprintf("mem-%d", len(data)),
		Location:  fmt.Sprintf("memory://%s/%s", s.bucket, key),
		Size:      int64(len(data)),
	}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}
	return fmt.Sprintf("memory://%s/%s?expires=%d", s.bucket, key, int64(ttl.Seconds())), nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}
