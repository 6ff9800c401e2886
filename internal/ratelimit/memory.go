package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucketEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounterStore keeps window counters in process memory. Suited to a
// single instance deployment; multi-instance setups use the redis backend
// so every instance sees the same counts.
type MemoryCounterStore struct {
	mu           sync.Mutex
	entries      map[string]*bucketEntry
	cleanupEvery time.Duration
}

type MemoryOption func(*MemoryCounterStore)

func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(m *MemoryCounterStore) { m.cleanupEvery = d }
}

func NewMemoryCounterStore(opts ...MemoryOption) *MemoryCounterStore {
	m := &MemoryCounterStore{
		entries:      make(map[string]*bucketEntry),
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryCounterStore) CheckAndIncrement(_ context.Context, buckets []Bucket, now time.Time) (bool, []int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make([]int64, len(buckets))
	allowed := true

	for i, b := range buckets {
		if e, ok := m.entries[b.Key]; ok && now.Before(e.expiresAt) {
			counts[i] = e.count
			if e.count >= int64(b.Limit) {
				allowed = false
			}
		}
	}

	if !allowed {
		return false, counts, nil
	}

	for i, b := range buckets {
		e, ok := m.entries[b.Key]
		if !ok || !now.Before(e.expiresAt) {
			e = &bucketEntry{expiresAt: b.Start.Add(2 * b.Window.Size())}
			m.entries[b.Key] = e
		}
		e.count++
		counts[i] = e.count
	}

	return true, counts, nil
}

func (m *MemoryCounterStore) Cleanup() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

// StartJanitor evicts elapsed buckets periodically until the context is
// cancelled.
func (m *MemoryCounterStore) StartJanitor(ctx context.Context) {
	if m.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(m.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Cleanup()
			}
		}
	}()
}
