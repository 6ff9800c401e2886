package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type burstEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// BurstLimiter smooths short spikes with a token bucket per api key. It
// sits in front of the window counters and never consumes window quota.
type BurstLimiter struct {
	mu           sync.Mutex
	entries      map[string]*burstEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

func NewBurstLimiter(rps float64, burst int) *BurstLimiter {
	return &BurstLimiter{
		entries:      make(map[string]*burstEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
}

func (b *BurstLimiter) Allow(keyID string, now time.Time) bool {
	b.mu.Lock()
	ent, ok := b.entries[keyID]
	if !ok {
		ent = &burstEntry{lim: rate.NewLimiter(b.rps, b.burst)}
		b.entries[keyID] = ent
	}
	ent.lastSeen = now
	b.mu.Unlock()

	return ent.lim.AllowN(now, 1)
}

func (b *BurstLimiter) Cleanup() {
	cutoff := time.Now().Add(-b.idleTTL)

	b.mu.Lock()
	defer b.mu.Unlock()

	for k, ent := range b.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(b.entries, k)
		}
	}
}

// StartJanitor drops idle per-key limiters periodically until the context
// is cancelled.
func (b *BurstLimiter) StartJanitor(ctx context.Context) {
	t := time.NewTicker(b.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.Cleanup()
			}
		}
	}()
}
