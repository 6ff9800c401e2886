package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/pkg/metrics"
)

var (
	ErrUnknownKey  = errors.New("unknown api key")
	ErrKeyDisabled = errors.New("api key disabled")
)

// Window is one of the fixed admission windows checked per request.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"

	// WindowBurst only appears in decisions produced by the optional
	// burst smoother; it has no counter bucket.
	WindowBurst Window = "burst"
)

// Windows lists the bucketed windows in check order.
var Windows = []Window{WindowMinute, WindowHour, WindowDay}

func (w Window) Size() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Limits holds the per-window quotas applied to an api key.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

func (l Limits) For(w Window) int {
	switch w {
	case WindowMinute:
		return l.PerMinute
	case WindowHour:
		return l.PerHour
	default:
		return l.PerDay
	}
}

// WindowStatus reports one window of a decision.
type WindowStatus struct {
	Window    Window
	Limit     int
	Used      int64
	Remaining int64
	ResetAt   time.Time
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed         bool
	ExceededWindows []Window
	Windows         map[Window]WindowStatus
	RetryAfter      time.Duration
}

// Bucket addresses one window counter for one api key.
type Bucket struct {
	Key    string
	Window Window
	Start  time.Time
	Limit  int
}

// CounterStore checks and increments a set of buckets atomically: all of
// them move by one, or none do.
type CounterStore interface {
	CheckAndIncrement(ctx context.Context, buckets []Bucket, now time.Time) (bool, []int64, error)
}

// Limiter admits requests per api key against minute, hour and day
// windows, with an optional burst smoother in front.
type Limiter struct {
	keys     store.ApiKey
	counters CounterStore
	limits   Limits
	burst    *BurstLimiter
}

type Option func(*Limiter)

// WithBurst puts a per-key token bucket in front of the window check.
func WithBurst(rps float64, size int) Option {
	return func(l *Limiter) {
		if rps > 0 && size > 0 {
			l.burst = NewBurstLimiter(rps, size)
		}
	}
}

func New(keys store.ApiKey, counters CounterStore, limits Limits, opts ...Option) *Limiter {
	l := &Limiter{
		keys:     keys,
		counters: counters,
		limits:   limits,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit decides whether a request for keyID may proceed at time now. The
// three window counters move together: a request counts against all
// windows or none, so a denied request never consumes quota.
func (l *Limiter) Admit(ctx context.Context, keyID string, now time.Time) (*Decision, error) {
	key, err := l.keys.Get(ctx, keyID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrUnknownKey
		}
		return nil, err
	}
	if !key.Enabled {
		return nil, ErrKeyDisabled
	}

	if l.burst != nil && !l.burst.Allow(keyID, now) {
		metrics.IncreaseAdmissionDecisionMetric("denied", string(WindowBurst))
		return &Decision{
			Allowed:         false,
			ExceededWindows: []Window{WindowBurst},
			Windows:         map[Window]WindowStatus{},
			RetryAfter:      time.Second,
		}, nil
	}

	buckets := l.bucketsFor(keyID, now)
	allowed, counts, err := l.counters.CheckAndIncrement(ctx, buckets, now)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		Allowed: allowed,
		Windows: make(map[Window]WindowStatus, len(buckets)),
	}

	for i, b := range buckets {
		used := counts[i]
		remaining := int64(b.Limit) - used
		if remaining < 0 {
			remaining = 0
		}
		decision.Windows[b.Window] = WindowStatus{
			Window:    b.Window,
			Limit:     b.Limit,
			Used:      used,
			Remaining: remaining,
			ResetAt:   b.Start.Add(b.Window.Size()),
		}

		if !allowed && used >= int64(b.Limit) {
			decision.ExceededWindows = append(decision.ExceededWindows, b.Window)
			retryAfter := b.Start.Add(b.Window.Size()).Sub(now)
			if decision.RetryAfter == 0 || retryAfter < decision.RetryAfter {
				decision.RetryAfter = retryAfter
			}
		}
	}

	if allowed {
		metrics.IncreaseAdmissionDecisionMetric("allowed", "none")
	} else {
		for _, w := range decision.ExceededWindows {
			metrics.IncreaseAdmissionDecisionMetric("denied", string(w))
		}
	}

	return decision, nil
}

func (l *Limiter) bucketsFor(keyID string, now time.Time) []Bucket {
	buckets := make([]Bucket, 0, len(Windows))
	for _, w := range Windows {
		start := now.UTC().Truncate(w.Size())
		buckets = append(buckets, Bucket{
			Key:    fmt.Sprintf("rl:%s:%s:%d", keyID, w, start.Unix()),
			Window: w,
			Start:  start,
			Limit:  l.limits.For(w),
		})
	}
	return buckets
}
