package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// MemoryStore keeps buckets in a process-local go-cache instance. Buckets that
// are not touched for the idle TTL are evicted by the cache janitor.
type MemoryStore struct {
	mu      sync.Mutex
	buckets *cache.Cache
	idleTTL time.Duration
	now     func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithIdleTTL sets how long an untouched bucket is kept.
func WithIdleTTL(d time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.idleTTL = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.now = now
	}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		idleTTL: 25 * time.Hour,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}
	ms.buckets = cache.New(ms.idleTTL, ms.idleTTL/4)
	return ms
}

// ConsumeTokens attempts to consume tokens from the bucket.
func (ms *MemoryStore) ConsumeTokens(_ context.Context, key string, tokens int, config Config) (*Result, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	b, ok := ms.get(key)
	if !ok {
		b = bucket{tokens: config.Capacity, lastRefill: now}
	}

	b = refill(b, now, config)
	b.tokens -= tokens
	if b.tokens < 0 && tokens > 0 {
		// Denied requests do not dig the bucket deeper than one request.
		ms.buckets.Set(key, bucket{tokens: b.tokens + tokens, lastRefill: b.lastRefill}, ms.idleTTL)
	} else {
		ms.buckets.Set(key, b, ms.idleTTL)
	}

	return &Result{
		Limit:     config.Capacity,
		Remaining: b.tokens,
		ResetAt:   b.lastRefill.Add(config.RefillInterval),
		CheckedAt: now,
	}, nil
}

// Reset removes the bucket for key.
func (ms *MemoryStore) Reset(_ context.Context, key string) error {
	ms.buckets.Delete(key)
	return nil
}

func (ms *MemoryStore) get(key string) (bucket, bool) {
	v, ok := ms.buckets.Get(key)
	if !ok {
		return bucket{}, false
	}
	b, ok := v.(bucket)
	return b, ok
}

// refill adds the tokens earned by whole intervals since the last refill.
func refill(b bucket, now time.Time, config Config) bucket {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < config.RefillInterval {
		return b
	}
	// Cap intervals so huge idle gaps cannot overflow.
	maxIntervals := int64(config.Capacity/config.RefillRate + 1)
	intervals := min(int64(elapsed/config.RefillInterval), maxIntervals)

	b.tokens = min(b.tokens+int(intervals)*config.RefillRate, config.Capacity)
	b.lastRefill = now
	return b
}
