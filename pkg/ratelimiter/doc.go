// Package ratelimiter provides token bucket rate limiting with memory and
// Redis storage and HTTP middleware.
//
// The bucket shape is passed on every call, so one Limiter can serve the
// tier-dependent daily quotas of API credentials:
//
//	limiter := ratelimiter.New(ratelimiter.NewMemoryStore())
//	result, err := limiter.Allow(ctx, "cred:42", ratelimiter.Daily(100))
//	if err != nil {
//		return err
//	}
//	ratelimiter.SetHeaders(w, result)
//	if !result.Allowed() {
//		// 429, retry after result.RetryAfter()
//	}
//
// MemoryStore keeps state per process in go-cache. RedisStore runs the same
// refill arithmetic in a Lua script so replicas share one budget.
//
// Middleware applies a fixed bucket per request key and fails open when the
// store is unavailable.
package ratelimiter
