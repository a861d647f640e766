package ratelimiter

import (
	"net/http"
	"strconv"
)

// KeyFunc extracts a rate limit key from the request. An empty key skips
// limiting for that request.
type KeyFunc func(r *http.Request) string

// DenyFunc renders a rejected request.
type DenyFunc func(w http.ResponseWriter, r *http.Request, result *Result)

// SetHeaders writes the X-RateLimit-* headers (and Retry-After when denied).
func SetHeaders(w http.ResponseWriter, result *Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, result.Remaining)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	if !result.Allowed() {
		if retryAfter := int(result.RetryAfter().Seconds()); retryAfter > 0 {
			h.Set("Retry-After", strconv.Itoa(retryAfter))
		}
	}
}

// Middleware limits requests per key with a fixed bucket shape. Store errors
// fail open: the request is served without headers.
func Middleware(l *Limiter, cfg Config, keyFunc KeyFunc, deny DenyFunc) func(http.Handler) http.Handler {
	if deny == nil {
		deny = func(w http.ResponseWriter, _ *http.Request, _ *Result) {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := l.Allow(r.Context(), key, cfg)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			SetHeaders(w, result)
			if !result.Allowed() {
				deny(w, r, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
