package entitlement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Guard is a short-lived, best-effort in-progress flag. It rejects a second
// plan selection while the first is still running. Correctness never depends
// on it: every flow step is idempotent.
type Guard interface {
	// TryAcquire takes key for at most ttl. ok is false when the key is held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// MemoryGuard keeps flags in process memory.
type MemoryGuard struct {
	mu    sync.Mutex
	flags *cache.Cache
}

var _ Guard = (*MemoryGuard)(nil)

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{flags: cache.New(time.Minute, 5*time.Minute)}
}

func (g *MemoryGuard) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := newToken()
	if err := g.flags.Add(key, token, ttl); err != nil {
		return func() {}, false, nil
	}
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if v, ok := g.flags.Get(key); ok && v == token {
			g.flags.Delete(key)
		}
	}, true, nil
}

// releaseScript deletes the flag only when it still holds our token, so an
// expired holder never clears a newer one.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares flags across instances with SET NX PX.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
}

var _ Guard = (*RedisGuard)(nil)

func NewRedisGuard(client redis.UniversalClient, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "keytier:guard:"
	}
	return &RedisGuard{client: client, prefix: prefix}
}

func (g *RedisGuard) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	key = g.prefix + key
	token := newToken()

	ok, err := g.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return func() {}, false, err
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		// Release must run even when the request context is gone.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return
		}
	}, true, nil
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
