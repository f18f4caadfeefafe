package utils

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Locker is a named, TTL-bound mutual-exclusion primitive shared across
// service instances. TryAcquire sets key=token only if the key is absent;
// Release deletes the key only while it still holds the caller's token, so
// an expired holder can never delete a lock re-acquired by someone else.
type Locker interface {
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// compare-and-delete as a single atomic script
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisMutex implements Locker on a redis key with SET NX EX semantics.
type RedisMutex struct {
	client *redis.Client
}

func NewRedisMutex(client *redis.Client) *RedisMutex {
	return &RedisMutex{client: client}
}

func (m *RedisMutex) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return m.client.SetNX(ctx, key, token, ttl).Result()
}

func (m *RedisMutex) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, m.client, []string{key}, token).Err()
}

// NoopMutex is the fail-open fallback used when no lock store is
// configured: every acquisition succeeds. Safe only for single-instance
// deployments; main logs a prominent warning when this path is taken.
type NoopMutex struct{}

func (NoopMutex) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (NoopMutex) Release(ctx context.Context, key, token string) error {
	return nil
}
