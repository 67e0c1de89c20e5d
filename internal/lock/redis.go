package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// RedisStore keeps locks as Redis keys written with SET NX PX.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Store over client. Every key is prefixed with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return "lock:" + key
	}
	return s.prefix + ":lock:" + key
}

// TryAcquire implements Store. Expiry is enforced by Redis, so now is unused.
func (s *RedisStore) TryAcquire(ctx context.Context, key, owner string, _ time.Time, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set lock key: %w", err)
	}
	return ok, nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release lock key: %w", err)
	}
	return nil
}
