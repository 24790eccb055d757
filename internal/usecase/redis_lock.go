package usecase

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX and an owner-checked delete.
// The TTL bounds how long a crashed owner can block the partition.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker wraps a go-redis client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock takes key for owner unless somebody else holds it.
func (l *RedisLocker) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, owner, ttl).Result()
}

// Unlock deletes key only while owner still holds it.
func (l *RedisLocker) Unlock(ctx context.Context, key, owner string) error {
	return unlockScript.Run(ctx, l.client, []string{key}, owner).Err()
}
