package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker stores one key per online user and lets redis handle expiry,
// so presence survives across server instances.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{client: client, ttl: ttl}
}

func (t *RedisTracker) Touch(ctx context.Context, userID int64) error {
	return t.client.Set(ctx, t.key(userID), "1", t.ttl).Err()
}

func (t *RedisTracker) Online(ctx context.Context, userID int64) (bool, error) {
	n, err := t.client.Exists(ctx, t.key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *RedisTracker) Forget(ctx context.Context, userID int64) error {
	return t.client.Del(ctx, t.key(userID)).Err()
}

func (t *RedisTracker) key(userID int64) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

var _ Tracker = (*RedisTracker)(nil)
