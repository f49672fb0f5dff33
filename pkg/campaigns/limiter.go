package campaigns

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DialLimiter bounds concurrent dials per organization so one tenant
// cannot saturate the gateway
type DialLimiter interface {
	Acquire(ctx context.Context, orgID int64) (bool, error)
	Release(ctx context.Context, orgID int64) error
}

// RedisDialLimiter counts in-flight dials per organization in Redis, so
// the bound holds across dispatcher replicas. Slots auto-expire in case
// a crashed replica never releases them.
type RedisDialLimiter struct {
	client   *redis.Client
	maxSlots int64
	slotTTL  time.Duration
}

// NewRedisDialLimiter creates a limiter allowing maxSlots concurrent
// dials per organization
func NewRedisDialLimiter(client *redis.Client, maxSlots int64) *RedisDialLimiter {
	return &RedisDialLimiter{client: client, maxSlots: maxSlots, slotTTL: 5 * time.Minute}
}

func (l *RedisDialLimiter) key(orgID int64) string {
	return fmt.Sprintf("doorstep:dials:inflight:%d", orgID)
}

// Acquire takes one dial slot; false means the organization is at its
// concurrency bound
func (l *RedisDialLimiter) Acquire(ctx context.Context, orgID int64) (bool, error) {
	key := l.key(orgID)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire dial slot: %w", err)
	}
	if count == 1 {
		l.client.Expire(ctx, key, l.slotTTL)
	}
	if count > l.maxSlots {
		l.client.Decr(ctx, key)
		return false, nil
	}
	return true, nil
}

// Release returns a dial slot
func (l *RedisDialLimiter) Release(ctx context.Context, orgID int64) error {
	count, err := l.client.Decr(ctx, l.key(orgID)).Result()
	if err != nil {
		return fmt.Errorf("failed to release dial slot: %w", err)
	}
	if count < 0 {
		// Slot expired mid-call; clamp instead of going negative.
		l.client.Set(ctx, l.key(orgID), 0, l.slotTTL)
	}
	return nil
}
