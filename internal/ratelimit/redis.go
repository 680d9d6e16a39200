package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kodex-auth/go-core/pkg/types"
)

// reserveScript counts the key's window and adds the new member in one
// atomic step.
//
// KEYS[1] = window key (sorted set, score = unix millis)
// ARGV[1] = now (unix millis)
// ARGV[2] = window length (millis)
// ARGV[3] = limit
// ARGV[4] = member id
//
// Returns 1 when the slot was reserved, 0 when the limit is reached.
var reserveScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	local count = redis.call('ZCARD', key)
	if count >= limit then
		return 0
	end

	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return 1
`)

// RedisLimiter implements Limiter on Redis sorted sets, one set per key.
// Suitable when multiple core instances share the limit.
type RedisLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisLimiter creates a Redis-backed sliding window limiter.
func NewRedisLimiter(client redis.UniversalClient, keyPrefix string) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = "kodex:ratelimit"
	}
	return &RedisLimiter{client: client, keyPrefix: keyPrefix}
}

// Reserve runs the reservation script atomically in Redis.
func (l *RedisLimiter) Reserve(ctx context.Context, key string, limit int, window time.Duration) (*Reservation, error) {
	redisKey := fmt.Sprintf("%s:%s", l.keyPrefix, key)
	member := uuid.NewString()
	now := time.Now()

	result, err := reserveScript.Run(ctx, l.client,
		[]string{redisKey},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		member,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("rate limit reservation failed: %w", err)
	}
	if result == 0 {
		return nil, types.ErrRateLimitExceeded
	}

	return &Reservation{
		Key: key,
		rollback: func(ctx context.Context) error {
			if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
				return fmt.Errorf("rate limit rollback failed: %w", err)
			}
			return nil
		},
	}, nil
}
