package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "acr:"

// Limiter counts events in fixed windows kept in Redis.
type Limiter struct {
	redis redis.UniversalClient
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient) *Limiter {
	return &Limiter{redis: redisClient}
}

// Hit counts one event for key and fails with ErrRateLimited once more than
// max events happened inside the current window. The window starts at the
// first hit and is not extended by later ones.
func (l *Limiter) Hit(ctx context.Context, key string, max int, window time.Duration) error {
	if l == nil || max <= 0 || window <= 0 {
		return nil
	}

	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, keyPrefix+key)
		p.ExpireNX(ctx, keyPrefix+key, window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if incr.Val() > int64(max) {
		return fmt.Errorf("%w: %s", ErrRateLimited, key)
	}
	return nil
}

// Reset forgets the counters for keys.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	if l == nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, keyPrefix+k)
	}
	if err := l.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
