package cache

import (
	"context"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Limiter is a per-key fixed budget per minute backed by Redis (GCRA).
type Limiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

func NewLimiter(rdb *redis.Client, perMinute int) *Limiter {
	return &Limiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redis_rate.PerMinute(perMinute),
	}
}

// Allow consumes one request for key. retryAfterSec is only meaningful when
// allowed is false.
func (l *Limiter) Allow(ctx context.Context, key string) (allowed bool, retryAfterSec int, err error) {
	res, err := l.limiter.Allow(ctx, "sniper:rl:"+key, l.limit)
	if err != nil {
		return false, 0, err
	}
	if res.Allowed > 0 {
		return true, 0, nil
	}
	secs := int(res.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return false, secs, nil
}
