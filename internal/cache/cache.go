package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/kjannette/sniper-backend/internal/logger"
	"github.com/kjannette/sniper-backend/internal/metrics"
)

const (
	listingPrefix = "sniper:listing:"
	generationKey = listingPrefix + "gen"
	bodyPrefix    = listingPrefix + "body:"
	DefaultTTL    = 30 * time.Second
)

func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return c, nil
}

// Listing stores rendered GET /tracked-items bodies keyed by generation and
// SMA window. Invalidate bumps the generation, so a body rendered from a read
// that raced an invalidation lands under a key nobody asks for again.
// A nil *Listing is a valid, always-missing cache.
type Listing struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewListing(rdb *redis.Client, ttl time.Duration) *Listing {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Listing{rdb: rdb, ttl: ttl, log: logger.Log.Named("cache")}
}

func listingKey(gen int64, window int) string {
	return fmt.Sprintf("%s%d:window:%d", bodyPrefix, gen, window)
}

// Get returns the cached body and the generation it was looked up under.
// Pass that generation to Set. Redis errors count as a miss and return a
// negative generation, which Set ignores.
func (l *Listing) Get(ctx context.Context, window int) ([]byte, int64, bool) {
	if l == nil {
		return nil, -1, false
	}
	gen, err := l.rdb.Get(ctx, generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		l.log.Warn("listing generation read failed", zap.Error(err))
		return nil, -1, false
	}

	val, err := l.rdb.Get(ctx, listingKey(gen, window)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, gen, false
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		l.log.Warn("listing cache read failed", zap.Error(err))
		return nil, -1, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return val, gen, true
}

func (l *Listing) Set(ctx context.Context, gen int64, window int, body []byte) {
	if l == nil || gen < 0 {
		return
	}
	if err := l.rdb.Set(ctx, listingKey(gen, window), body, l.ttl).Err(); err != nil {
		l.log.Warn("listing cache write failed", zap.Error(err))
	}
}

// Invalidate bumps the generation and drops every cached body.
func (l *Listing) Invalidate(ctx context.Context) {
	if l == nil {
		return
	}
	ctx, span := otel.Tracer("sniper/cache").Start(ctx, "Listing.Invalidate")
	defer span.End()

	if err := l.rdb.Incr(ctx, generationKey).Err(); err != nil {
		l.log.Warn("listing generation bump failed", zap.Error(err))
	}

	var (
		cursor uint64
		keys   []string
	)
	for {
		found, next, err := l.rdb.Scan(ctx, cursor, bodyPrefix+"*", 100).Result()
		if err != nil {
			l.log.Warn("listing cache scan failed", zap.Error(err))
			return
		}
		keys = append(keys, found...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
		l.log.Warn("listing cache invalidation failed", zap.Error(err))
		return
	}
	l.log.Debug("listing cache invalidated", zap.Int("keys", len(keys)))
}
