package ratelimit

import (
	"context"

	"github.com/go-redis/redis/v9"
	"github.com/gravitational/trace"
)

// RedisLimiter is a fixed-window counter backed by Redis INCR+EXPIRE, used
// by the optional durable relay so rate limits are shared across replicas.
// It trades the in-process Limiter's sliding-window precision for a single
// round trip per Allow call; eventual consistency across replicas is
// explicitly acceptable per spec.md §5.
type RedisLimiter struct {
	rdb    *redis.Client
	limits map[Bucket]Limit
}

// NewRedis constructs a RedisLimiter. limits defaults to DefaultLimits.
func NewRedis(rdb *redis.Client, limits map[Bucket]Limit) *RedisLimiter {
	if limits == nil {
		limits = DefaultLimits
	}
	return &RedisLimiter{rdb: rdb, limits: limits}
}

func (l *RedisLimiter) Allow(bucket Bucket, key string) (Result, error) {
	limit, ok := l.limits[bucket]
	if !ok {
		limit = l.limits[BucketGeneral]
	}

	ctx := context.Background()
	redisKey := "ratelimit:" + string(bucket) + ":" + key

	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return Result{}, trace.Wrap(err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, redisKey, limit.Window).Err(); err != nil {
			return Result{}, trace.Wrap(err)
		}
	}

	if count > int64(limit.Count) {
		ttl, err := l.rdb.TTL(ctx, redisKey).Result()
		if err != nil || ttl < 0 {
			ttl = limit.Window
		}
		return Result{Allowed: false, Limit: limit.Count, Remaining: 0, RetryAfter: ttl}, nil
	}

	return Result{
		Allowed:   true,
		Limit:     limit.Count,
		Remaining: limit.Count - int(count),
	}, nil
}
