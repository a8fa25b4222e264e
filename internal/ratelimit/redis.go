// Package ratelimit provides the Redis-backed request limiter shared by
// all server instances. The in-process fallback lives next to the
// middleware that consumes it.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campus-board/community-auth-backend/internal/http/middleware"
)

// RedisSlidingWindowLimiter counts hits in a per-key sorted set scored
// by timestamp. One pipeline per decision: prune, count, record, expire.
type RedisSlidingWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisSlidingWindowLimiter(client redis.UniversalClient, prefix string) *RedisSlidingWindowLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisSlidingWindowLimiter{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (l *RedisSlidingWindowLimiter) Allow(ctx context.Context, key string, policy middleware.RateLimitPolicy) (middleware.Decision, error) {
	if l.client == nil {
		return middleware.Decision{}, fmt.Errorf("ratelimit: no redis client")
	}
	now := l.now()
	windowStart := now.Add(-policy.Window)
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return middleware.Decision{}, err
	}

	count := int(countCmd.Val())
	if count >= policy.Limit {
		retry := policy.Window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retry = oldestAt.Add(policy.Window).Sub(now)
			if retry <= 0 {
				retry = time.Second
			}
		}
		return middleware.Decision{
			Allowed:    false,
			RetryAfter: retry,
			Remaining:  0,
			ResetAt:    now.Add(retry),
		}, nil
	}

	record := l.client.TxPipeline()
	record.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10) + ":" + strconv.Itoa(count),
	})
	record.Expire(ctx, redisKey, policy.Window+time.Minute)
	if _, err := record.Exec(ctx); err != nil {
		return middleware.Decision{}, err
	}

	return middleware.Decision{
		Allowed:   true,
		Remaining: policy.Limit - count - 1,
		ResetAt:   now.Add(policy.Window),
	}, nil
}
