package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests per key in fixed windows.
type RateLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRateLimiter(c *Client, prefix string) *RateLimiter {
	return &RateLimiter{rdb: c.rdb, prefix: prefix, now: time.Now}
}

// Allow counts one request for key and reports whether it is within limit
// for the current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, fmt.Errorf("redis: rate limit window must be positive")
	}
	bucket := rl.now().UnixNano() / int64(window)
	k := rl.prefix + "ratelimit:" + key + ":" + strconv.FormatInt(bucket, 10)

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}
