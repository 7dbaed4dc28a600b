package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements the sliding-window-log pattern over Redis
// sorted sets (ZADD/ZREMRANGEBYSCORE/ZCARD), so counters are shared
// across every instance of a multi-process deployment.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Check runs one pipelined round-trip per window: trim entries older than
// the window, record this request, and read back the window's count.
func (r *RedisLimiter) Check(key string, limits Limits) (Result, error) {
	ctx := context.Background()
	now := time.Now()

	result := Result{Allowed: true, Windows: make(map[Window]WindowStatus, 3)}

	for _, w := range []Window{WindowMinute, WindowHour, WindowDay} {
		count, err := r.slideWindow(ctx, key, w, now)
		if err != nil {
			return Result{}, fmt.Errorf("ratelimit redis window %s: %w", w, err)
		}

		limit := limits.forWindow(w)
		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		resetAt := now.Add(w.duration())
		result.Windows[w] = WindowStatus{Limit: limit, Remaining: remaining, ResetAt: resetAt}

		if limit > 0 && count > int64(limit) && result.Allowed {
			result.Allowed = false
			result.Violated = w
			result.RetryAfter = w.duration()
		}
	}

	return result, nil
}

func (r *RedisLimiter) slideWindow(ctx context.Context, key string, w Window, now time.Time) (int64, error) {
	windowKey := fmt.Sprintf("ratelimit:%s:%s", key, w)
	cutoff := now.Add(-w.duration()).UnixNano()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, windowKey, "0", fmt.Sprintf("%d", cutoff))
	pipe.ZAdd(ctx, windowKey, redis.Z{Score: float64(now.UnixNano()), Member: fmt.Sprintf("%d", now.UnixNano())})
	card := pipe.ZCard(ctx, windowKey)
	pipe.Expire(ctx, windowKey, w.duration())

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}
