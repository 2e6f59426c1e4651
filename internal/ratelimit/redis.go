package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts requests per key in fixed windows shared by every
// instance pointing at the same Redis.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedis creates a limiter from a Redis URL such as redis://host:6379/0.
func NewRedis(redisURL string, cfg Config) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	cfg = cfg.withDefaults()
	return &RedisLimiter{
		client: redis.NewClient(opts),
		limit:  cfg.Requests,
		window: cfg.Window,
		now:    time.Now,
	}, nil
}

// Backend implements Limiter.
func (l *RedisLimiter) Backend() string { return "redis" }

// Ping checks connectivity.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the client.
func (l *RedisLimiter) Close() error {
	if err := l.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// Allow increments the counter for key's current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	resetAt := windowStart.Add(l.window)

	count, err := l.incrWithExpiry(ctx, windowKey(key, windowStart), l.window)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{
		Limit:     l.limit,
		Remaining: max(l.limit-int(count), 0),
		ResetAt:   resetAt,
	}
	if count > int64(l.limit) {
		d.RetryAfter = resetAt.Sub(now)
		return d, nil
	}
	d.Allowed = true
	return d, nil
}

func (l *RedisLimiter) incrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr rate counter: %w", err)
	}
	return incr.Val(), nil
}

func windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, windowStart.Unix())
}
