package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Config is the sliding-window policy applied per (client, action) pair.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultConfig mirrors the login/password-reset policy: at most 10 attempts
// per 3-minute window per client.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 10,
		Window:      3 * time.Minute,
	}
}

// Limiter throttles sensitive actions with a sliding window over Redis
// sorted sets. The counters live in Redis so every process serving the same
// client sees the same window, and the pipelined update is safe under
// concurrent requests.
type Limiter struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

func NewLimiter(client *redis.Client, cfg Config) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}

	return &Limiter{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Allow records one attempt and reports whether it fits inside the window.
// Rejected attempts still count, so hammering a limited endpoint extends the
// lockout instead of resetting it.
func (l *Limiter) Allow(ctx context.Context, clientKey, action string) (bool, error) {
	key := windowKey(clientKey, action)
	now := l.now()
	windowStart := now.Add(-l.cfg.Window)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.cfg.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to update rate limit window: %w", err)
	}

	return count.Val() <= int64(l.cfg.MaxAttempts), nil
}

func windowKey(clientKey, action string) string {
	return "rl:" + action + ":" + clientKey
}
