package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dskow/baas-gateway/internal/config"
)

// fixedWindowSize is the Redis counting window. One second keeps the
// budget equivalent to the in-process requests_per_second setting.
const fixedWindowSize = time.Second

// FixedWindow is the shared strategy: a per-client counter in Redis,
// reset every window, so multiple gateway instances enforce one budget.
// Redis errors fail open — an unreachable Redis must not take the
// gateway down with it.
type FixedWindow struct {
	client *redis.Client
	logger *slog.Logger

	mu    sync.RWMutex
	limit int
}

// NewFixedWindow creates a FixedWindow strategy connected to the Redis
// instance named in cfg.Redis.
func NewFixedWindow(cfg config.RateLimitConfig, logger *slog.Logger) *FixedWindow {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return &FixedWindow{
		client: client,
		logger: logger,
		limit:  windowLimit(cfg),
	}
}

// windowLimit maps the token-bucket settings onto a per-window count:
// the steady rate plus the burst allowance.
func windowLimit(cfg config.RateLimitConfig) int {
	limit := int(cfg.RequestsPerSecond) + cfg.BurstSize
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Allow increments the client's counter for the current window and
// checks it against the limit.
func (f *FixedWindow) Allow(ctx context.Context, key string) bool {
	f.mu.RLock()
	limit := f.limit
	f.mu.RUnlock()

	window := time.Now().Unix()
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, window)

	pipe := f.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*fixedWindowSize)
	if _, err := pipe.Exec(ctx); err != nil {
		f.logger.Warn("redis rate limit check failed, allowing request", "error", err)
		return true
	}

	return incr.Val() <= int64(limit)
}

// UpdateConfig applies hot-reloaded settings. Only the limit changes;
// the Redis connection is kept.
func (f *FixedWindow) UpdateConfig(cfg config.RateLimitConfig) {
	f.mu.Lock()
	f.limit = windowLimit(cfg)
	f.mu.Unlock()
}

// RetryAfter is the remainder of the current window, approximated by
// the window size.
func (f *FixedWindow) RetryAfter() time.Duration {
	return fixedWindowSize
}

// Stop closes the Redis connection.
func (f *FixedWindow) Stop() {
	if err := f.client.Close(); err != nil {
		f.logger.Warn("closing redis client", "error", err)
	}
}
