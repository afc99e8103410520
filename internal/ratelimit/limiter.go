// Package ratelimit implements per-client admission control for the
// ingestion endpoint using a sliding window counter backed by redis. The
// window state is shared, so every replica of the service enforces one
// global budget per client.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/snapforge/snapforge-api/internal/config"
)

// keyPrefix namespaces limiter keys in the shared redis instance.
const keyPrefix = "rate_limit:"

// Result is the outcome of one admission decision, carrying everything the
// HTTP layer needs for the X-RateLimit-* headers.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// counter counts a client's requests inside the current window, including
// the one being decided. Narrowed to an interface so the decision logic can
// be tested without redis.
type counter interface {
	Count(ctx context.Context, key string, now time.Time) (int64, error)
}

// Limiter makes admission decisions against a shared window counter.
//
// When the counter is unreachable the limiter degrades deterministically:
// fail-open admits without counting, fail-closed rejects. The infrastructure
// failure is a policy input, never an error to the caller.
type Limiter struct {
	counter  counter
	limit    int
	window   time.Duration
	failOpen bool
	logger   *slog.Logger
}

// NewLimiter creates a Limiter configured from cfg, counting against the
// given redis client.
// If logger is nil, a default logger will be used.
func NewLimiter(client *redis.Client, cfg config.RateLimitConfig, logger *slog.Logger) *Limiter {
	if client == nil {
		panic("client cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	window := time.Duration(cfg.WindowSeconds) * time.Second

	return &Limiter{
		counter:  &redisCounter{client: client, window: window},
		limit:    cfg.Limit,
		window:   window,
		failOpen: cfg.FailOpen,
		logger:   logger.With(slog.String("component", "rate_limiter")),
	}
}

// Allow decides whether the client identified by clientID may proceed and
// returns the header values describing the decision. Every call counts
// toward the window, including denied ones.
func (l *Limiter) Allow(ctx context.Context, clientID string) Result {
	now := time.Now().UTC()
	key := keyPrefix + sanitizeClientID(clientID)

	count, err := l.counter.Count(ctx, key, now)
	if err != nil {
		l.logger.Error("window counter unreachable",
			slog.String("client_id", clientID),
			slog.Bool("fail_open", l.failOpen),
			slog.String("error", err.Error()))
		return l.degraded(now)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   now.Add(l.window),
	}
	if !result.Allowed {
		result.RetryAfter = l.window
	}

	return result
}

// degraded is the deterministic decision used when counting is impossible.
func (l *Limiter) degraded(now time.Time) Result {
	if l.failOpen {
		return Result{
			Allowed:   true,
			Limit:     l.limit,
			Remaining: l.limit,
			ResetAt:   now.Add(l.window),
		}
	}
	return Result{
		Allowed:    false,
		Limit:      l.limit,
		Remaining:  0,
		ResetAt:    now.Add(l.window),
		RetryAfter: l.window,
	}
}

// sanitizeClientID makes an IP (possibly IPv6) safe to embed in a redis key.
func sanitizeClientID(clientID string) string {
	return strings.ReplaceAll(clientID, ":", "_")
}

// redisCounter maintains one sorted set per client, scored by request
// timestamp. Trimming, insertion, counting, and TTL refresh execute in a
// single MULTI/EXEC pipeline so concurrent requests cannot interleave
// between the trim and the count.
type redisCounter struct {
	client *redis.Client
	window time.Duration
}

func (c *redisCounter) Count(ctx context.Context, key string, now time.Time) (int64, error) {
	windowStart := now.Add(-c.window)

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score: float64(now.UnixMilli()),
		// The timestamp alone would collide for same-millisecond requests
		Member: fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()),
	})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, c.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit pipeline failed: %w", err)
	}

	return card.Val(), nil
}
