package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Limiter decides whether key may act now. retryAfter is the time left in
// the current window when the answer is no.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration)
}

// RedisFixedWindowLimiter limits requests per key in a fixed window shared by every replica.
type RedisFixedWindowLimiter struct {
	limit  int
	window time.Duration
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisFixedWindowLimiter creates a Redis-backed distributed limiter.
func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*RedisFixedWindowLimiter, error) {
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "zerogchat:ratelimit"
	}
	return &RedisFixedWindowLimiter{
		limit:  limit,
		window: window,
		client: client,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// Allow fails closed: a Redis error denies the request.
func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l == nil {
		return false, 0
	}
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	retryAfter := time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond

	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, normalizeKey(key), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		slog.Warn("rate limiter unavailable", "err", err)
		return false, retryAfter
	}
	if count > int64(l.limit) {
		return false, retryAfter
	}
	return true, 0
}

// MemoryFixedWindowLimiter is the single-instance fallback when Redis is not configured.
type MemoryFixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	slot   int64
	counts map[string]int
}

func NewMemoryFixedWindowLimiter(limit int, window time.Duration) (*MemoryFixedWindowLimiter, error) {
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &MemoryFixedWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		counts: make(map[string]int),
	}, nil
}

func (l *MemoryFixedWindowLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	retryAfter := time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond

	l.mu.Lock()
	defer l.mu.Unlock()
	if slot != l.slot {
		// new window: drop every counter from the previous one
		l.slot = slot
		clear(l.counts)
	}
	key = normalizeKey(key)
	if l.counts[key] >= l.limit {
		return false, retryAfter
	}
	l.counts[key]++
	return true, 0
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}
