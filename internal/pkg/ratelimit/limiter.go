// Package ratelimit implements sliding-window admission control on Redis.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Result describes one window check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// FailOpen is set when the store could not be reached and the request was let through.
	FailOpen bool

	key    string
	member string
}

// Disabled reports whether the result comes from a window with no limit.
func (r Result) Disabled() bool {
	return r.Limit <= 0
}

// Limiter checks sliding windows stored as one sorted set per key.
// Members are scored by their admission time in milliseconds.
type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewLimiter creates a limiter on the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// WithClock overrides the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// CheckLimit admits one request against key if fewer than limit requests were
// admitted within the trailing window. A limit <= 0 disables the window.
func (l *Limiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) Result {
	now := l.now()
	if limit <= 0 {
		return Result{Allowed: true, Limit: limit, Remaining: 0, ResetAt: now}
	}
	if window <= 0 {
		window = time.Minute
	}

	nowMs := now.UnixMilli()
	windowStart := nowMs - window.Milliseconds()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[RateLimit] Store unavailable for %s, failing open: %v", key, err)
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window), FailOpen: true}
	}

	count := int(countCmd.Val())
	resetAt := now.Add(window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(window)
	}

	if count >= limit {
		if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
			log.Warnf("[RateLimit] Failed to roll back rejected entry on %s: %v", key, err)
		}
		retryAfter := resetAt.Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}
	}

	remaining := limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: resetAt, key: key, member: member}
}

// Undo removes the entry an allowed result added, giving the slot back.
func (l *Limiter) Undo(ctx context.Context, r Result) error {
	if !r.Allowed || r.member == "" {
		return nil
	}
	return l.client.ZRem(ctx, r.key, r.member).Err()
}

// Headers renders the result as standard rate-limit response headers.
// A disabled window renders none.
func (r Result) Headers() map[string]string {
	if r.Disabled() {
		return map[string]string{}
	}
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
	if !r.Allowed {
		secs := int64(r.RetryAfter / time.Second)
		if r.RetryAfter%time.Second != 0 {
			secs++
		}
		h["Retry-After"] = strconv.FormatInt(secs, 10)
	}
	return h
}
