package repository

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// TouchLimiter decides whether a request may write last_used for a session now. It keeps the
// hot request path from issuing one UPDATE per request.
type TouchLimiter interface {
	Allow(ctx context.Context, sessionID string) bool
}

const touchKeyPrefix = "session:touch:"

// RedisTouchLimiter allows one touch per session per interval across all server instances using SET NX PX.
type RedisTouchLimiter struct {
	client   *goredis.Client
	interval time.Duration
}

// NewRedisTouchLimiter returns a limiter backed by client.
func NewRedisTouchLimiter(client *goredis.Client, interval time.Duration) *RedisTouchLimiter {
	return &RedisTouchLimiter{client: client, interval: interval}
}

// Allow reports true when no touch was recorded for the session within the interval.
// Redis errors allow the touch: a stale last_used is worse than an extra write.
func (l *RedisTouchLimiter) Allow(ctx context.Context, sessionID string) bool {
	if l.client == nil || l.interval <= 0 {
		return true
	}
	ok, err := l.client.SetNX(ctx, touchKeyPrefix+sessionID, 1, l.interval).Result()
	if err != nil {
		return true
	}
	return ok
}

// MemoryTouchLimiter is the single-process TouchLimiter used when Redis is not configured.
type MemoryTouchLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// NewMemoryTouchLimiter returns an in-process limiter.
func NewMemoryTouchLimiter(interval time.Duration) *MemoryTouchLimiter {
	return &MemoryTouchLimiter{interval: interval, last: make(map[string]time.Time), now: time.Now}
}

// Allow reports true when the session was not touched within the interval and records the touch.
func (l *MemoryTouchLimiter) Allow(_ context.Context, sessionID string) bool {
	if l.interval <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if prev, ok := l.last[sessionID]; ok && now.Sub(prev) < l.interval {
		return false
	}
	l.last[sessionID] = now
	if len(l.last) > 10000 {
		for id, at := range l.last {
			if now.Sub(at) >= l.interval {
				delete(l.last, id)
			}
		}
	}
	return true
}
