package auth

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// AttemptLimiter caps login and register attempts per client key to attempts
// per fixed window. The window opens on a key's first attempt and is judged
// against the injected clock; the cache only evicts idle keys.
type AttemptLimiter struct {
	mu       sync.Mutex
	windows  *cache.Cache
	attempts int
	window   time.Duration
	now      func() time.Time
}

type attemptWindow struct {
	limiter *rate.Limiter
	resetAt time.Time
}

// NewAttemptLimiter creates a limiter. now defaults to time.Now.
func NewAttemptLimiter(attempts int, window time.Duration, now func() time.Time) *AttemptLimiter {
	if attempts <= 0 {
		attempts = 25
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &AttemptLimiter{
		windows:  cache.New(window, window),
		attempts: attempts,
		window:   window,
		now:      now,
	}
}

// Allow consumes one attempt for key and reports whether it was permitted.
func (l *AttemptLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var current *attemptWindow
	if cached, ok := l.windows.Get(key); ok {
		current = cached.(*attemptWindow)
	}
	if current == nil || !now.Before(current.resetAt) {
		// A bucket that never refills: the whole window's allowance up front.
		current = &attemptWindow{
			limiter: rate.NewLimiter(0, l.attempts),
			resetAt: now.Add(l.window),
		}
		l.windows.Set(key, current, l.window)
	}

	return current.limiter.AllowN(now, 1)
}

// Len reports how many client windows are tracked.
func (l *AttemptLimiter) Len() int {
	return l.windows.ItemCount()
}
