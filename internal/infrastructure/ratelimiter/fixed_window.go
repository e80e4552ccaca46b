package ratelimiter

import (
	"sync"
	"time"
)

// Limiter admits or rejects one attempt for key. When rejected it returns
// the time until the next window.
type Limiter interface {
	Allow(key string) (bool, time.Duration)
}

// Unlimited admits every attempt.
type Unlimited struct{}

func (Unlimited) Allow(string) (bool, time.Duration) { return true, 0 }

type FixedWindowRateLimiter struct {
	mu      sync.Mutex
	counts  map[string]*window
	limit   int
	length  time.Duration
	now     func() time.Time
	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once
}

type window struct {
	count   int
	resetAt time.Time
}

func NewFixedWindowRateLimiter(limit int, length time.Duration) *FixedWindowRateLimiter {
	rl := &FixedWindowRateLimiter{
		counts:  make(map[string]*window),
		limit:   limit,
		length:  length,
		now:     time.Now,
		cleanup: time.NewTicker(length),
		done:    make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *FixedWindowRateLimiter) Allow(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.counts[key]
	if !ok || !now.Before(w.resetAt) {
		rl.counts[key] = &window{count: 1, resetAt: now.Truncate(rl.length).Add(rl.length)}
		return true, 0
	}
	if w.count >= rl.limit {
		return false, w.resetAt.Sub(now)
	}
	w.count++
	return true, 0
}

func (rl *FixedWindowRateLimiter) startCleanup() {
	for {
		select {
		case <-rl.cleanup.C:
			rl.evictExpired()
		case <-rl.done:
			return
		}
	}
}

func (rl *FixedWindowRateLimiter) evictExpired() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.counts {
		if !now.Before(w.resetAt) {
			delete(rl.counts, key)
		}
	}
}

func (rl *FixedWindowRateLimiter) Close() {
	rl.once.Do(func() {
		close(rl.done)
		rl.cleanup.Stop()
	})
}
