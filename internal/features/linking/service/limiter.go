package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AttemptLimiter throttles password attempts per Telegram identity.
type AttemptLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*identityLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

type identityLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewAttemptLimiter allows perMinute attempts per identity with the given burst.
// A non-positive perMinute disables limiting.
func NewAttemptLimiter(perMinute float64, burst int) *AttemptLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60.0)
	}
	if burst <= 0 {
		burst = 1
	}
	return &AttemptLimiter{
		limiters: make(map[int64]*identityLimiter),
		limit:    limit,
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

// Allow consumes one attempt for telegramID. When it returns false, retryAfter
// is the wait until the next attempt is permitted.
func (l *AttemptLimiter) Allow(telegramID int64) (ok bool, retryAfter time.Duration) {
	lim := l.get(telegramID)
	now := time.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Reset forgets the attempt history of telegramID, e.g. after a successful link.
func (l *AttemptLimiter) Reset(telegramID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, telegramID)
}

// Run drops limiters unused for a while until ctx is done.
func (l *AttemptLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup(time.Now())
		}
	}
}

func (l *AttemptLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, il := range l.limiters {
		if now.Sub(il.lastAccess) > l.idle {
			delete(l.limiters, id)
		}
	}
}

func (l *AttemptLimiter) get(telegramID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	il, ok := l.limiters[telegramID]
	if !ok {
		il = &identityLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[telegramID] = il
	}
	il.lastAccess = time.Now()
	return il.limiter
}
