package crawler

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RateLimiterSettings configures token-bucket style rate limiting per origin.
type RateLimiterSettings struct {
	Requests int
	Window   time.Duration
}

// OriginLimiter enforces per-origin politeness: a jittered delay before every
// attempt, an optional token bucket, and a cap on concurrent tasks.
type OriginLimiter struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	rate        RateLimiterSettings
	rateEnabled bool
	concurrency int64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	slots    map[string]*semaphore.Weighted

	sleep func(ctx context.Context, d time.Duration) error
}

// NewOriginLimiter creates a limiter. A concurrency below one is treated as one.
func NewOriginLimiter(minDelay, maxDelay time.Duration, rateCfg RateLimiterSettings, concurrency int) *OriginLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	limiter := &OriginLimiter{
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		concurrency: int64(concurrency),
		slots:       make(map[string]*semaphore.Weighted),
		sleep:       sleepFor,
	}
	if rateCfg.Requests > 0 && rateCfg.Window > 0 {
		limiter.rateEnabled = true
		limiter.rate = rateCfg
		limiter.limiters = make(map[string]*rate.Limiter)
	}
	return limiter
}

// Wait blocks until politeness constraints for the origin are satisfied.
// It is called before every direct attempt, retries included.
func (l *OriginLimiter) Wait(ctx context.Context, origin string) error {
	if l == nil || origin == "" {
		return nil
	}
	origin = strings.ToLower(origin)

	if d := l.delay(); d > 0 {
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}

	if !l.rateEnabled {
		return nil
	}
	l.mu.Lock()
	limiter := l.ensureLimiterLocked(origin)
	l.mu.Unlock()
	return limiter.Wait(ctx)
}

// Acquire takes one of the origin's concurrency slots. The returned release
// must be called exactly once.
func (l *OriginLimiter) Acquire(ctx context.Context, origin string) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	origin = strings.ToLower(origin)
	l.mu.Lock()
	sem, ok := l.slots[origin]
	if !ok {
		sem = semaphore.NewWeighted(l.concurrency)
		l.slots[origin] = sem
	}
	l.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

func (l *OriginLimiter) delay() time.Duration {
	if l.maxDelay <= 0 {
		return 0
	}
	span := l.maxDelay - l.minDelay
	if span <= 0 {
		return l.minDelay
	}
	return l.minDelay + rand.N(span+1)
}

func (l *OriginLimiter) ensureLimiterLocked(origin string) *rate.Limiter {
	limiter, ok := l.limiters[origin]
	if ok {
		return limiter
	}
	interval := l.rate.Window / time.Duration(l.rate.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter = rate.NewLimiter(rate.Every(interval), l.rate.Requests)
	l.limiters[origin] = limiter
	return limiter
}

func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
