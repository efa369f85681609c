package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limiter applies Config to each caller key independently.
type Limiter struct {
	config Config
	now    func() time.Time

	mu        sync.Mutex
	callers   map[string]*caller
	lastSweep time.Time
}

type caller struct {
	bucket     *TokenBucket
	concurrent *ConcurrentLimiter
	lastSeen   time.Time
}

// NewLimiter creates a limiter. A Config with no limits yields a limiter
// that admits everything.
func NewLimiter(cfg Config) *Limiter {
	return newLimiter(cfg, time.Now)
}

func newLimiter(cfg Config, now func() time.Time) *Limiter {
	if cfg.RequestsPerSecond > 0 && cfg.Burst <= 0 {
		cfg.Burst = int(math.Max(1, math.Ceil(cfg.RequestsPerSecond*2)))
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &Limiter{
		config:    cfg,
		now:       now,
		callers:   make(map[string]*caller),
		lastSweep: now(),
	}
}

// Acquire admits or rejects one request from key. When the result is
// allowed the caller must invoke release once the request completes;
// release is never nil and is safe to call more than once.
func (l *Limiter) Acquire(key string) (Result, func()) {
	if !l.config.Enabled() {
		return Result{Allowed: true}, func() {}
	}

	c := l.caller(key)

	if c.concurrent != nil && !c.concurrent.Acquire() {
		return Result{
			Allowed:    false,
			Reason:     ReasonConcurrency,
			Limit:      c.concurrent.Limit(),
			RetryAfter: time.Second,
		}, func() {}
	}

	if c.bucket != nil && !c.bucket.Take(1) {
		if c.concurrent != nil {
			c.concurrent.Release()
		}
		return Result{
			Allowed:    false,
			Reason:     ReasonRate,
			Limit:      c.bucket.Capacity(),
			Remaining:  c.bucket.Remaining(),
			RetryAfter: c.bucket.TimeUntilAvailable(1),
		}, func() {}
	}

	res := Result{Allowed: true}
	if c.bucket != nil {
		res.Limit = c.bucket.Capacity()
		res.Remaining = c.bucket.Remaining()
	}
	if c.concurrent == nil {
		return res, func() {}
	}
	var once sync.Once
	return res, func() { once.Do(c.concurrent.Release) }
}

// Len returns the number of callers currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

func (l *Limiter) caller(key string) *caller {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.config.IdleTTL {
		l.sweepLocked(now)
	}

	c, ok := l.callers[key]
	if !ok {
		c = &caller{}
		if l.config.RequestsPerSecond > 0 {
			c.bucket = newTokenBucket(int64(l.config.Burst), l.config.RequestsPerSecond, l.now)
		}
		if l.config.MaxConcurrent > 0 {
			c.concurrent = NewConcurrentLimiter(l.config.MaxConcurrent)
		}
		l.callers[key] = c
	}
	c.lastSeen = now
	return c
}

// sweepLocked forgets callers that have been idle for IdleTTL, hold no
// slots and whose bucket has refilled, so a returning caller is treated
// exactly as it would have been had it been kept. Caller must hold l.mu.
func (l *Limiter) sweepLocked(now time.Time) {
	for key, c := range l.callers {
		if now.Sub(c.lastSeen) < l.config.IdleTTL {
			continue
		}
		if c.concurrent != nil && c.concurrent.Current() > 0 {
			continue
		}
		if c.bucket != nil && !c.bucket.Full() {
			continue
		}
		delete(l.callers, key)
	}
	l.lastSweep = now
}
