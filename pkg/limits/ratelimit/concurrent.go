package ratelimit

import "sync/atomic"

// ConcurrentLimiter is a non-blocking counting semaphore.
type ConcurrentLimiter struct {
	limit   int64
	current atomic.Int64
}

// NewConcurrentLimiter creates a limiter admitting at most limit holders.
func NewConcurrentLimiter(limit int) *ConcurrentLimiter {
	return &ConcurrentLimiter{limit: int64(limit)}
}

// Acquire takes a slot if one is free. A successful Acquire must be paired
// with exactly one Release.
func (cl *ConcurrentLimiter) Acquire() bool {
	for {
		cur := cl.current.Load()
		if cur >= cl.limit {
			return false
		}
		if cl.current.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release frees a slot. Extra calls are ignored.
func (cl *ConcurrentLimiter) Release() {
	for {
		cur := cl.current.Load()
		if cur <= 0 {
			return
		}
		if cl.current.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Current returns the number of held slots.
func (cl *ConcurrentLimiter) Current() int64 {
	return cl.current.Load()
}

// Limit returns the configured cap.
func (cl *ConcurrentLimiter) Limit() int64 {
	return cl.limit
}

// Remaining returns the number of free slots.
func (cl *ConcurrentLimiter) Remaining() int64 {
	if r := cl.limit - cl.current.Load(); r > 0 {
		return r
	}
	return 0
}
