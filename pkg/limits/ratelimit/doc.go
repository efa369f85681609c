// Package ratelimit throttles API callers before they reach the policy
// engine.
//
// Spend limits bound how much money an entity may move. Rate limits bound
// how often a caller may ask: each caller key (a client ID header or the
// remote address) gets its own token bucket and, optionally, a cap on
// evaluations in flight.
//
//	limiter := ratelimit.NewLimiter(ratelimit.Config{
//	    RequestsPerSecond: 50,
//	    Burst:             100,
//	    MaxConcurrent:     8,
//	})
//
//	res, release := limiter.Acquire("payments-api")
//	if !res.Allowed {
//	    // respond 429, Retry-After: res.RetryAfter
//	    return
//	}
//	defer release()
//
// Callers that stay idle for Config.IdleTTL are forgotten, so an unbounded
// set of remote addresses does not grow the limiter without bound.
//
// # Thread Safety
//
// All types are safe for concurrent use.
package ratelimit
