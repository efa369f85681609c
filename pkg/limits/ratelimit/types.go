package ratelimit

import "time"

// Default values applied by NewLimiter.
const (
	DefaultIdleTTL = 10 * time.Minute
)

// Config configures the per-caller limits. Zero values disable the
// corresponding limit.
type Config struct {
	// RequestsPerSecond is the sustained request rate per caller.
	RequestsPerSecond float64

	// Burst is the bucket capacity. Defaults to twice RequestsPerSecond,
	// and never less than one request.
	Burst int

	// MaxConcurrent caps requests in flight per caller.
	MaxConcurrent int

	// IdleTTL is how long an idle caller's state is kept.
	IdleTTL time.Duration
}

// Enabled reports whether any limit is configured.
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0 || c.MaxConcurrent > 0
}

// Reasons reported in Result.Reason.
const (
	ReasonRate        = "rate"
	ReasonConcurrency = "concurrency"
)

// Result is the outcome of Acquire.
type Result struct {
	// Allowed indicates if the request may proceed.
	Allowed bool

	// Reason is ReasonRate or ReasonConcurrency when Allowed is false.
	Reason string

	// Limit is the bucket capacity, or the concurrency cap when the
	// concurrency limit rejected the request.
	Limit int64

	// Remaining is the number of whole requests left in the bucket.
	Remaining int64

	// RetryAfter suggests how long to wait before retrying.
	RetryAfter time.Duration
}
