package engine

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"monay-hq/authz/pkg/policy/condition"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/resolve"
)

// Config contains configuration for the policy engine.
type Config struct {
	// ConflictStrategy reconciles disagreeing rule outcomes.
	// Default: strictest.
	ConflictStrategy resolve.Strategy

	// LimitScopes are the spend scopes reserved on every evaluation.
	// Default: daily and perTransaction.
	LimitScopes []model.LimitScope

	// AutoCommit commits reservations of approve and flag decisions
	// immediately. When false they are held until Confirm.
	AutoCommit bool

	// DerivedFields are computed and added to the context before rules run.
	DerivedFields []condition.Derivation

	// Trace records per-rule and per-policy results on each Decision.
	// Warning: adds allocation per evaluation.
	Trace bool

	// PendingTTL bounds how long held reservations of one transaction are
	// tracked while waiting for Confirm or Invalidate.
	// Default: 72 hours.
	PendingTTL time.Duration

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time

	// Tracer opens a span per evaluation. Default: noop.
	Tracer trace.Tracer

	Logger   *slog.Logger
	Observer Observer
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ConflictStrategy: resolve.DefaultStrategy,
		LimitScopes:      []model.LimitScope{model.ScopeDaily, model.ScopePerTransaction},
		AutoCommit:       true,
		PendingTTL:       72 * time.Hour,
	}
}

// Validate validates the engine configuration.
func (c *Config) Validate() error {
	if c.ConflictStrategy != "" && !c.ConflictStrategy.Valid() {
		return fmt.Errorf("%w: unknown conflict strategy %q", ErrInvalidConfig, c.ConflictStrategy)
	}

	seen := make(map[model.LimitScope]struct{}, len(c.LimitScopes))
	for _, s := range c.LimitScopes {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown limit scope %q", ErrInvalidConfig, s)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: limit scope %q listed twice", ErrInvalidConfig, s)
		}
		seen[s] = struct{}{}
	}

	if c.PendingTTL < 0 {
		return fmt.Errorf("%w: pending ttl cannot be negative", ErrInvalidConfig)
	}
	return nil
}
