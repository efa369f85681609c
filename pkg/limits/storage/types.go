package storage

import (
	"context"
	"fmt"

	"monay-hq/authz/pkg/policy/model"
)

// Backend defines the interface for spend limit persistence.
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Save persists the state for its entity and scope, replacing any
	// previous value.
	Save(ctx context.Context, state *model.SpendLimitState) error

	// Load retrieves the state for an entity and scope.
	// Returns nil if no state exists. Returns error on system failure.
	Load(ctx context.Context, entityID string, scope model.LimitScope) (*model.SpendLimitState, error)

	// Delete removes the state for an entity and scope.
	// No-op if state doesn't exist.
	Delete(ctx context.Context, entityID string, scope model.LimitScope) error

	// List returns all states for a scope, ordered by entity id.
	List(ctx context.Context, scope model.LimitScope) ([]*model.SpendLimitState, error)

	// Close releases any resources held by the backend.
	Close() error
}

func checkKey(entityID string, scope model.LimitScope) error {
	if entityID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if !scope.Valid() {
		return fmt.Errorf("invalid scope %q", scope)
	}
	return nil
}

func checkState(state *model.SpendLimitState) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}
	return checkKey(state.EntityID, state.Scope)
}

func cloneState(s *model.SpendLimitState) *model.SpendLimitState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
