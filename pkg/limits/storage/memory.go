package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"monay-hq/authz/pkg/policy/model"
)

// MemoryBackend implements Backend using in-memory storage.
// All data is lost when the process exits.
type MemoryBackend struct {
	// states maps composite key (scope:entity) to limit state.
	states map[string]*model.SpendLimitState
	mu     sync.RWMutex
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		states: make(map[string]*model.SpendLimitState),
	}
}

func memoryKey(entityID string, scope model.LimitScope) string {
	return string(scope) + ":" + entityID
}

// Save persists the state. The caller's value is copied.
func (m *MemoryBackend) Save(ctx context.Context, state *model.SpendLimitState) error {
	if err := checkState(state); err != nil {
		return err
	}
	stored := cloneState(state)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[memoryKey(state.EntityID, state.Scope)] = stored
	return nil
}

// Load returns a copy of the stored state, or nil.
func (m *MemoryBackend) Load(ctx context.Context, entityID string, scope model.LimitScope) (*model.SpendLimitState, error) {
	if err := checkKey(entityID, scope); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneState(m.states[memoryKey(entityID, scope)]), nil
}

// Delete removes the state for an entity and scope.
func (m *MemoryBackend) Delete(ctx context.Context, entityID string, scope model.LimitScope) error {
	if err := checkKey(entityID, scope); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, memoryKey(entityID, scope))
	return nil
}

// List returns copies of all states for a scope.
func (m *MemoryBackend) List(ctx context.Context, scope model.LimitScope) ([]*model.SpendLimitState, error) {
	m.mu.RLock()
	out := make([]*model.SpendLimitState, 0)
	for _, s := range m.states {
		if s.Scope == scope {
			out = append(out, cloneState(s))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// Close is a no-op for the memory backend.
func (m *MemoryBackend) Close() error {
	return nil
}
