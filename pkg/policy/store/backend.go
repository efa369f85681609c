package store

import (
	"context"
	"sync"

	"monay-hq/authz/pkg/policy/model"
)

// Bundle is a complete set of rules and policies, as loaded from a backend
// or a YAML file.
type Bundle struct {
	Rules    []*model.Rule           `json:"rules" yaml:"rules"`
	Policies []*model.MultisigPolicy `json:"policies" yaml:"policies"`
}

// Backend persists rules and policies.
//
// PutRule and PutPolicy are compare-and-swap writes: expectedVersion 0
// creates a new entry and fails with model.ErrAlreadyExists if the ID is
// taken; any other value must equal the stored version or the write fails
// with a *model.VersionConflictError.
type Backend interface {
	Load(ctx context.Context) (*Bundle, error)
	PutRule(ctx context.Context, rule *model.Rule, expectedVersion int64) error
	PutPolicy(ctx context.Context, policy *model.MultisigPolicy, expectedVersion int64) error
	Close() error
}

// MemoryBackend keeps rules and policies in process.
type MemoryBackend struct {
	mu       sync.RWMutex
	rules    map[string]*model.Rule
	policies map[string]*model.MultisigPolicy
}

// NewMemoryBackend creates a backend preloaded with bundle, which may be nil.
func NewMemoryBackend(bundle *Bundle) *MemoryBackend {
	b := &MemoryBackend{
		rules:    make(map[string]*model.Rule),
		policies: make(map[string]*model.MultisigPolicy),
	}
	if bundle != nil {
		for _, r := range bundle.Rules {
			b.rules[r.ID] = r.Clone()
		}
		for _, p := range bundle.Policies {
			b.policies[p.ID] = p.Clone()
		}
	}
	return b
}

func (b *MemoryBackend) Load(ctx context.Context) (*Bundle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := &Bundle{}
	for _, r := range b.rules {
		out.Rules = append(out.Rules, r.Clone())
	}
	for _, p := range b.policies {
		out.Policies = append(out.Policies, p.Clone())
	}
	return out, nil
}

func (b *MemoryBackend) PutRule(ctx context.Context, rule *model.Rule, expectedVersion int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var actual int64
	existing, ok := b.rules[rule.ID]
	if ok {
		actual = existing.Version
	}
	if err := checkVersion("rule", rule.ID, ok, actual, expectedVersion); err != nil {
		return err
	}
	b.rules[rule.ID] = rule.Clone()
	return nil
}

func (b *MemoryBackend) PutPolicy(ctx context.Context, policy *model.MultisigPolicy, expectedVersion int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var actual int64
	existing, ok := b.policies[policy.ID]
	if ok {
		actual = existing.Version
	}
	if err := checkVersion("policy", policy.ID, ok, actual, expectedVersion); err != nil {
		return err
	}
	b.policies[policy.ID] = policy.Clone()
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

// checkVersion applies the compare-and-swap contract shared by backends.
func checkVersion(kind, id string, exists bool, actual, expected int64) error {
	switch {
	case expected == 0 && exists:
		return &alreadyExistsError{kind: kind, id: id}
	case expected != 0 && !exists:
		return &notFoundError{kind: kind, id: id}
	case expected != 0 && actual != expected:
		return &model.VersionConflictError{Kind: kind, ID: id, Expected: expected, Actual: actual}
	}
	return nil
}
