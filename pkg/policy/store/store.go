package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"monay-hq/authz/pkg/policy/model"
)

// Reload results reported to the Observer.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Observer receives reload outcomes, typically for metrics.
type Observer interface {
	ObserveReload(result string)
}

// Config configures a Store.
type Config struct {
	// Backend persists rules and policies. Default: empty in-memory backend.
	Backend Backend

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time

	Logger   *slog.Logger
	Observer Observer
}

// Store publishes rule and policy snapshots and serializes administrative
// writes against its backend.
type Store struct {
	backend  Backend
	clock    func() time.Time
	logger   *slog.Logger
	observer Observer

	current atomic.Pointer[Snapshot]

	// writeMu serializes writes and reloads so that snapshot versions are
	// published in order.
	writeMu sync.Mutex
}

// New creates a store and loads its first snapshot. A backend whose content
// fails validation is an error: the store never starts on a partial rule set.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		cfg.Backend = NewMemoryBackend(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Store{
		backend:  cfg.Backend,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "policy.store"),
		observer: cfg.Observer,
	}
	s.current.Store(newSnapshot(0, s.clock(), nil, nil))

	if err := s.Reload(ctx); err != nil {
		return nil, fmt.Errorf("initial load failed: %w", err)
	}
	return s, nil
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload rebuilds the snapshot from the backend. If anything fails to load
// or validate, the current snapshot is kept and every problem is returned.
func (s *Store) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	bundle, err := s.backend.Load(ctx)
	if err != nil {
		s.observe(ResultFailure)
		s.logger.Error("rule reload failed", "error", err)
		return fmt.Errorf("failed to load rules: %w", err)
	}

	rules, policies, err := prepareBundle(bundle)
	if err != nil {
		s.observe(ResultFailure)
		s.logger.Error("rule reload rejected, keeping current snapshot",
			"version", s.Snapshot().Version,
			"error", err,
		)
		return err
	}

	next := newSnapshot(s.Snapshot().Version+1, s.clock(), rules, policies)
	s.current.Store(next)
	s.observe(ResultSuccess)

	s.logger.Info("rules loaded",
		"version", next.Version,
		"rules", len(next.Rules),
		"active_rules", len(next.ActiveRules()),
		"policies", len(next.Policies),
		"enforced_policies", len(next.EnforcedPolicies()),
	)
	return nil
}

// prepareBundle validates a loaded bundle and rejects duplicate IDs.
// Entries stored without a version are treated as version 1.
func prepareBundle(bundle *Bundle) ([]*model.Rule, []*model.MultisigPolicy, error) {
	if bundle == nil {
		bundle = &Bundle{}
	}

	var errs []error
	rules := make([]*model.Rule, 0, len(bundle.Rules))
	seenRules := make(map[string]struct{}, len(bundle.Rules))
	for _, r := range bundle.Rules {
		if err := model.ValidateRule(r); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seenRules[r.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate rule id %q", r.ID))
			continue
		}
		seenRules[r.ID] = struct{}{}

		r = r.Clone()
		if r.Version == 0 {
			r.Version = 1
		}
		rules = append(rules, r)
	}

	policies := make([]*model.MultisigPolicy, 0, len(bundle.Policies))
	seenPolicies := make(map[string]struct{}, len(bundle.Policies))
	for _, p := range bundle.Policies {
		if err := model.ValidatePolicy(p); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seenPolicies[p.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate policy id %q", p.ID))
			continue
		}
		seenPolicies[p.ID] = struct{}{}

		p = p.Clone()
		if p.Version == 0 {
			p.Version = 1
		}
		policies = append(policies, p)
	}

	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return rules, policies, nil
}

// CreateRule validates and stores a new rule at version 1.
func (s *Store) CreateRule(ctx context.Context, rule *model.Rule) (*model.Rule, error) {
	return s.putRule(ctx, rule, 0)
}

// UpdateRule replaces a rule. expectedVersion must equal the stored version.
func (s *Store) UpdateRule(ctx context.Context, rule *model.Rule, expectedVersion int64) (*model.Rule, error) {
	if expectedVersion <= 0 {
		return nil, fmt.Errorf("update of rule requires an expected version")
	}
	return s.putRule(ctx, rule, expectedVersion)
}

// ToggleRule activates or deactivates a rule.
func (s *Store) ToggleRule(ctx context.Context, id string, active bool, expectedVersion int64) (*model.Rule, error) {
	current, ok := s.Snapshot().Rule(id)
	if !ok {
		return nil, &notFoundError{kind: "rule", id: id}
	}
	next := current.Clone()
	next.Active = active
	return s.UpdateRule(ctx, next, expectedVersion)
}

func (s *Store) putRule(ctx context.Context, rule *model.Rule, expectedVersion int64) (*model.Rule, error) {
	if err := model.ValidateRule(rule); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.Snapshot()
	now := s.clock()

	next := rule.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	if existing, ok := snap.Rule(next.ID); ok && expectedVersion != 0 {
		next.CreatedAt = existing.CreatedAt
	} else if expectedVersion == 0 || next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}

	if err := s.backend.PutRule(ctx, next, expectedVersion); err != nil {
		s.logger.Warn("rule write rejected",
			"rule_id", next.ID,
			"expected_version", expectedVersion,
			"error", err,
		)
		return nil, err
	}

	published := snap.withRule(snap.Version+1, now, next)
	s.current.Store(published)

	s.logger.Info("rule stored",
		"rule_id", next.ID,
		"rule_version", next.Version,
		"active", next.Active,
		"snapshot_version", published.Version,
	)
	return next.Clone(), nil
}

// CreatePolicy validates and stores a new multisig policy at version 1.
func (s *Store) CreatePolicy(ctx context.Context, policy *model.MultisigPolicy) (*model.MultisigPolicy, error) {
	return s.putPolicy(ctx, policy, 0)
}

// UpdatePolicy replaces a multisig policy. expectedVersion must equal the
// stored version.
func (s *Store) UpdatePolicy(ctx context.Context, policy *model.MultisigPolicy, expectedVersion int64) (*model.MultisigPolicy, error) {
	if expectedVersion <= 0 {
		return nil, fmt.Errorf("update of policy requires an expected version")
	}
	return s.putPolicy(ctx, policy, expectedVersion)
}

// ToggleEnforcement turns enforcement of a multisig policy on or off.
func (s *Store) ToggleEnforcement(ctx context.Context, id string, enforced bool, expectedVersion int64) (*model.MultisigPolicy, error) {
	current, ok := s.Snapshot().Policy(id)
	if !ok {
		return nil, &notFoundError{kind: "policy", id: id}
	}
	next := current.Clone()
	next.Enforced = enforced
	return s.UpdatePolicy(ctx, next, expectedVersion)
}

func (s *Store) putPolicy(ctx context.Context, policy *model.MultisigPolicy, expectedVersion int64) (*model.MultisigPolicy, error) {
	if err := model.ValidatePolicy(policy); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.Snapshot()
	now := s.clock()

	next := policy.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	if existing, ok := snap.Policy(next.ID); ok && expectedVersion != 0 {
		next.CreatedAt = existing.CreatedAt
	} else if expectedVersion == 0 || next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}

	if err := s.backend.PutPolicy(ctx, next, expectedVersion); err != nil {
		s.logger.Warn("policy write rejected",
			"policy_id", next.ID,
			"expected_version", expectedVersion,
			"error", err,
		)
		return nil, err
	}

	published := snap.withPolicy(snap.Version+1, now, next)
	s.current.Store(published)

	s.logger.Info("policy stored",
		"policy_id", next.ID,
		"policy_version", next.Version,
		"enforced", next.Enforced,
		"snapshot_version", published.Version,
	)
	return next.Clone(), nil
}

// Import creates every rule and policy of bundle that the store does not
// already hold. Existing entries are left untouched. It returns the number
// of entries created.
func (s *Store) Import(ctx context.Context, bundle *Bundle) (int, error) {
	if bundle == nil {
		return 0, nil
	}
	if _, _, err := prepareBundle(bundle); err != nil {
		return 0, err
	}

	created := 0
	for _, r := range bundle.Rules {
		if _, ok := s.Snapshot().Rule(r.ID); ok {
			continue
		}
		if _, err := s.CreateRule(ctx, r); err != nil {
			if errors.Is(err, model.ErrAlreadyExists) {
				continue
			}
			return created, fmt.Errorf("failed to import rule %q: %w", r.ID, err)
		}
		created++
	}
	for _, p := range bundle.Policies {
		if _, ok := s.Snapshot().Policy(p.ID); ok {
			continue
		}
		if _, err := s.CreatePolicy(ctx, p); err != nil {
			if errors.Is(err, model.ErrAlreadyExists) {
				continue
			}
			return created, fmt.Errorf("failed to import policy %q: %w", p.ID, err)
		}
		created++
	}

	if created > 0 {
		s.logger.Info("rule bundle imported", "created", created)
	}
	return created, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) observe(result string) {
	if s.observer != nil {
		s.observer.ObserveReload(result)
	}
}
