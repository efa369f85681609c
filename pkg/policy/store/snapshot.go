package store

import (
	"sort"
	"time"

	"monay-hq/authz/pkg/policy/model"
)

// Snapshot is an immutable view of every rule and policy at one version.
// Callers must not modify the rules or policies it returns.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time

	// Rules are ordered by precedence: priority descending, then ID.
	Rules []*model.Rule

	// Policies are ordered by urgency: priority ascending, then ID.
	Policies []*model.MultisigPolicy

	active   []*model.Rule
	enforced []*model.MultisigPolicy
	rules    map[string]*model.Rule
	policies map[string]*model.MultisigPolicy
}

func newSnapshot(version int64, loadedAt time.Time, rules []*model.Rule, policies []*model.MultisigPolicy) *Snapshot {
	s := &Snapshot{
		Version:  version,
		LoadedAt: loadedAt,
		Rules:    rules,
		Policies: policies,
		rules:    make(map[string]*model.Rule, len(rules)),
		policies: make(map[string]*model.MultisigPolicy, len(policies)),
	}

	sort.Slice(s.Rules, func(i, j int) bool {
		if s.Rules[i].Priority != s.Rules[j].Priority {
			return s.Rules[i].Priority > s.Rules[j].Priority
		}
		return s.Rules[i].ID < s.Rules[j].ID
	})
	sort.Slice(s.Policies, func(i, j int) bool {
		if s.Policies[i].Priority != s.Policies[j].Priority {
			return s.Policies[i].Priority < s.Policies[j].Priority
		}
		return s.Policies[i].ID < s.Policies[j].ID
	})

	for _, r := range s.Rules {
		s.rules[r.ID] = r
		if r.Active {
			s.active = append(s.active, r)
		}
	}
	for _, p := range s.Policies {
		s.policies[p.ID] = p
		if p.Enforced {
			s.enforced = append(s.enforced, p)
		}
	}
	return s
}

// ActiveRules returns the active rules in precedence order.
func (s *Snapshot) ActiveRules() []*model.Rule {
	return s.active
}

// EnforcedPolicies returns the enforced policies in urgency order.
func (s *Snapshot) EnforcedPolicies() []*model.MultisigPolicy {
	return s.enforced
}

// Rule looks up a rule by ID.
func (s *Snapshot) Rule(id string) (*model.Rule, bool) {
	r, ok := s.rules[id]
	return r, ok
}

// Policy looks up a policy by ID.
func (s *Snapshot) Policy(id string) (*model.MultisigPolicy, bool) {
	p, ok := s.policies[id]
	return p, ok
}

// withRule returns a copy of s with r inserted or replaced.
func (s *Snapshot) withRule(version int64, now time.Time, r *model.Rule) *Snapshot {
	rules := make([]*model.Rule, 0, len(s.Rules)+1)
	for _, existing := range s.Rules {
		if existing.ID != r.ID {
			rules = append(rules, existing)
		}
	}
	rules = append(rules, r)
	return newSnapshot(version, now, rules, append([]*model.MultisigPolicy(nil), s.Policies...))
}

// withPolicy returns a copy of s with p inserted or replaced.
func (s *Snapshot) withPolicy(version int64, now time.Time, p *model.MultisigPolicy) *Snapshot {
	policies := make([]*model.MultisigPolicy, 0, len(s.Policies)+1)
	for _, existing := range s.Policies {
		if existing.ID != p.ID {
			policies = append(policies, existing)
		}
	}
	policies = append(policies, p)
	return newSnapshot(version, now, append([]*model.Rule(nil), s.Rules...), policies)
}
