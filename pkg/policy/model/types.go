package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RuleCategory groups business rules for administration and reporting.
type RuleCategory string

const (
	CategoryKYCEligibility         RuleCategory = "KYC_ELIGIBILITY"
	CategorySpendManagement        RuleCategory = "SPEND_MANAGEMENT"
	CategoryTransactionMonitoring  RuleCategory = "TRANSACTION_MONITORING"
	CategoryCompliance             RuleCategory = "COMPLIANCE"
	CategoryRiskManagement         RuleCategory = "RISK_MANAGEMENT"
	CategoryGeographicRestrictions RuleCategory = "GEOGRAPHIC_RESTRICTIONS"
)

// Valid reports whether c is one of the known rule categories.
func (c RuleCategory) Valid() bool {
	switch c {
	case CategoryKYCEligibility, CategorySpendManagement, CategoryTransactionMonitoring,
		CategoryCompliance, CategoryRiskManagement, CategoryGeographicRestrictions:
		return true
	}
	return false
}

// RulePriority orders business rules. Higher values are more urgent.
type RulePriority int

// PolicyPriority orders multisig policies. Lower values are more urgent:
// 0 is Emergency and 4 is Low.
type PolicyPriority int

const (
	PolicyPriorityEmergency PolicyPriority = 0
	PolicyPriorityCritical  PolicyPriority = 1
	PolicyPriorityHigh      PolicyPriority = 2
	PolicyPriorityMedium    PolicyPriority = 3
	PolicyPriorityLow       PolicyPriority = 4
)

// Valid reports whether p is within the Emergency..Low range.
func (p PolicyPriority) Valid() bool {
	return p >= PolicyPriorityEmergency && p <= PolicyPriorityLow
}

// String returns the display name of the priority level.
func (p PolicyPriority) String() string {
	switch p {
	case PolicyPriorityEmergency:
		return "emergency"
	case PolicyPriorityCritical:
		return "critical"
	case PolicyPriorityHigh:
		return "high"
	case PolicyPriorityMedium:
		return "medium"
	case PolicyPriorityLow:
		return "low"
	}
	return "unknown"
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpGreaterThan Operator = "greaterThan"
	OpLessThan    Operator = "lessThan"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpBetween     Operator = "between"
)

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpGreaterThan, OpLessThan, OpContains, OpIn, OpBetween:
		return true
	}
	return false
}

// LogicOperator links a condition to the running result of the conditions before it.
type LogicOperator string

const (
	LogicNone LogicOperator = ""
	LogicAnd  LogicOperator = "AND"
	LogicOr   LogicOperator = "OR"
)

// Condition is a single comparison against a transaction context field.
type Condition struct {
	// Field is the key looked up in the transaction context.
	Field string `json:"field" yaml:"field"`

	// Operator is the comparison to perform.
	Operator Operator `json:"operator" yaml:"operator"`

	// Value is the literal (or list of literals) compared against.
	Value interface{} `json:"value" yaml:"value"`

	// LogicOperator combines this condition with the result of all previous
	// conditions. It must be empty on the first condition of a list.
	LogicOperator LogicOperator `json:"logicOperator,omitempty" yaml:"logicOperator,omitempty"`
}

// Rule is a versioned business rule.
type Rule struct {
	ID          string       `json:"id" yaml:"id" validate:"required,max=128"`
	Name        string       `json:"name" yaml:"name" validate:"required,max=256"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Category    RuleCategory `json:"category" yaml:"category" validate:"required"`
	Priority    RulePriority `json:"priority" yaml:"priority" validate:"gte=0"`
	Active      bool         `json:"active" yaml:"active"`
	Conditions  []Condition  `json:"conditions" yaml:"conditions"`
	Actions     []Action     `json:"actions" yaml:"actions"`

	// RequiredFields lists context fields whose absence is an error rather
	// than a non-match.
	RequiredFields []string `json:"requiredFields,omitempty" yaml:"requiredFields,omitempty"`

	Version   int64     `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt,omitempty"`
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	c.Conditions = append([]Condition(nil), r.Conditions...)
	c.Actions = append([]Action(nil), r.Actions...)
	c.RequiredFields = append([]string(nil), r.RequiredFields...)
	return &c
}

// MultisigPolicyType classifies a multisig policy.
type MultisigPolicyType string

const (
	PolicyTypeTransactionLimit  MultisigPolicyType = "transaction_limit"
	PolicyTypeTimeBased         MultisigPolicyType = "time_based"
	PolicyTypeApprovalHierarchy MultisigPolicyType = "approval_hierarchy"
	PolicyTypeVelocityLimit     MultisigPolicyType = "velocity_limit"
	PolicyTypeGeographic        MultisigPolicyType = "geographic"
	PolicyTypeTokenSpecific     MultisigPolicyType = "token_specific"
)

// Valid reports whether t is a known policy type.
func (t MultisigPolicyType) Valid() bool {
	switch t {
	case PolicyTypeTransactionLimit, PolicyTypeTimeBased, PolicyTypeApprovalHierarchy,
		PolicyTypeVelocityLimit, PolicyTypeGeographic, PolicyTypeTokenSpecific:
		return true
	}
	return false
}

// SignatureRequirements is the signing contract a multisig policy imposes.
type SignatureRequirements struct {
	RequiredSignatures int      `json:"requiredSignatures" yaml:"requiredSignatures" validate:"gte=1"`
	TimeDelaySeconds   int      `json:"timeDelaySeconds" yaml:"timeDelaySeconds" validate:"gte=0"`
	ApproverRoles      []string `json:"approverRoles" yaml:"approverRoles"`
	ExcludedRoles      []string `json:"excludedRoles,omitempty" yaml:"excludedRoles,omitempty"`
}

// EffectiveRoles returns the approver roles left after removing the
// policy's own exclusions, sorted and deduplicated.
func (s SignatureRequirements) EffectiveRoles() []string {
	excluded := make(map[string]struct{}, len(s.ExcludedRoles))
	for _, r := range s.ExcludedRoles {
		excluded[r] = struct{}{}
	}
	seen := make(map[string]struct{}, len(s.ApproverRoles))
	roles := make([]string, 0, len(s.ApproverRoles))
	for _, r := range s.ApproverRoles {
		if _, ok := excluded[r]; ok {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// MultisigPolicy requires N signatures for matching transactions.
type MultisigPolicy struct {
	ID             string                `json:"id" yaml:"id" validate:"required,max=128"`
	Name           string                `json:"name" yaml:"name" validate:"required,max=256"`
	Type           MultisigPolicyType    `json:"type" yaml:"type" validate:"required"`
	Priority       PolicyPriority        `json:"priority" yaml:"priority"`
	Conditions     []Condition           `json:"conditions" yaml:"conditions"`
	RequiredFields []string              `json:"requiredFields,omitempty" yaml:"requiredFields,omitempty"`
	Requirements   SignatureRequirements `json:"requirements" yaml:"requirements"`

	// WalletIDs scopes the policy. An empty set applies to every wallet.
	WalletIDs []string `json:"walletIds,omitempty" yaml:"walletIds,omitempty"`
	Enforced  bool     `json:"enforced" yaml:"enforced"`

	Version   int64     `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt,omitempty"`
}

// AppliesToWallet reports whether the policy targets walletID.
func (p *MultisigPolicy) AppliesToWallet(walletID string) bool {
	if len(p.WalletIDs) == 0 {
		return true
	}
	for _, id := range p.WalletIDs {
		if id == walletID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the policy.
func (p *MultisigPolicy) Clone() *MultisigPolicy {
	if p == nil {
		return nil
	}
	c := *p
	c.Conditions = append([]Condition(nil), p.Conditions...)
	c.RequiredFields = append([]string(nil), p.RequiredFields...)
	c.WalletIDs = append([]string(nil), p.WalletIDs...)
	c.Requirements.ApproverRoles = append([]string(nil), p.Requirements.ApproverRoles...)
	c.Requirements.ExcludedRoles = append([]string(nil), p.Requirements.ExcludedRoles...)
	return &c
}

// LimitScope is the accounting window of a spend limit.
type LimitScope string

const (
	ScopeDaily          LimitScope = "daily"
	ScopeMonthly        LimitScope = "monthly"
	ScopePerTransaction LimitScope = "perTransaction"
)

// Valid reports whether s is a known scope.
func (s LimitScope) Valid() bool {
	switch s {
	case ScopeDaily, ScopeMonthly, ScopePerTransaction:
		return true
	}
	return false
}

// SpendLimitState is the persisted usage of one entity within one scope.
type SpendLimitState struct {
	EntityID     string          `json:"entityId"`
	Scope        LimitScope      `json:"scope"`
	Limit        decimal.Decimal `json:"limit"`
	CurrentUsage decimal.Decimal `json:"currentUsage"`
	WindowStart  time.Time       `json:"windowStart"`

	// Location is the IANA zone used for window boundaries. Empty means UTC.
	Location  string    `json:"location,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
