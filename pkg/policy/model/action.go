package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ActionType identifies what an action does when its rule fires.
type ActionType string

const (
	ActionBlock    ActionType = "block"
	ActionFlag     ActionType = "flag"
	ActionApprove  ActionType = "approve"
	ActionEscalate ActionType = "escalate"
	ActionNotify   ActionType = "notify"
	ActionSetLimit ActionType = "setLimit"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionBlock, ActionFlag, ActionApprove, ActionEscalate, ActionNotify, ActionSetLimit:
		return true
	}
	return false
}

// Gating reports whether the action type decides the transaction outcome.
// Notify and setLimit are side effects only.
func (t ActionType) Gating() bool {
	switch t {
	case ActionBlock, ActionFlag, ActionApprove, ActionEscalate:
		return true
	}
	return false
}

// ActionParameters is the typed parameter set of one action type.
type ActionParameters interface {
	ActionType() ActionType
}

// BlockParams parameterizes a block action.
type BlockParams struct {
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// FlagParams parameterizes a flag action.
type FlagParams struct {
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Severity string `json:"severity,omitempty" yaml:"severity,omitempty"`
}

// ApproveParams parameterizes an approve action.
type ApproveParams struct {
	Note string `json:"note,omitempty" yaml:"note,omitempty"`
}

// EscalateParams parameterizes an escalate action. ApprovalLevels is the
// minimum number of signatures the escalation demands.
type EscalateParams struct {
	ApprovalLevels int      `json:"approvalLevels" yaml:"approvalLevels"`
	Roles          []string `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// NotifyParams parameterizes a notify action.
type NotifyParams struct {
	Recipients []string `json:"recipients" yaml:"recipients"`
	Channel    string   `json:"channel,omitempty" yaml:"channel,omitempty"`
	Template   string   `json:"template,omitempty" yaml:"template,omitempty"`
}

// SetLimitParams parameterizes a setLimit action. An empty EntityID targets
// the entity of the transaction being evaluated.
type SetLimitParams struct {
	Scope    LimitScope      `json:"scope"`
	Amount   decimal.Decimal `json:"amount"`
	EntityID string          `json:"entityId,omitempty"`
	Location string          `json:"location,omitempty"`
}

func (BlockParams) ActionType() ActionType    { return ActionBlock }
func (FlagParams) ActionType() ActionType     { return ActionFlag }
func (ApproveParams) ActionType() ActionType  { return ActionApprove }
func (EscalateParams) ActionType() ActionType { return ActionEscalate }
func (NotifyParams) ActionType() ActionType   { return ActionNotify }
func (SetLimitParams) ActionType() ActionType { return ActionSetLimit }

// UnmarshalYAML decodes the amount through its string form so that both
// quoted and bare numbers are accepted without float rounding.
func (p *SetLimitParams) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		Scope    LimitScope `yaml:"scope"`
		Amount   string     `yaml:"amount"`
		EntityID string     `yaml:"entityId"`
		Location string     `yaml:"location"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(aux.Amount)
	if err != nil {
		return fmt.Errorf("invalid setLimit amount %q: %w", aux.Amount, err)
	}
	*p = SetLimitParams{Scope: aux.Scope, Amount: amount, EntityID: aux.EntityID, Location: aux.Location}
	return nil
}

// MarshalYAML renders the amount as a string.
func (p SetLimitParams) MarshalYAML() (interface{}, error) {
	return map[string]interface{}{
		"scope":    p.Scope,
		"amount":   p.Amount.String(),
		"entityId": p.EntityID,
		"location": p.Location,
	}, nil
}

// Action is a typed side effect or outcome attached to a rule.
type Action struct {
	Type   ActionType
	Params ActionParameters
}

// NewAction returns an action whose type is taken from its parameters.
func NewAction(params ActionParameters) Action {
	return Action{Type: params.ActionType(), Params: params}
}

// emptyParams returns the zero parameter value for an action type.
func emptyParams(t ActionType) (ActionParameters, error) {
	switch t {
	case ActionBlock:
		return &BlockParams{}, nil
	case ActionFlag:
		return &FlagParams{}, nil
	case ActionApprove:
		return &ApproveParams{}, nil
	case ActionEscalate:
		return &EscalateParams{}, nil
	case ActionNotify:
		return &NotifyParams{}, nil
	case ActionSetLimit:
		return &SetLimitParams{}, nil
	}
	return nil, fmt.Errorf("unknown action type %q", t)
}

// deref turns the pointer used while decoding into the value stored on Action.
func deref(p ActionParameters) ActionParameters {
	switch v := p.(type) {
	case *BlockParams:
		return *v
	case *FlagParams:
		return *v
	case *ApproveParams:
		return *v
	case *EscalateParams:
		return *v
	case *NotifyParams:
		return *v
	case *SetLimitParams:
		return *v
	}
	return p
}

type actionWire struct {
	Type       ActionType      `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// MarshalJSON encodes the action as {"type": ..., "parameters": {...}}.
func (a Action) MarshalJSON() ([]byte, error) {
	w := actionWire{Type: a.Type}
	if a.Params != nil {
		raw, err := json.Marshal(a.Params)
		if err != nil {
			return nil, err
		}
		w.Parameters = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON selects the parameter struct from the action type.
func (a *Action) UnmarshalJSON(data []byte) error {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	params, err := emptyParams(w.Type)
	if err != nil {
		return &ActionError{Type: w.Type, Reason: err.Error()}
	}
	if len(w.Parameters) > 0 && string(w.Parameters) != "null" {
		if err := json.Unmarshal(w.Parameters, params); err != nil {
			return &ActionError{Type: w.Type, Reason: fmt.Sprintf("invalid parameters: %v", err)}
		}
	}
	a.Type = w.Type
	a.Params = deref(params)
	return nil
}

// MarshalYAML encodes the action as a type/parameters mapping.
func (a Action) MarshalYAML() (interface{}, error) {
	out := map[string]interface{}{"type": string(a.Type)}
	if a.Params != nil {
		out["parameters"] = a.Params
	}
	return out, nil
}

// UnmarshalYAML selects the parameter struct from the action type.
func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	var w struct {
		Type       ActionType `yaml:"type"`
		Parameters yaml.Node  `yaml:"parameters"`
	}
	if err := node.Decode(&w); err != nil {
		return err
	}
	params, err := emptyParams(w.Type)
	if err != nil {
		return &ActionError{Type: w.Type, Reason: err.Error()}
	}
	if w.Parameters.Kind != 0 {
		if err := w.Parameters.Decode(params); err != nil {
			return &ActionError{Type: w.Type, Reason: fmt.Sprintf("invalid parameters: %v", err)}
		}
	}
	a.Type = w.Type
	a.Params = deref(params)
	return nil
}
