package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedCondition indicates a condition that cannot be evaluated.
	ErrMalformedCondition = errors.New("malformed condition")

	// ErrMalformedAction indicates an action whose type or parameters are invalid.
	ErrMalformedAction = errors.New("malformed action")

	// ErrMissingRequiredField indicates a required context field was absent.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrUnsatisfiableRequirement indicates that matching multisig policies
	// demand more signatures than there are eligible approver roles.
	ErrUnsatisfiableRequirement = errors.New("unsatisfiable multisig requirement")

	// ErrVersionConflict indicates an administrative write against a stale version.
	ErrVersionConflict = errors.New("version conflict")

	// ErrReservationExpired indicates a spend reservation outlived its TTL.
	ErrReservationExpired = errors.New("reservation expired")

	// ErrReservationNotFound indicates an unknown reservation id.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrLimitExceeded indicates a debit that would push usage past its limit.
	ErrLimitExceeded = errors.New("spend limit exceeded")

	// ErrLimitNotFound indicates no limit is configured for an entity and scope.
	ErrLimitNotFound = errors.New("spend limit not found")

	// ErrNotFound indicates an unknown rule or policy id.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a create for an id that is already stored.
	ErrAlreadyExists = errors.New("already exists")

	// ErrReadOnly indicates a write against a read-only rule backend.
	ErrReadOnly = errors.New("rule backend is read-only")
)

// FieldError describes one invalid field of a rule or policy.
type FieldError struct {
	// Field is the path of the offending field, e.g. "conditions[2].value".
	Field string `json:"field"`

	// Index is the condition or action index, or -1 for top-level fields.
	Index int `json:"index"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError is returned by administrative writes that fail validation.
type ValidationError struct {
	// Kind is "rule" or "policy".
	Kind   string       `json:"kind"`
	ID     string       `json:"id"`
	Errors []FieldError `json:"errors"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s %q is invalid: %s", e.Kind, e.ID, e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %q is invalid with %d errors:", e.Kind, e.ID, len(e.Errors))
	for _, fe := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(fe.Error())
	}
	return sb.String()
}

// Unwrap lets callers match the malformed condition or action sentinels.
func (e *ValidationError) Unwrap() []error {
	var errs []error
	for _, fe := range e.Errors {
		switch {
		case strings.HasPrefix(fe.Field, "conditions["):
			errs = append(errs, ErrMalformedCondition)
		case strings.HasPrefix(fe.Field, "actions["):
			errs = append(errs, ErrMalformedAction)
		}
	}
	return errs
}

// ConditionError reports a condition that cannot be evaluated.
type ConditionError struct {
	Index    int
	Field    string
	Operator Operator
	Reason   string
}

// Error implements the error interface.
func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %d (%s %s): %s", e.Index, e.Field, e.Operator, e.Reason)
}

// Unwrap returns ErrMalformedCondition.
func (e *ConditionError) Unwrap() error {
	return ErrMalformedCondition
}

// ActionError reports an action that cannot be decoded or executed.
type ActionError struct {
	Index  int
	Type   ActionType
	Reason string
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q: %s", e.Type, e.Reason)
}

// Unwrap returns ErrMalformedAction.
func (e *ActionError) Unwrap() error {
	return ErrMalformedAction
}

// MissingFieldError reports an absent required context field.
type MissingFieldError struct {
	Field string
}

// Error implements the error interface.
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// Unwrap returns ErrMissingRequiredField.
func (e *MissingFieldError) Unwrap() error {
	return ErrMissingRequiredField
}

// VersionConflictError reports an optimistic concurrency failure.
type VersionConflictError struct {
	Kind     string
	ID       string
	Expected int64
	Actual   int64
}

// Error implements the error interface.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s %q: expected version %d, current version is %d", e.Kind, e.ID, e.Expected, e.Actual)
}

// Unwrap returns ErrVersionConflict.
func (e *VersionConflictError) Unwrap() error {
	return ErrVersionConflict
}

// UnsatisfiableError reports a multisig requirement that no approver set can meet.
type UnsatisfiableError struct {
	RequiredSignatures int
	ApproverRoles      []string
	PolicyIDs          []string
}

// Error implements the error interface.
func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("%d signatures required but only %d approver roles remain %v (policies %v)",
		e.RequiredSignatures, len(e.ApproverRoles), e.ApproverRoles, e.PolicyIDs)
}

// Unwrap returns ErrUnsatisfiableRequirement.
func (e *UnsatisfiableError) Unwrap() error {
	return ErrUnsatisfiableRequirement
}
