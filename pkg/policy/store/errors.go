package store

import (
	"fmt"

	"monay-hq/authz/pkg/policy/model"
)

type notFoundError struct {
	kind, id string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.kind, e.id)
}

func (e *notFoundError) Unwrap() error {
	return model.ErrNotFound
}

type alreadyExistsError struct {
	kind, id string
}

func (e *alreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.kind, e.id)
}

func (e *alreadyExistsError) Unwrap() error {
	return model.ErrAlreadyExists
}
