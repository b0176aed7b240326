package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError[ExpectedT any](actual interface{}) error {
	return errors.Errorf("expected %T but got %T", *new(ExpectedT), actual)
}

// NewNotFoundError is used when a named item is missing from a table.
func NewNotFoundError(kind, name string) error {
	return errors.Errorf("%s %q not found", kind, name)
}
