package ecr

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by this package. Test for them with errors.Is.
//
// Validation, not-found and already-exists errors are contract violations of
// the caller and are never retried. ErrStoreUnavailable marks transport
// failures of the backing graph; the store does not retry them either.
var (
	ErrUnknownType      = errors.New("unknown type")
	ErrValidationFailed = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// Reason classifies a FieldError.
type Reason int

const (
	// ReasonUnknownType marks a component or relationship whose type is not
	// registered.
	ReasonUnknownType Reason = iota
	// ReasonMissing marks an absent required property.
	ReasonMissing
	// ReasonMismatch marks a property whose value is not of the declared kind.
	ReasonMismatch
)

// FieldError is a single validation failure.
type FieldError struct {
	// Type is the component or relationship type being validated.
	Type string
	// Property is empty for ReasonUnknownType.
	Property string
	Reason   Reason
	// Expected and Actual are set for ReasonMismatch.
	Expected PropertyKind
	Actual   PropertyKind
}

func (e FieldError) Error() string {
	switch e.Reason {
	case ReasonUnknownType:
		return "unknown type: " + e.Type
	case ReasonMissing:
		return "missing required property: " + e.Property
	case ReasonMismatch:
		return fmt.Sprintf("type mismatch for property %s: expected %s, got %s", e.Property, e.Expected, e.Actual)
	}
	return "invalid property: " + e.Property
}

// ValidationError aggregates the field errors of one write request.
//
// It matches ErrUnknownType when any of its errors is a ReasonUnknownType, and
// ErrValidationFailed otherwise.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, f := range e.Errors {
		if f.Type != "" && f.Reason != ReasonUnknownType {
			msgs[i] = f.Type + ": " + f.Error()
		} else {
			msgs[i] = f.Error()
		}
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error {
	for _, f := range e.Errors {
		if f.Reason == ReasonUnknownType {
			return ErrUnknownType
		}
	}
	return ErrValidationFailed
}

// notFound wraps ErrNotFound with the kind and id of the missing record.
func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
