// Package apperrors holds the error kinds shared by the execution engine.
// Callers classify failures with errors.Is against the sentinels below.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed create request. Nothing is persisted.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned for missing records and for records owned by another user.
	ErrNotFound = errors.New("not found")
	// ErrDomainExecution marks an exchange rejection or a failed leverage call.
	ErrDomainExecution = errors.New("execution failed")
	// ErrInfrastructure marks store, queue or transport failures.
	ErrInfrastructure = errors.New("infrastructure error")
	// ErrInvalidState is returned when an entity is not in a status that allows the operation.
	ErrInvalidState = errors.New("invalid state")
)

// ValidationError describes which field of a request was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFound wraps ErrNotFound with the entity name. The id is deliberately left out of the
// message so a foreign record and a missing record read the same.
func NotFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

// Execution wraps ErrDomainExecution with the exchange message.
func Execution(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDomainExecution, fmt.Sprintf(format, args...))
}

// Infrastructure wraps err as ErrInfrastructure, keeping err in the chain.
func Infrastructure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrInfrastructure, op, err)
}

// InvalidState wraps ErrInvalidState.
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
