package model

import (
	"errors"
	"fmt"
)

// Error kinds shared by every layer. Callers match them with errors.Is.
var (
	// ErrValidation marks malformed input: empty identifiers, non-positive
	// sample coordinates, empty request fields.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown norm curve or route.
	ErrNotFound = errors.New("not found")
	// ErrDegenerate marks an unstable interpolation model that was replaced
	// by the linear fallback. It is informational, never fatal.
	ErrDegenerate = errors.New("degenerate model")
	// ErrBackpressure marks work refused because a bounded buffer is full.
	ErrBackpressure = errors.New("backpressure")
	// ErrUnavailable marks a call made while the service is not running.
	ErrUnavailable = errors.New("unavailable")
)

// KindError tags a cause with one of the error kinds above and the
// operation that produced it.
type KindError struct {
	Op    string
	Kind  error
	Cause error
}

func (e *KindError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Cause)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *KindError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// NewKind returns a KindError without an underlying cause.
func NewKind(op string, kind error) error {
	return &KindError{Op: op, Kind: kind}
}

// WrapKind tags cause with kind.
func WrapKind(op string, kind, cause error) error {
	return &KindError{Op: op, Kind: kind, Cause: cause}
}

// Validationf is shorthand for a validation error with a formatted cause.
func Validationf(op, format string, args ...any) error {
	return WrapKind(op, ErrValidation, fmt.Errorf(format, args...))
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
