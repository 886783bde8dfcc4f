// Package apperr defines the error taxonomy shared by the Keyfold services.
// Handlers map these types onto HTTP status codes; services wrap storage
// failures into them so callers see the precise failure origin.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind int

const (
	// KindValidation marks malformed input. Never retried.
	KindValidation Kind = iota
	// KindNotFound marks a missing import, folder, environment, or project.
	KindNotFound
	// KindConflict marks a duplicate import edge or similar uniqueness clash.
	KindConflict
	// KindForbidden marks a permission failure on either scope of an operation.
	KindForbidden
	// KindDatabase wraps an underlying storage failure. Safe to retry whole
	// operations since all position-repair transactions are atomic.
	KindDatabase
)

// Error is a classified application error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewValidation returns a validation error for the given field.
func NewValidation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound returns a not-found error.
func NewNotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewConflict returns a conflict error.
func NewConflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NewForbidden returns a forbidden error.
func NewForbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// WrapDatabase wraps a storage failure.
func WrapDatabase(err error, format string, args ...any) *Error {
	return &Error{Kind: KindDatabase, Message: fmt.Sprintf(format, args...), cause: err}
}

// KindOf returns the kind of err if it is (or wraps) an *Error, and true on
// success. Unclassified errors report KindDatabase, false.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return KindDatabase, false
}

// IsNotFound reports whether err is a not-found application error.
func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}

// IsConflict reports whether err is a conflict application error.
func IsConflict(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindConflict
}

// IsValidation reports whether err is a validation application error.
func IsValidation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindValidation
}

// IsForbidden reports whether err is a forbidden application error.
func IsForbidden(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindForbidden
}
