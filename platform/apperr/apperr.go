// Package apperr provides standardized domain error types for the application.
// Domain services return these typed errors so callers receive a small closed
// set of error kinds and can distinguish "nothing happened" from "partially
// happened, system flagged" without inspecting storage errors.
package apperr

import (
	"fmt"
)

// Kind represents the category of error.
type Kind int

const (
	// KindUnknown is the default error kind when none is specified.
	KindUnknown Kind = iota
	// KindTenantResolution indicates the tenant registry was unreachable or
	// the tenant is unknown. Retryable.
	KindTenantResolution
	// KindTenantDisabled indicates the tenant exists but is disabled.
	// Terminal for the request.
	KindTenantDisabled
	// KindNotFound indicates a user lookup failed.
	KindNotFound
	// KindInvalidToken indicates an expired, wrong-purpose, or unverifiable
	// transfer token. Terminal, no retry.
	KindInvalidToken
	// KindAuthorizationDenied indicates the role hierarchy check failed.
	KindAuthorizationDenied
	// KindConstraintViolation indicates a caller-correctable conflict with
	// existing state (e.g., duplicate email).
	KindConstraintViolation
	// KindConflict indicates a concurrent operation holds the tenant
	// transfer lock.
	KindConflict
	// KindIntegrity indicates saga compensation failed and the tenant may be
	// in an inconsistent state. Requires human remediation.
	KindIntegrity
	// KindInternal indicates an unexpected internal error.
	KindInternal
)

// Error is a domain error with a typed Kind.
type Error struct {
	Kind    Kind
	Message string
	Op      string // Operation that failed (optional)
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the operation unchanged.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTenantResolution, KindConflict:
		return true
	default:
		return false
	}
}

// New creates a new domain error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithOp returns the error with the operation set.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// Convenience constructors for common error types.

// TenantResolution creates a tenant resolution failure.
func TenantResolution(message string) *Error {
	return New(KindTenantResolution, message)
}

// TenantDisabled creates a disabled-tenant error.
func TenantDisabled(message string) *Error {
	return New(KindTenantDisabled, message)
}

// NotFound creates a not found error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// InvalidToken creates an invalid transfer token error.
func InvalidToken(message string) *Error {
	return New(KindInvalidToken, message)
}

// AuthorizationDenied creates a hierarchy-check denial.
func AuthorizationDenied(message string) *Error {
	return New(KindAuthorizationDenied, message)
}

// ConstraintViolation creates a constraint violation error.
func ConstraintViolation(message string) *Error {
	return New(KindConstraintViolation, message)
}

// Conflict creates a conflict error.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// Integrity creates a data-integrity error. Never swallowed; callers must
// surface it and log at the highest severity.
func Integrity(message string) *Error {
	return New(KindIntegrity, message)
}

// Internal creates an internal error.
func Internal(message string) *Error {
	return New(KindInternal, message)
}

// GetKind extracts the error kind from an error.
// Returns KindUnknown if the error is not an *Error.
func GetKind(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindUnknown
}

// Is checks if err is an *Error with the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
