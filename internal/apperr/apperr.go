// Package apperr defines the error kinds surfaced by the data-access
// substrate and social-graph engine, and the response envelope the
// follow service maps them into.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the category of a substrate error. Callers branch on
// Kind via errors.As(err, &appErr) rather than string matching.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindConnectionTimeout  Kind = "connection_timeout"
	KindStorageFailure     Kind = "storage_failure"
	KindCacheFailure       Kind = "cache_failure"
	KindInvariantViolation Kind = "invariant_violation"
)

// Error wraps an underlying cause with a Kind for classification.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error wrapping cause, or returns nil if cause is nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// Envelope is the response shape C9 maps every error (or success) into,
// per spec §7's propagation policy.
type Envelope struct {
	Success   bool      `json:"success"`
	ErrorCode string    `json:"error_code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Ok builds a successful envelope.
func Ok() Envelope {
	return Envelope{Success: true, Timestamp: time.Now()}
}

// FromError builds a failure envelope from err. Unrecognized errors are
// classified as storage failures, matching §7's "all other kinds
// propagate to C9" rule for anything the substrate didn't wrap itself.
func FromError(err error) Envelope {
	kind := KindOf(err)
	if kind == "" {
		kind = KindStorageFailure
	}
	return Envelope{
		Success:   false,
		ErrorCode: string(kind),
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
}
