// Package apperrors defines the error taxonomy for the audit pipeline.
//
// Each error carries a Kind so callers can branch with errors.As without
// string-matching messages. Stores and collaborators wrap underlying causes
// with %w; the Kind survives wrapping.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"audittrail/pkg/sentinel"
)

// Kind classifies pipeline failures by how they must be handled.
type Kind string

const (
	// KindValidation marks a malformed change descriptor or bad query filter.
	// Rejected before staging, returned to the caller.
	KindValidation Kind = "validation"

	// KindEnqueue marks a failed outbox write. The enclosing mutation's
	// transaction must abort or the event is silently lost.
	KindEnqueue Kind = "enqueue"

	// KindDelivery marks a failed backend or stream call. Recoverable; drives
	// the retry/dead-letter path.
	KindDelivery Kind = "delivery"

	// KindConfiguration marks missing credentials or key material. Fatal at
	// startup or first use, never retried.
	KindConfiguration Kind = "configuration"

	// KindQuery marks an invalid history filter combination. Returned to the
	// caller, not logged as a system fault.
	KindQuery Kind = "query"
)

// Error is the pipeline error type. Cause may be nil.
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

// New creates an Error without an underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ToHTTPStatus maps error kinds to HTTP statuses for the read API.
func ToHTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindQuery:
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusServiceUnavailable
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrInvalidState):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
