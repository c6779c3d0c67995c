// Package apperr defines the error taxonomy shared by every onboarding
// component and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure by how the caller can recover from it.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindInvalidState  Kind = "invalid_state"
	KindAlreadyExists Kind = "already_exists"
	KindNotFound      Kind = "not_found"
	KindExpired       Kind = "expired"
	KindInvalid       Kind = "invalid"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindConflict      Kind = "conflict"
	KindTransport     Kind = "transport_failure"
	KindInternal      Kind = "internal"
)

// Error is a structured business or transport failure.
type Error struct {
	Kind    Kind
	Message string
	// Target is the canonical path the caller should be routed to. Set on
	// InvalidState so clients never re-derive the decision table.
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

func InvalidState(msg, target string) *Error {
	return &Error{Kind: KindInvalidState, Message: msg, Target: target}
}

func AlreadyExists(msg string) *Error { return &Error{Kind: KindAlreadyExists, Message: msg} }

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

func Expired(msg string) *Error { return &Error{Kind: KindExpired, Message: msg} }

func Invalid(msg string) *Error { return &Error{Kind: KindInvalid, Message: msg} }

func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Message: msg} }

func Forbidden(msg string) *Error { return &Error{Kind: KindForbidden, Message: msg} }

func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Message: msg} }

// Transport wraps an unreachable collaborator. The message is what callers see;
// the cause is kept for logging only.
func Transport(msg string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: msg, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Status maps a kind onto an HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidState:
		return http.StatusBadRequest
	case KindAlreadyExists, KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired, KindInvalid, KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
