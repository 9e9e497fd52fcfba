package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/veriguard/veriguard/models"
)

// Kind is the stable error code surfaced to callers.
type Kind string

const (
	KindInvalidInput          Kind = "INVALID_INPUT"
	KindNotFound              Kind = "NOT_FOUND"
	KindExpired               Kind = "EXPIRED"
	KindAlreadyVerified       Kind = "ALREADY_VERIFIED"
	KindPolicyBlocked         Kind = "POLICY_BLOCKED"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindInternal              Kind = "INTERNAL"
)

// Error is the structured error type crossing component boundaries. Callers
// never see raw causes; the Kind is the stable contract.
type Error struct {
	Kind     Kind
	Message  string
	Severity models.Severity
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by Kind, so sentinel comparisons like
// errors.Is(err, apperrors.NotFound("")) work across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Expired(message string) *Error {
	return &Error{Kind: KindExpired, Message: message}
}

func AlreadyVerified(message string) *Error {
	return &Error{Kind: KindAlreadyVerified, Message: message}
}

func PolicyBlocked(message string, severity models.Severity) *Error {
	return &Error{Kind: KindPolicyBlocked, Message: message, Severity: severity}
}

func DependencyUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindDependencyUnavailable, Message: message, Cause: cause}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the transport status used by the boundary
// layer. The core never writes statuses itself.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired:
		return http.StatusGone
	case KindAlreadyVerified:
		return http.StatusConflict
	case KindPolicyBlocked:
		return http.StatusForbidden
	case KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
