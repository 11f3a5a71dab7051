package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for the governance engine and common HTTP scenarios.
// Business-rule violations are returned to the caller synchronously and are
// never retried automatically.
var (
	ErrInvalidTransition   = New("INVALID_TRANSITION", http.StatusConflict, "illegal status transition")
	ErrPolicyMissing       = New("POLICY_MISSING", http.StatusPreconditionFailed, "no validation policy configured for risk tier")
	ErrApprovalConstraint  = New("APPROVAL_CONSTRAINT_VIOLATION", http.StatusBadRequest, "approval violates type/region constraints")
	ErrClosureRequirement  = New("CLOSURE_REQUIREMENT_VIOLATION", http.StatusBadRequest, "closing an exception requires reason and narrative")
	ErrDuplicateApproval   = New("DUPLICATE_APPROVAL", http.StatusConflict, "request is already fully approved")
	ErrStandaloneRating    = New("STANDALONE_RATING_REQUIRED", http.StatusPreconditionFailed, "region requires a standalone risk rating before submission")
	ErrCompletionImmutable = New("COMPLETION_IMMUTABLE", http.StatusConflict, "completion date is already set")

	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// InvalidTransition builds an InvalidTransition error naming the current and
// attempted target states.
func InvalidTransition(from, to string) *Error {
	return Clone(ErrInvalidTransition, fmt.Sprintf("illegal transition from %s to %s", from, to))
}
