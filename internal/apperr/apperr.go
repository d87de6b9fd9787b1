// Package apperr defines the typed failure reasons returned by convoy
// commands and their mapping onto HTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable failure reason.
type Code string

const (
	CodeNotLeader              Code = "NOT_LEADER"
	CodeNotActiveMember        Code = "NOT_ACTIVE_MEMBER"
	CodeTargetNotActiveMember  Code = "TARGET_NOT_ACTIVE_MEMBER"
	CodeTripNotActive          Code = "TRIP_NOT_ACTIVE"
	CodeAlreadyMember          Code = "ALREADY_MEMBER"
	CodeInviteExpired          Code = "INVITE_EXPIRED"
	CodeInviteAlreadyUsed      Code = "INVITE_ALREADY_USED"
	CodeInviteNotFound         Code = "INVITE_NOT_FOUND"
	CodePersistenceUnavailable Code = "PERSISTENCE_UNAVAILABLE"
	CodeStaleWrite             Code = "STALE_WRITE"
	CodeTripNotFound           Code = "TRIP_NOT_FOUND"
	CodeInvalidTransition      Code = "INVALID_TRANSITION"
	CodeForbidden              Code = "FORBIDDEN"
	CodeInvalidArgument        Code = "INVALID_ARGUMENT"
)

// HTTPStatus maps a code onto the status used by the HTTP API.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotLeader, CodeForbidden:
		return http.StatusForbidden
	case CodeNotActiveMember, CodeTargetNotActiveMember, CodeTripNotActive, CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	case CodeAlreadyMember, CodeInviteAlreadyUsed, CodeStaleWrite:
		return http.StatusConflict
	case CodeInviteExpired:
		return http.StatusGone
	case CodeInviteNotFound, CodeTripNotFound:
		return http.StatusNotFound
	case CodePersistenceUnavailable:
		return http.StatusServiceUnavailable
	case CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error with a code that keeps cause in the chain.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

var (
	ErrNotLeader              = New(CodeNotLeader, "caller is not the convoy leader")
	ErrNotActiveMember        = New(CodeNotActiveMember, "user is not an active convoy member")
	ErrTargetNotActiveMember  = New(CodeTargetNotActiveMember, "target is not an active convoy member")
	ErrTripNotActive          = New(CodeTripNotActive, "trip does not accept this operation in its current status")
	ErrAlreadyMember          = New(CodeAlreadyMember, "user is already an active convoy member")
	ErrInviteExpired          = New(CodeInviteExpired, "invite has expired")
	ErrInviteAlreadyUsed      = New(CodeInviteAlreadyUsed, "invite has already been used")
	ErrInviteNotFound         = New(CodeInviteNotFound, "invite not found")
	ErrPersistenceUnavailable = New(CodePersistenceUnavailable, "persistence unavailable")
	ErrStaleWrite             = New(CodeStaleWrite, "conditional update lost to a concurrent writer")
	ErrTripNotFound           = New(CodeTripNotFound, "trip not found")
	ErrInvalidTransition      = New(CodeInvalidTransition, "trip status transition not allowed")
	ErrForbidden              = New(CodeForbidden, "operation not permitted for this user")
	ErrInvalidArgument        = New(CodeInvalidArgument, "invalid argument")
)

// CodeOf returns the code carried by err, or "" when err is not coded.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Transient reports whether retrying the whole operation may succeed.
func Transient(err error) bool {
	switch CodeOf(err) {
	case CodePersistenceUnavailable, CodeStaleWrite:
		return true
	default:
		return false
	}
}

// Unavailable wraps an infrastructure failure as PersistenceUnavailable.
func Unavailable(cause error) error {
	if cause == nil || CodeOf(cause) != "" {
		return cause
	}
	return Wrap(CodePersistenceUnavailable, "persistence unavailable", cause)
}
