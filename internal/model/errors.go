package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure surfaced to callers of the sync core.
type ErrorCode string

const (
	// ErrCodeValidation rejects an intent before any state change.
	ErrCodeValidation ErrorCode = "VALIDATION"
	// ErrCodeNotFound reports a missing entity, locally or on the server.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeUnauthorized reports a missing or refused actor identity.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeConflict reports an id collision or an operation against a
	// provisional id whose create has not settled.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeTransport reports a server or network failure.
	ErrCodeTransport ErrorCode = "TRANSPORT"
)

// Error is the structured error type of the sync core.
type Error struct {
	Code    ErrorCode
	Message string
	Kind    Kind
	ID      string
	Err     error
}

func (e *Error) Error() string {
	var subject string
	switch {
	case e.Kind != "" && e.ID != "":
		subject = fmt.Sprintf(" %s/%s", e.Kind, e.ID)
	case e.Kind != "":
		subject = " " + string(e.Kind)
	}
	msg := fmt.Sprintf("[%s]%s: %s", e.Code, subject, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error with a formatted message.
func NewError(code ErrorCode, kind Kind, id string, format string, args ...any) *Error {
	return &Error{Code: code, Kind: kind, ID: id, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError builds a VALIDATION error.
func NewValidationError(kind Kind, id string, format string, args ...any) *Error {
	return NewError(ErrCodeValidation, kind, id, format, args...)
}

// NewNotFoundError builds a NOT_FOUND error.
func NewNotFoundError(kind Kind, id string) *Error {
	return NewError(ErrCodeNotFound, kind, id, "entity not found")
}

// WrapTransport wraps a transport failure.
func WrapTransport(kind Kind, id string, err error) *Error {
	return &Error{Code: ErrCodeTransport, Kind: kind, ID: id, Message: "transport failed", Err: err}
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidationError reports whether err is a VALIDATION error.
func IsValidationError(err error) bool { return CodeOf(err) == ErrCodeValidation }

// IsNotFoundError reports whether err is a NOT_FOUND error.
func IsNotFoundError(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsUnauthorizedError reports whether err is an UNAUTHORIZED error.
func IsUnauthorizedError(err error) bool { return CodeOf(err) == ErrCodeUnauthorized }

// IsConflictError reports whether err is a CONFLICT error.
func IsConflictError(err error) bool { return CodeOf(err) == ErrCodeConflict }

// IsTransportError reports whether err is a TRANSPORT error.
func IsTransportError(err error) bool { return CodeOf(err) == ErrCodeTransport }
