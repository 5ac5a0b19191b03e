// Package apperr defines the error kinds returned across service boundaries
// and the single table that maps them to HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an expected failure.
type Kind int

const (
	// Internal is any unexpected failure (storage unavailable, bugs). Never shown to clients in detail.
	Internal Kind = iota
	// Invalid is malformed or rejected input.
	Invalid
	InvalidCredentials
	DuplicateEmail
	InvalidRefreshToken
	// SecurityViolation is refresh token reuse; all of the user's sessions were revoked.
	SecurityViolation
	Unauthenticated
	Forbidden
	NotFound
)

// statusByKind is the only place kinds become transport codes.
var statusByKind = map[Kind]int{
	Internal:            http.StatusInternalServerError,
	Invalid:             http.StatusBadRequest,
	InvalidCredentials:  http.StatusUnauthorized,
	DuplicateEmail:      http.StatusConflict,
	InvalidRefreshToken: http.StatusUnauthorized,
	SecurityViolation:   http.StatusUnauthorized,
	Unauthenticated:     http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	NotFound:            http.StatusNotFound,
}

var kindNames = map[Kind]string{
	Internal:            "internal",
	Invalid:             "invalid",
	InvalidCredentials:  "invalid_credentials",
	DuplicateEmail:      "duplicate_email",
	InvalidRefreshToken: "invalid_refresh_token",
	SecurityViolation:   "security_violation",
	Unauthenticated:     "unauthenticated",
	Forbidden:           "forbidden",
	NotFound:            "not_found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// HTTPStatus returns the status code for k. Unknown kinds map to 500.
func HTTPStatus(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a typed failure carrying a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	// Err is an optional cause, logged server-side only.
	Err error
}

// New returns an Error of kind with message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error of kind with message and cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and message, so sentinels survive wrapping by Wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Invalidf is shorthand for an Invalid error with a fixed message.
func Invalidf(message string) *Error {
	return New(Invalid, message)
}
