package domain

import "errors"

// ErrorKind is the stable, machine-readable class of a domain error.
type ErrorKind string

const (
	KindConflict          ErrorKind = "CONFLICT"
	KindUnauthorized      ErrorKind = "UNAUTHORIZED"
	KindUnauthenticated   ErrorKind = "UNAUTHENTICATED"
	KindForbidden         ErrorKind = "FORBIDDEN"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindValidation        ErrorKind = "VALIDATION"
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is an expected, caller-recoverable failure. Two errors match under
// errors.Is when their kinds are equal, so callers can test against the
// kind sentinels below without caring about the message.
type Error struct {
	Kind    ErrorKind
	Message string
	Fields  []FieldError
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates a domain error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewValidationError creates a validation error carrying per-field messages.
func NewValidationError(message string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// KindOf returns the kind of err, or "" if err is not a domain error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Kind sentinels
var (
	ErrConflict          = NewError(KindConflict, "conflict")
	ErrUnauthorized      = NewError(KindUnauthorized, "unauthorized")
	ErrUnauthenticated   = NewError(KindUnauthenticated, "unauthenticated")
	ErrForbidden         = NewError(KindForbidden, "forbidden")
	ErrNotFound          = NewError(KindNotFound, "not found")
	ErrInvalidTransition = NewError(KindInvalidTransition, "invalid transition")
	ErrValidation        = NewError(KindValidation, "validation failed")
)

// Identity errors
var (
	ErrEmailTaken         = NewError(KindConflict, "email is already in use")
	ErrUsernameTaken      = NewError(KindConflict, "username is already in use")
	ErrInvalidCredentials = NewError(KindUnauthorized, "invalid credentials")
	ErrInvalidRefresh     = NewError(KindUnauthorized, "refresh token is invalid, expired or revoked")
	ErrInvalidAccessToken = NewError(KindUnauthenticated, "access token is invalid or expired")
	ErrUserNotFound       = NewError(KindNotFound, "user not found")
)

// Match errors
var (
	ErrMatchNotFound       = NewError(KindNotFound, "match not found")
	ErrNotMatchHost        = NewError(KindForbidden, "only the match host can perform this action")
	ErrHostCannotRespond   = NewError(KindForbidden, "the match host cannot accept or reject their own match")
	ErrNotMatchParticipant = NewError(KindForbidden, "only the host or opponent can perform this action")
	ErrOpponentAlreadySet  = NewError(KindConflict, "match already has an opponent")
	ErrDeleteWithOpponent  = NewError(KindValidation, "match has an opponent; cancel it instead of deleting")
	ErrMatchConcurrentEdit = NewError(KindConflict, "match was modified concurrently, retry the request")
	ErrScheduleInPast      = NewError(KindValidation, "scheduled time must be in the future")
)
