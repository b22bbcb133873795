// Package apperror defines the error kinds shared by the snippet store, the
// mutation coordinator and the HTTP layer.
//
// Every kind is a sentinel (ErrNotFound, ErrValidation, ...) wrapped by an
// *AppError that carries a human-readable message. Callers branch with
// errors.Is(err, apperror.ErrNotFound); the HTTP layer maps kinds to status
// codes in one place (handler/response.go).
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrAuthRequired = errors.New("authentication required")
	ErrRemote       = errors.New("remote failure")
)

// AppError is the error type every package returns for expected failures.
//
// HOW TO CHECK AN ERROR KIND:
//
//	if errors.Is(err, apperror.ErrNotFound) { ... }
//
// errors.Is works through fmt.Errorf("...: %w") wrapping, so callers never
// need a type assertion. Use errors.As only to read Field or Message.
type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error (adapter/network failure)
}

// Error returns the human-readable message.
func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause, so errors.Is matches either
// apperror.ErrRemote or, say, context.Canceled on the same value.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// NotFound reports that resource id does not exist (404).
func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// ValidationFailed reports bad input in field (400).
func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports that resource id is busy with another change (409).
func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// AuthRequired is returned for any mutation attempted without a resolved user.
func AuthRequired() *AppError {
	return &AppError{
		Err:     ErrAuthRequired,
		Message: "sign in required",
	}
}

// RemoteFailure wraps an adapter error for the given operation. The optimistic
// change has already been rolled back by the time a caller sees it.
func RemoteFailure(op, id string, cause error) *AppError {
	msg := fmt.Sprintf("%s snippet failed", op)
	if id != "" {
		msg = fmt.Sprintf("%s snippet %s failed", op, id)
	}
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &AppError{
		Err:     ErrRemote,
		Message: msg,
		Cause:   cause,
	}
}

// Kind reports the sentinel of err, or nil if err is not an *AppError.
func Kind(err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Err
	}
	return nil
}
