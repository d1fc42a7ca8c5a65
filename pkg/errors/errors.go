package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrConflict
	ErrConfiguration
	ErrInternal
)

// Sentinel errors for the dispatch state machine. Callers match with
// errors.Is; repositories return them wrapped with context.
var (
	// ErrUnknownType is returned when a notification references a type
	// that was never registered.
	ErrUnknownType = errors.New("unknown notification type")

	// ErrInvalidState is returned when an operation is illegal for the
	// notification's current status, e.g. cancelling a sent notification.
	ErrInvalidState = errors.New("invalid notification state")

	// ErrClaimConflict is returned when another worker claimed the
	// notification first. Expected under concurrency; the loser skips.
	ErrClaimConflict = errors.New("notification already claimed")
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewConflict(message string, err error) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: message,
		Err:     err,
	}
}

// NewConfiguration marks a startup-time configuration problem. These abort
// startup rather than being retried.
func NewConfiguration(message string, err error) *AppError {
	return &AppError{
		Code:    ErrConfiguration,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}
