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
	ErrUnauthorized
	ErrInternal
	ErrInvalidTransition
	ErrMissingTarget
	ErrUnsupportedCombination
	ErrChannel
)

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

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NewUnauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// NewInvalidTransition rejects an illegal post status change. The post record
// is left untouched by callers receiving this error.
func NewInvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("invalid status transition %s -> %s", from, to),
	}
}

// NewMissingTarget signals that a PUBLIC post resolved neither a per-post
// recipient override nor a configured default target. Fatal for that post.
func NewMissingTarget(channel string) *AppError {
	return &AppError{
		Code:    ErrMissingTarget,
		Message: fmt.Sprintf("no recipient target for PUBLIC post on channel %s", channel),
	}
}

// NewUnsupportedCombination rejects a channel/audience pair the dispatcher
// does not handle. Non-retryable.
func NewUnsupportedCombination(channel, audience string) *AppError {
	return &AppError{
		Code:    ErrUnsupportedCombination,
		Message: fmt.Sprintf("unsupported channel/audience combination %s/%s", channel, audience),
	}
}

// NewChannelError wraps a transient failure from an outbound channel send.
func NewChannelError(channel string, err error) *AppError {
	return &AppError{
		Code:    ErrChannel,
		Message: fmt.Sprintf("%s send failed", channel),
		Err:     err,
	}
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
