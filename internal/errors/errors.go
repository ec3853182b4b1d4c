package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a scoper error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrFileNotFound       ErrorCode = "FILE_NOT_FOUND"      // 404
	ErrNotReady           ErrorCode = "NOT_READY"           // 409
	ErrCancelled          ErrorCode = "CANCELLED"           // 499
	ErrInternal           ErrorCode = "INTERNAL"            // 500
	ErrGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE" // 502
	ErrPipelineFailed     ErrorCode = "PIPELINE_FAILED"     // 502
)

// ScoperError represents a structured error with code, status, and details.
type ScoperError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *ScoperError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ScoperError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ScoperError {
	return &ScoperError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a brief or conversation cannot be found.
func NewNotFound(identifier string) *ScoperError {
	return &ScoperError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing import/export file.
func NewFileNotFound(path string) *ScoperError {
	return &ScoperError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewNotReady creates a 409 error when a conversation has not been approved yet.
// state is the current state, or "" when the user has no conversation.
func NewNotReady(userID, state string) *ScoperError {
	if state == "" {
		state = "none"
	}
	return &ScoperError{
		Code:    ErrNotReady,
		Status:  409,
		Message: fmt.Sprintf("conversation for %q is not ready to execute (state: %s)", userID, state),
		Details: map[string]any{"user_id": userID, "state": state},
	}
}

// NewCancelled creates a 499 error when the caller gave up before the operation committed.
func NewCancelled(op string) *ScoperError {
	return &ScoperError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewGatewayUnavailable creates a 502 error wrapping a language model failure.
func NewGatewayUnavailable(purpose string, err error) *ScoperError {
	msg := "language model unavailable"
	if err != nil {
		msg = fmt.Sprintf("language model unavailable during %s: %v", purpose, err)
	}
	return &ScoperError{
		Code:    ErrGatewayUnavailable,
		Status:  502,
		Message: msg,
		Details: map[string]any{"purpose": purpose},
		cause:   err,
	}
}

// NewPipelineFailed creates a 502 error when the analysis pipeline could not be started.
func NewPipelineFailed(err error) *ScoperError {
	msg := "pipeline start failed"
	if err != nil {
		msg = fmt.Sprintf("pipeline start failed: %v", err)
	}
	return &ScoperError{
		Code:    ErrPipelineFailed,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *ScoperError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ScoperError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error (or anything it wraps) is a ScoperError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *ScoperError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As extracts the first ScoperError in err's chain.
func As(err error) (*ScoperError, bool) {
	var sErr *ScoperError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}
