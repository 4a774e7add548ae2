package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the booking core and the HTTP layer
const (
	CodeInvalidInput           = "INVALID_INPUT"
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidState           = "INVALID_STATE"
	CodeDuplicateRequest       = "DUPLICATE_REQUEST"
	CodeGatewayUnavailable     = "GATEWAY_UNAVAILABLE"
	CodeGatewayRejected        = "GATEWAY_REJECTED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeForbidden              = "FORBIDDEN"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeInternal               = "INTERNAL_ERROR"
	CodeRateLimited            = "RATE_LIMIT_EXCEEDED"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code, so the
// sentinel values below can be matched with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Retryable reports whether the caller may retry the same request later.
func (e *AppError) Retryable() bool {
	switch e.Code {
	case CodeGatewayUnavailable, CodeConcurrentModification:
		return true
	}
	return false
}

// NewAppError creates a new AppError
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// InvalidInput creates a 400 error for malformed pricing or request data
func InvalidInput(message string, err error) *AppError {
	return NewAppError(CodeInvalidInput, message, http.StatusBadRequest, err)
}

// Unauthorized creates a 401 error
func Unauthorized(message string, err error) *AppError {
	return NewAppError(CodeUnauthorized, message, http.StatusUnauthorized, err)
}

// Forbidden creates a 403 error
func Forbidden(message string, err error) *AppError {
	return NewAppError(CodeForbidden, message, http.StatusForbidden, err)
}

// NotFound creates a 404 error
func NotFound(message string, err error) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, err)
}

// InvalidState creates a 409 error for an illegal state transition
func InvalidState(message string, err error) *AppError {
	return NewAppError(CodeInvalidState, message, http.StatusConflict, err)
}

// DuplicateRequest creates a 409 error for a request that was already applied
func DuplicateRequest(message string, err error) *AppError {
	return NewAppError(CodeDuplicateRequest, message, http.StatusConflict, err)
}

// ConcurrentModification creates a 409 error after optimistic-lock retries ran out
func ConcurrentModification(message string, err error) *AppError {
	return NewAppError(CodeConcurrentModification, message, http.StatusConflict, err)
}

// GatewayUnavailable creates a 503 error. The outcome of the gateway call is unknown.
func GatewayUnavailable(message string, err error) *AppError {
	return NewAppError(CodeGatewayUnavailable, message, http.StatusServiceUnavailable, err)
}

// GatewayRejected creates a 502 error for a business-level gateway rejection
func GatewayRejected(message string, err error) *AppError {
	return NewAppError(CodeGatewayRejected, message, http.StatusBadGateway, err)
}

// Internal creates a 500 error
func Internal(message string, err error) *AppError {
	return NewAppError(CodeInternal, message, http.StatusInternalServerError, err)
}

// Sentinels for errors.Is checks

var (
	ErrInvalidInput           = InvalidInput("Invalid input", nil)
	ErrNotFound               = NotFound("Resource not found", nil)
	ErrInvalidState           = InvalidState("Invalid status transition", nil)
	ErrDuplicateRequest       = DuplicateRequest("Duplicate request detected", nil)
	ErrGatewayUnavailable     = GatewayUnavailable("Payment gateway unavailable", nil)
	ErrGatewayRejected        = GatewayRejected("Payment gateway rejected the request", nil)
	ErrConcurrentModification = ConcurrentModification("Booking was modified concurrently", nil)
	ErrForbidden              = Forbidden("Action not allowed for this actor", nil)

	ErrBookingNotFound = NotFound("Booking not found", nil)
	ErrPackageNotFound = NotFound("Tour package not found", nil)
	ErrRefundNotFound  = NotFound("Refund request not found", nil)

	ErrRateLimitExceeded = &AppError{
		Code:    CodeRateLimited,
		Message: "Rate limit exceeded. Please try again later",
		Status:  http.StatusTooManyRequests,
	}
)

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError attempts to convert an error to AppError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	// Return generic internal error if not an AppError
	return Internal("An unexpected error occurred", err)
}

// Is is errors.Is, re-exported so callers importing this package under the
// name "errors" keep access to it.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As, re-exported for the same reason as Is.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapAppError wraps an AppError with additional context
func WrapAppError(appErr *AppError, message string) *AppError {
	if appErr == nil {
		return nil
	}
	return &AppError{
		Code:    appErr.Code,
		Message: fmt.Sprintf("%s: %s", message, appErr.Message),
		Status:  appErr.Status,
		Err:     appErr.Err,
	}
}
