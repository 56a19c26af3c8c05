// Package errors provides the application-wide error taxonomy for OpenGoat.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound                  = "NOT_FOUND"
	ErrCodeBadRequest                = "BAD_REQUEST"
	ErrCodeUnauthorized              = "UNAUTHORIZED"
	ErrCodeForbidden                 = "FORBIDDEN"
	ErrCodeInternalError             = "INTERNAL_ERROR"
	ErrCodeConflict                  = "CONFLICT"
	ErrCodeValidationError           = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable        = "SERVICE_UNAVAILABLE"
	ErrCodeSessionBusy               = "SESSION_BUSY"
	ErrCodeProviderAuthentication    = "PROVIDER_AUTHENTICATION"
	ErrCodeProviderCommandNotFound   = "PROVIDER_COMMAND_NOT_FOUND"
	ErrCodeProviderRuntime           = "PROVIDER_RUNTIME"
	ErrCodeUnsupportedProviderAction = "UNSUPPORTED_PROVIDER_ACTION"
	ErrCodeIO                        = "IO_ERROR"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized creates a new unauthorized error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a new forbidden error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:       ErrCodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// Internal creates a new internal server error with a wrapped underlying error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict creates a new conflict error, e.g. head-agent deletion, a cyclic
// reports-to edge, or assigning a task outside the manager's direct reports.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ServiceUnavailable creates a new service unavailable error.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("service '%s' is currently unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// SessionBusy is returned when a session's active-run claim is already held.
func SessionBusy(sessionKey string) *AppError {
	return &AppError{
		Code:       ErrCodeSessionBusy,
		Message:    fmt.Sprintf("session '%s' already has an active run", sessionKey),
		HTTPStatus: http.StatusConflict,
	}
}

// ProviderAuthentication is returned when a provider invocation is missing
// required credentials.
func ProviderAuthentication(providerID string, candidates []string) *AppError {
	return &AppError{
		Code:       ErrCodeProviderAuthentication,
		Message:    fmt.Sprintf("provider '%s' missing credentials, tried: %v", providerID, candidates),
		HTTPStatus: http.StatusUnauthorized,
	}
}

// ProviderCommandNotFound is returned when a CLI provider's command could not
// be resolved on PATH.
func ProviderCommandNotFound(providerID, command string) *AppError {
	return &AppError{
		Code:       ErrCodeProviderCommandNotFound,
		Message:    fmt.Sprintf("provider '%s' command not found: %s", providerID, command),
		HTTPStatus: http.StatusFailedDependency,
	}
}

// ProviderRuntime is returned when a provider invocation produced no usable output.
func ProviderRuntime(providerID, detail string) *AppError {
	return &AppError{
		Code:       ErrCodeProviderRuntime,
		Message:    fmt.Sprintf("provider '%s' runtime error: %s", providerID, detail),
		HTTPStatus: http.StatusBadGateway,
	}
}

// UnsupportedProviderAction is returned when an action (e.g. auth) is invoked
// against a provider that does not declare the matching capability.
func UnsupportedProviderAction(providerID, action string) *AppError {
	return &AppError{
		Code:       ErrCodeUnsupportedProviderAction,
		Message:    fmt.Sprintf("provider '%s' does not support action '%s'", providerID, action),
		HTTPStatus: http.StatusNotImplemented,
	}
}

// IO wraps a filesystem/database failure.
func IO(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeIO,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeConflict
	}
	return false
}

// IsSessionBusy checks if the error represents a held active-run claim.
func IsSessionBusy(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeSessionBusy
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
