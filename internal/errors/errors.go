// Package errors provides typed error definitions for workshop.
// Every lifecycle, registry and incident failure carries an ErrorCode so callers
// and the HTTP layer can classify it without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique identifier for different error types
type ErrorCode string

const (
	// Configuration errors
	ErrConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrConfigParse      ErrorCode = "CONFIG_PARSE"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Registry errors
	ErrRegistryInvalid  ErrorCode = "REGISTRY_INVALID"
	ErrDependencyCycle  ErrorCode = "DEPENDENCY_CYCLE"
	ErrUnknownService   ErrorCode = "UNKNOWN_SERVICE"
	ErrDependencyFailed ErrorCode = "DEPENDENCY_FAILED"

	// Lifecycle errors
	ErrAlreadyInProgress ErrorCode = "ALREADY_IN_PROGRESS"
	ErrProcessSpawn      ErrorCode = "PROCESS_SPAWN_FAILED"
	ErrProcessStop       ErrorCode = "PROCESS_STOP_FAILED"
	ErrGhostService      ErrorCode = "GHOST_SERVICE"

	// Health and recovery
	ErrHealthCheckTimeout  ErrorCode = "HEALTH_CHECK_TIMEOUT"
	ErrHealthCheckFailed   ErrorCode = "HEALTH_CHECK_FAILED"
	ErrEscalationExhausted ErrorCode = "ESCALATION_EXHAUSTED"
	ErrNotifyFailed        ErrorCode = "NOTIFY_FAILED"

	// Incident errors
	ErrUnknownIncident ErrorCode = "UNKNOWN_INCIDENT"

	// Database errors
	ErrDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	ErrDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	ErrDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// Validation errors
	ErrInvalidInput ErrorCode = "INVALID_INPUT"

	// Internal errors
	ErrInternal  ErrorCode = "INTERNAL_ERROR"
	ErrTimeout   ErrorCode = "TIMEOUT"
	ErrCancelled ErrorCode = "CANCELLED"
)

// WorkshopError represents a structured error with additional context
type WorkshopError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *WorkshopError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Details)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *WorkshopError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *WorkshopError) WithContext(key string, value interface{}) *WorkshopError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause error
func (e *WorkshopError) WithCause(cause error) *WorkshopError {
	e.Cause = cause
	return e
}

// GetHTTPStatus returns the appropriate HTTP status code for this error
func (e *WorkshopError) GetHTTPStatus() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}

	switch e.Code {
	case ErrConfigNotFound, ErrUnknownService, ErrUnknownIncident:
		return http.StatusNotFound
	case ErrInvalidInput, ErrConfigValidation, ErrRegistryInvalid:
		return http.StatusBadRequest
	case ErrAlreadyInProgress, ErrGhostService:
		return http.StatusConflict
	case ErrDependencyFailed:
		return http.StatusFailedDependency
	case ErrTimeout, ErrHealthCheckTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new WorkshopError
func New(code ErrorCode, message string) *WorkshopError {
	return &WorkshopError{
		Code:    code,
		Message: message,
	}
}

// NewWithDetails creates a new WorkshopError with details
func NewWithDetails(code ErrorCode, message, details string) *WorkshopError {
	return &WorkshopError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Wrap creates a new WorkshopError that wraps an existing error
func Wrap(code ErrorCode, message string, cause error) *WorkshopError {
	return &WorkshopError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithDetails creates a new WorkshopError with details that wraps an existing error
func WrapWithDetails(code ErrorCode, message, details string, cause error) *WorkshopError {
	return &WorkshopError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// As reports whether err is, or wraps, a WorkshopError and returns it.
func As(err error) (*WorkshopError, bool) {
	var we *WorkshopError
	if stderrors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// IsWorkshopError checks if an error is, or wraps, a WorkshopError
func IsWorkshopError(err error) bool {
	_, ok := As(err)
	return ok
}

// GetCode extracts the error code from an error, if it's a WorkshopError
func GetCode(err error) ErrorCode {
	if we, ok := As(err); ok {
		return we.Code
	}
	return ""
}

// HasCode checks if an error has a specific error code
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
