package errors

import (
	"fmt"
	"strings"
)

// Configuration Errors
func ConfigNotFound(path string) *WorkshopError {
	return NewWithDetails(ErrConfigNotFound, "Configuration file not found", fmt.Sprintf("Path: %s", path))
}

func ConfigParseError(path string, cause error) *WorkshopError {
	return WrapWithDetails(ErrConfigParse, "Failed to parse configuration", fmt.Sprintf("Path: %s", path), cause)
}

func ConfigValidationError(field, reason string) *WorkshopError {
	return NewWithDetails(ErrConfigValidation, "Configuration validation failed",
		fmt.Sprintf("Field: %s, Reason: %s", field, reason)).
		WithContext("field", field)
}

// Registry Errors
func RegistryInvalid(reason string) *WorkshopError {
	return NewWithDetails(ErrRegistryInvalid, "Invalid service registry", reason)
}

func DependencyCycle(path []string) *WorkshopError {
	return NewWithDetails(ErrDependencyCycle, "Dependency cycle detected",
		fmt.Sprintf("Cycle: %s", strings.Join(path, " -> "))).
		WithContext("cycle", path)
}

func UnknownService(id string) *WorkshopError {
	return NewWithDetails(ErrUnknownService, "Unknown service", fmt.Sprintf("Service: %s", id)).
		WithContext("service", id)
}

func DependencyFailed(service, dependency string, cause error) *WorkshopError {
	return WrapWithDetails(ErrDependencyFailed, "Service dependency failed",
		fmt.Sprintf("Service: %s, Dependency: %s", service, dependency), cause)
}

// Lifecycle Errors
func AlreadyInProgress(id, operation string) *WorkshopError {
	return NewWithDetails(ErrAlreadyInProgress, "Lifecycle operation already in progress",
		fmt.Sprintf("Service: %s, Operation: %s", id, operation)).
		WithContext("service", id)
}

func ProcessSpawnFailed(id string, cause error) *WorkshopError {
	return WrapWithDetails(ErrProcessSpawn, "Failed to spawn service process",
		fmt.Sprintf("Service: %s", id), cause)
}

func ProcessStopFailed(id string, cause error) *WorkshopError {
	return WrapWithDetails(ErrProcessStop, "Failed to stop service process",
		fmt.Sprintf("Service: %s", id), cause)
}

func GhostService(id, operation string) *WorkshopError {
	return NewWithDetails(ErrGhostService, "Ghost services require an explicit override",
		fmt.Sprintf("Service: %s, Operation: %s", id, operation)).
		WithContext("service", id)
}

// Health Errors
func HealthCheckTimeout(id string, timeout interface{}) *WorkshopError {
	return NewWithDetails(ErrHealthCheckTimeout, "Health check timed out",
		fmt.Sprintf("Service: %s, Timeout: %v", id, timeout))
}

func EscalationExhausted(id string) *WorkshopError {
	return NewWithDetails(ErrEscalationExhausted, "Self-healing exhausted, manual intervention needed",
		fmt.Sprintf("Service: %s", id))
}

func NotifyFailed(target string, cause error) *WorkshopError {
	return WrapWithDetails(ErrNotifyFailed, "Escalation notification failed",
		fmt.Sprintf("Target: %s", target), cause)
}

// Incident Errors
func UnknownIncident(id string) *WorkshopError {
	return NewWithDetails(ErrUnknownIncident, "Unknown incident", fmt.Sprintf("Incident: %s", id)).
		WithContext("incident", id)
}

// Database Errors
func DatabaseConnectionError(cause error) *WorkshopError {
	return Wrap(ErrDatabaseConnection, "Database connection failed", cause)
}

func DatabaseQueryError(operation string, cause error) *WorkshopError {
	return WrapWithDetails(ErrDatabaseQuery, "Database query failed",
		fmt.Sprintf("Operation: %s", operation), cause)
}

func DatabaseMigrationError(store string, cause error) *WorkshopError {
	return WrapWithDetails(ErrDatabaseMigration, "Database migration failed",
		fmt.Sprintf("Store: %s", store), cause)
}

// Validation Errors
func InvalidInput(input, expected string) *WorkshopError {
	return NewWithDetails(ErrInvalidInput, "Invalid input",
		fmt.Sprintf("Input: %s, Expected: %s", input, expected))
}

// Internal Errors
func InternalError(details string, cause error) *WorkshopError {
	if cause != nil {
		return WrapWithDetails(ErrInternal, "Internal error", details, cause)
	}
	return NewWithDetails(ErrInternal, "Internal error", details)
}

func TimeoutError(operation string, duration interface{}) *WorkshopError {
	return NewWithDetails(ErrTimeout, "Operation timed out",
		fmt.Sprintf("Operation: %s, Duration: %v", operation, duration))
}
