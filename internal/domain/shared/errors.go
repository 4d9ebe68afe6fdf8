// Package shared contains common domain types, errors and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Capacity errors
	ErrNoCapacity = errors.New("no capacity available")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "viewing", "progress", "leasepool"
	Op      string // Operation that failed, e.g., "Start", "Lease"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// Viewing session errors
var (
	ErrSessionNotFound   = NewDomainError("viewing", "Find", ErrNotFound, "session not found")
	ErrSessionExists     = NewDomainError("viewing", "Create", ErrAlreadyExists, "session already exists")
	ErrSessionOwner      = NewDomainError("viewing", "Authorize", ErrForbidden, "session belongs to another user")
	ErrInvalidSessionID  = NewDomainError("viewing", "Validate", ErrInvalidID, "invalid session ID")
	ErrInvalidUserID     = NewDomainError("viewing", "Validate", ErrInvalidID, "invalid user ID")
	ErrInvalidCourseID   = NewDomainError("viewing", "Validate", ErrInvalidID, "invalid course ID")
	ErrInvalidPosition   = NewDomainError("viewing", "Validate", ErrNegativeValue, "position cannot be negative")
	ErrInvalidCompletion = NewDomainError("viewing", "Validate", ErrValueOutOfRange, "completion must be between 0 and 100")
)

// Progress errors
var (
	ErrProgressNotFound   = NewDomainError("progress", "Find", ErrNotFound, "content progress not found")
	ErrAssignmentNotFound = NewDomainError("progress", "FindAssignment", ErrNotFound, "course assignment not found")
	ErrStatusRegression   = NewDomainError("progress", "Transition", ErrStateTransition, "assignment status cannot move backwards")
)

// Catalog errors
var (
	ErrContentNotFound = NewDomainError("catalog", "Lookup", ErrNotFound, "content item not found")
	ErrCatalogDown     = NewDomainError("catalog", "Lookup", ErrServiceUnavailable, "catalog is unavailable")
)

// Lease pool errors
var (
	ErrPoolExhausted = NewDomainError("leasepool", "Lease", ErrNoCapacity, "all API keys are at capacity")
	ErrKeyNotFound   = NewDomainError("leasepool", "Release", ErrNotFound, "API key not found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsForbidden checks if the error is an authorization error.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)
}

// IsNoCapacity checks if a pool ran out of capacity.
func IsNoCapacity(err error) bool {
	return errors.Is(err, ErrNoCapacity)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
