// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All allocation errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal           = "INTERNAL_ERROR"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"

	// Validation errors (400)
	CodeValidation    = "VALIDATION_ERROR"
	CodeInvalidFormat = "INVALID_FORMAT"
	CodeInvalidKind   = "INVALID_KIND"

	// Configuration errors (412)
	CodeConfigMissing = "CONFIG_MISSING"

	// Allocation rule violations (409)
	CodeSequenceOverflow       = "SEQUENCE_OVERFLOW"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeIdempotency = "IDEMPOTENCY_CONFLICT"
)

// AppError is the standard error type for the service.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (kind, sequence key, limits, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Retryable tells callers whether retrying with backoff can succeed
	Retryable bool `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidFormat reports malformed code or prefix input (400).
func NewInvalidFormat(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidFormat,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidKind reports an unsupported code kind (400).
func NewInvalidKind(kind string) *AppError {
	return &AppError{
		Code:       CodeInvalidKind,
		Message:    fmt.Sprintf("unsupported code kind %q", kind),
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"kind": kind},
	}
}

// NewStorageUnavailable reports a transient storage failure (503).
// No counter was advanced; the caller should retry with backoff.
func NewStorageUnavailable(op string, err error) *AppError {
	return &AppError{
		Code:       CodeStorageUnavailable,
		Message:    "Sequence storage is unavailable, no code was consumed",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
		Details:    map[string]any{"operation": op},
		Err:        err,
	}
}

// NewConfigMissing reports that no prefix configuration exists for a kind (412).
func NewConfigMissing(kind string) *AppError {
	return &AppError{
		Code:       CodeConfigMissing,
		Message:    fmt.Sprintf("no prefix configuration for %s; an administrator must initialize it", kind),
		HTTPStatus: http.StatusPreconditionFailed,
		Details:    map[string]any{"kind": kind},
	}
}

// NewSequenceOverflow reports that a sequence key has exhausted its width (409).
func NewSequenceOverflow(key string, limit uint64) *AppError {
	return &AppError{
		Code:       CodeSequenceOverflow,
		Message:    "Sequence capacity exhausted; rotate the prefix to continue allocating",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"sequence_key": key, "limit": limit},
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified concurrently. Re-read and try again.",
		HTTPStatus: http.StatusConflict,
		Retryable:  true,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewIdempotencyConflict creates error when operation is already in progress
func NewIdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Operation already in progress or completed",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewIdempotencyMismatch is returned when the same idempotency key is reused for
// a different request (different user/operation/body hash).
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Idempotency key mismatch",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool {
	return HasCode(err, CodeConcurrentModification)
}

// IsStorageUnavailable checks if error is CodeStorageUnavailable
func IsStorageUnavailable(err error) bool {
	return HasCode(err, CodeStorageUnavailable)
}

// IsConfigMissing checks if error is CodeConfigMissing
func IsConfigMissing(err error) bool {
	return HasCode(err, CodeConfigMissing)
}

// IsSequenceOverflow checks if error is CodeSequenceOverflow
func IsSequenceOverflow(err error) bool {
	return HasCode(err, CodeSequenceOverflow)
}
