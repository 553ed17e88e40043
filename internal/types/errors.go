// Package types provides shared types, interfaces, and errors for the application.
package types

import (
	"errors"
	"fmt"
)

// Sentinel errors callers match with errors.Is. The structured error types
// below unwrap to these where one applies.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")
	ErrPoolExhausted   = errors.New("session pool exhausted")
	ErrBrowserCrashed  = errors.New("browser process crashed")
)

// Stable error codes surfaced to API clients. Each structured error type
// below maps to exactly one of these.
const (
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeInvalidSession    = "INVALID_SESSION"
	CodeBrowserOperation  = "BROWSER_OPERATION_ERROR"
	CodeValidation        = "VALIDATION_ERROR"
	CodeResourceLimit     = "RESOURCE_LIMIT_ERROR"
	CodeConfiguration     = "CONFIGURATION_ERROR"
	CodeCache             = "CACHE_ERROR"
	CodeAuthentication    = "AUTHENTICATION_ERROR"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// Coder is implemented by structured errors that carry a stable error code.
// The HTTP layer uses it to map any core error to a wire-level code.
type Coder interface {
	Code() string
}

// SessionNotFoundError reports a session id that is not registered.
type SessionNotFoundError struct {
	SessionID string
}

// Error implements the error interface.
func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// Code returns the stable error code.
func (e *SessionNotFoundError) Code() string { return CodeSessionNotFound }

// Unwrap returns the underlying sentinel for errors.Is support.
func (e *SessionNotFoundError) Unwrap() error { return ErrSessionNotFound }

// NewSessionNotFoundError creates an error for an unknown session id.
func NewSessionNotFoundError(id string) *SessionNotFoundError {
	return &SessionNotFoundError{SessionID: id}
}

// InvalidSessionError reports a session that exists but is no longer usable
// (expired TTL or exhausted quotas). The session is closed before this error
// is returned to the caller.
type InvalidSessionError struct {
	SessionID string
	Reason    string
}

// Error implements the error interface.
func (e *InvalidSessionError) Error() string {
	return fmt.Sprintf("invalid session %s: %s", e.SessionID, e.Reason)
}

// Code returns the stable error code.
func (e *InvalidSessionError) Code() string { return CodeInvalidSession }

// Unwrap returns the underlying sentinel for errors.Is support.
func (e *InvalidSessionError) Unwrap() error { return ErrSessionExpired }

// NewInvalidSessionError creates an error for an expired or over-quota session.
func NewInvalidSessionError(id, reason string) *InvalidSessionError {
	return &InvalidSessionError{SessionID: id, Reason: reason}
}

// BrowserOperationError wraps a failure of a browser-level operation
// (navigate, extract, interact, screenshot). It carries the operation name,
// the underlying cause, and an optional structured details map.
type BrowserOperationError struct {
	Operation string
	Cause     error
	Details   map[string]any
}

// Error implements the error interface.
func (e *BrowserOperationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("browser operation %q failed: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("browser operation %q failed", e.Operation)
}

// Code returns the stable error code.
func (e *BrowserOperationError) Code() string { return CodeBrowserOperation }

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BrowserOperationError) Unwrap() error { return e.Cause }

// NewBrowserOperationError wraps err as a failure of the named operation.
func NewBrowserOperationError(operation string, err error) *BrowserOperationError {
	return &BrowserOperationError{Operation: operation, Cause: err}
}

// NewBrowserOperationErrorWithDetails wraps err with a structured details map.
func NewBrowserOperationErrorWithDetails(operation string, err error, details map[string]any) *BrowserOperationError {
	return &BrowserOperationError{Operation: operation, Cause: err, Details: details}
}

// ValidationError reports a request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// Code returns the stable error code.
func (e *ValidationError) Code() string { return CodeValidation }

// NewValidationError creates an error for a field that failed validation.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ResourceLimitError reports a hard resource cap being reached, such as the
// global session limit.
type ResourceLimitError struct {
	Resource string
	Limit    int
	Current  int
}

// Error implements the error interface.
func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("resource limit reached for %s: %d/%d", e.Resource, e.Current, e.Limit)
}

// Code returns the stable error code.
func (e *ResourceLimitError) Code() string { return CodeResourceLimit }

// Unwrap returns the underlying sentinel for errors.Is support.
func (e *ResourceLimitError) Unwrap() error { return ErrPoolExhausted }

// NewResourceLimitError creates an error for an exhausted resource budget.
func NewResourceLimitError(resource string, limit, current int) *ResourceLimitError {
	return &ResourceLimitError{Resource: resource, Limit: limit, Current: current}
}

// ConfigurationError reports an unusable configuration value.
type ConfigurationError struct {
	Setting string
	Reason  string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Setting, e.Reason)
}

// Code returns the stable error code.
func (e *ConfigurationError) Code() string { return CodeConfiguration }

// NewConfigurationError creates an error for an invalid setting.
func NewConfigurationError(setting, reason string) *ConfigurationError {
	return &ConfigurationError{Setting: setting, Reason: reason}
}

// CacheError reports a failed cache service operation.
type CacheError struct {
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache operation %q failed: %v", e.Operation, e.Cause)
}

// Code returns the stable error code.
func (e *CacheError) Code() string { return CodeCache }

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CacheError) Unwrap() error { return e.Cause }

// NewCacheError wraps err as a failure of the named cache operation.
func NewCacheError(operation string, err error) *CacheError {
	return &CacheError{Operation: operation, Cause: err}
}

// AuthenticationError reports a failed or missing credential on the
// transport layer.
type AuthenticationError struct {
	Reason string
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// Code returns the stable error code.
func (e *AuthenticationError) Code() string { return CodeAuthentication }

// NewAuthenticationError creates an error for a failed authentication.
func NewAuthenticationError(reason string) *AuthenticationError {
	return &AuthenticationError{Reason: reason}
}

// ErrorCode returns the stable code for any error: the structured code when
// the error (or anything it wraps) implements Coder, otherwise a generic
// browser-operation code.
func ErrorCode(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeBrowserOperation
}
