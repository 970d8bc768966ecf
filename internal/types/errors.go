// Package types provides shared types, interfaces, and errors for the application.
package types

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Browser pool errors
	ErrPoolShuttingDown = errors.New("browser pool is shutting down")
	ErrPoolTimeout      = errors.New("timeout waiting for browser from pool")
	ErrPoolUnavailable  = errors.New("browser pool unavailable: circuit open")
	ErrBrowserLaunch    = errors.New("failed to launch browser")
	ErrBrowserCrashed   = errors.New("browser process crashed")
	ErrBrowserUnhealthy = errors.New("browser is unhealthy")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")
	ErrTooManySessions = errors.New("maximum number of sessions reached")

	// Page errors
	ErrPageNotFound = errors.New("page not found")
	ErrPageClosed   = errors.New("page has been closed")

	// Auth errors
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTokenExpired    = errors.New("token has expired")

	// Request errors
	ErrValidation  = errors.New("validation failed")
	ErrUnsupported = errors.New("unsupported action type")
	ErrBadArgument = errors.New("invalid argument")

	// Capacity errors
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrTimeout         = errors.New("operation timed out")
	ErrCanceled        = errors.New("operation canceled")
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrNavigationFail  = errors.New("navigation failed")
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Error categories group error codes for clients and for retry policy decisions.
const (
	CategoryInput    = "input"
	CategoryAuth     = "auth"
	CategoryResource = "resource"
	CategoryCapacity = "capacity"
	CategoryDriver   = "driver"
	CategorySystem   = "system"
)

// Severity levels for errors.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Stable error codes rendered on every protocol surface.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeUnsupported     = "UNSUPPORTED_ACTION"
	CodeBadArgument     = "BAD_ARGUMENT"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeTokenExpired    = "TOKEN_EXPIRED"
	CodeSessionExpired  = "SESSION_EXPIRED"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeUnavailable     = "UNAVAILABLE"
	CodeTimeout         = "TIMEOUT"
	CodeCanceled        = "CANCELED"
	CodeBrowserLaunch   = "BROWSER_LAUNCH_FAILED"
	CodeBrowserCrashed  = "BROWSER_CRASHED"
	CodePageClosed      = "PAGE_CLOSED"
	CodeNavigation      = "NAVIGATION_FAILED"
	CodeInternal        = "INTERNAL_ERROR"
	CodeStore           = "STORE_UNAVAILABLE"
	CodeSerialization   = "SERIALIZATION_ERROR"
)

// RetryConfig describes how a retryable error may be retried by the client.
type RetryConfig struct {
	MaxAttempts       int           `json:"maxAttempts"`
	InitialDelay      time.Duration `json:"initialDelay"`
	BackoffMultiplier float64       `json:"backoffMultiplier"`
	MaxDelay          time.Duration `json:"maxDelay"`
	Jitter            bool          `json:"jitter"`
}

// AppError is the canonical application error. It carries a stable code,
// a category, a severity, and retry metadata. TechnicalDetails is never
// rendered to non-internal surfaces without sanitization.
type AppError struct {
	Code             string         `json:"code"`
	Category         string         `json:"category"`
	Severity         string         `json:"severity"`
	Message          string         `json:"message"`
	UserMessage      string         `json:"userMessage,omitempty"`
	Retryable        bool           `json:"retryable"`
	Retry            *RetryConfig   `json:"retryConfig,omitempty"`
	Suggestions      []string       `json:"recoverySuggestions,omitempty"`
	TechnicalDetails map[string]any `json:"-"`
	Err              error          `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a technical detail key/value pair and returns the error.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.TechnicalDetails == nil {
		e.TechnicalDetails = make(map[string]any)
	}
	e.TechnicalDetails[key] = value
	return e
}

// HTTPStatus maps the error code to an HTTP status code.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeBadArgument, CodeUnsupported:
		return http.StatusBadRequest
	case CodeUnauthenticated, CodeTokenExpired, CodeSessionExpired:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable, CodeStore:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeCanceled:
		// 499 is the de-facto client-closed-request status
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// newError builds an AppError from a code, category, and severity.
func newError(code, category, severity, message string, err error) *AppError {
	return &AppError{
		Code:     code,
		Category: category,
		Severity: severity,
		Message:  message,
		Err:      err,
	}
}

// NewValidationError creates an input validation error.
func NewValidationError(message string) *AppError {
	e := newError(CodeValidation, CategoryInput, SeverityWarning, message, ErrValidation)
	e.UserMessage = "The request contains invalid parameters."
	e.Suggestions = []string{"Check the action parameters against the API documentation."}
	return e
}

// NewForbiddenError creates an authorization error.
func NewForbiddenError(message string) *AppError {
	e := newError(CodeForbidden, CategoryAuth, SeverityWarning, message, ErrForbidden)
	e.UserMessage = "You do not have access to this resource."
	return e
}

// NewUnauthenticatedError creates an authentication error.
func NewUnauthenticatedError(message string) *AppError {
	e := newError(CodeUnauthenticated, CategoryAuth, SeverityWarning, message, ErrUnauthenticated)
	e.UserMessage = "Authentication is required for this operation."
	return e
}

// NewNotFoundError creates a resource-not-found error.
func NewNotFoundError(resource string) *AppError {
	e := newError(CodeNotFound, CategoryResource, SeverityInfo, resource+" not found", nil)
	e.UserMessage = "The requested resource does not exist."
	return e
}

// NewInternalError wraps an unexpected failure. The underlying error is
// preserved for logs but never shown to callers.
func NewInternalError(err error) *AppError {
	e := newError(CodeInternal, CategorySystem, SeverityCritical, "internal error", err)
	e.UserMessage = "An internal error occurred. Please try again later."
	return e
}

// defaultDriverRetry is the retry configuration attached to transient driver errors.
var defaultDriverRetry = &RetryConfig{
	MaxAttempts:       3,
	InitialDelay:      500 * time.Millisecond,
	BackoffMultiplier: 2.0,
	MaxDelay:          5 * time.Second,
	Jitter:            true,
}

// Classify maps any error to an AppError. Errors that are already AppErrors
// pass through unchanged; sentinel errors map to their canonical codes;
// anything else becomes an internal error.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}

	switch {
	case errors.Is(err, ErrValidation):
		return NewValidationError(err.Error())
	case errors.Is(err, ErrUnsupported):
		return newError(CodeUnsupported, CategoryInput, SeverityWarning, err.Error(), err)
	case errors.Is(err, ErrBadArgument):
		return newError(CodeBadArgument, CategoryInput, SeverityWarning, err.Error(), err)
	case errors.Is(err, ErrUnauthenticated):
		return NewUnauthenticatedError(err.Error())
	case errors.Is(err, ErrTokenExpired):
		return newError(CodeTokenExpired, CategoryAuth, SeverityWarning, err.Error(), err)
	case errors.Is(err, ErrSessionExpired):
		return newError(CodeSessionExpired, CategoryAuth, SeverityWarning, err.Error(), err)
	case errors.Is(err, ErrForbidden):
		return NewForbiddenError(err.Error())
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrPageNotFound):
		return newError(CodeNotFound, CategoryResource, SeverityInfo, err.Error(), err)
	case errors.Is(err, ErrTooManySessions):
		return newError(CodeConflict, CategoryResource, SeverityWarning, err.Error(), err)
	case errors.Is(err, ErrRateLimited):
		return newError(CodeRateLimited, CategoryCapacity, SeverityWarning, err.Error(), err)
	case errors.Is(err, ErrPoolShuttingDown), errors.Is(err, ErrPoolUnavailable), errors.Is(err, ErrCircuitOpen):
		return newError(CodeUnavailable, CategoryCapacity, SeverityError, err.Error(), err)
	case errors.Is(err, ErrPoolTimeout), errors.Is(err, ErrTimeout):
		e := newError(CodeTimeout, CategoryCapacity, SeverityError, err.Error(), err)
		e.Retryable = true
		e.Retry = defaultDriverRetry
		return e
	case errors.Is(err, ErrCanceled):
		return newError(CodeCanceled, CategoryCapacity, SeverityInfo, err.Error(), err)
	case errors.Is(err, ErrBrowserLaunch):
		e := newError(CodeBrowserLaunch, CategoryDriver, SeverityError, err.Error(), err)
		e.Retryable = true
		e.Retry = defaultDriverRetry
		return e
	case errors.Is(err, ErrBrowserCrashed), errors.Is(err, ErrBrowserUnhealthy):
		e := newError(CodeBrowserCrashed, CategoryDriver, SeverityError, err.Error(), err)
		e.Retryable = true
		e.Retry = defaultDriverRetry
		return e
	case errors.Is(err, ErrPageClosed):
		return newError(CodePageClosed, CategoryDriver, SeverityWarning, err.Error(), err)
	case errors.Is(err, ErrNavigationFail):
		e := newError(CodeNavigation, CategoryDriver, SeverityError, err.Error(), err)
		e.Retryable = true
		e.Retry = defaultDriverRetry
		return e
	case errors.Is(err, ErrStoreUnavailable):
		return newError(CodeStore, CategorySystem, SeverityCritical, err.Error(), err)
	default:
		return NewInternalError(err)
	}
}

// WireError is the serialized form of an AppError used in the REST and WS
// error envelopes. Serializing and deserializing preserves code, category,
// severity, and retryable.
type WireError struct {
	Code        string       `json:"code"`
	Message     string       `json:"message"`
	UserMessage string       `json:"userMessage,omitempty"`
	Category    string       `json:"category"`
	Severity    string       `json:"severity"`
	Retryable   bool         `json:"retryable"`
	Suggestions []string     `json:"recoverySuggestions,omitempty"`
	Retry       *RetryConfig `json:"retryConfig,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	RequestID   string       `json:"requestId,omitempty"`
}

// ToWire converts an AppError to its wire form. Internal errors keep only the
// user-facing message; the technical message never leaves the process.
func (e *AppError) ToWire(requestID string) WireError {
	msg := e.Message
	if e.Category == CategorySystem && e.UserMessage != "" {
		msg = e.UserMessage
	}
	return WireError{
		Code:        e.Code,
		Message:     msg,
		UserMessage: e.UserMessage,
		Category:    e.Category,
		Severity:    e.Severity,
		Retryable:   e.Retryable,
		Suggestions: e.Suggestions,
		Retry:       e.Retry,
		Timestamp:   time.Now().UTC(),
		RequestID:   requestID,
	}
}

// FromWire reconstructs an AppError from its wire form.
func FromWire(w WireError) *AppError {
	return &AppError{
		Code:        w.Code,
		Category:    w.Category,
		Severity:    w.Severity,
		Message:     w.Message,
		UserMessage: w.UserMessage,
		Retryable:   w.Retryable,
		Retry:       w.Retry,
		Suggestions: w.Suggestions,
	}
}

// Errorf wraps a sentinel with formatted context, preserving errors.Is.
func Errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, sentinel)...)
}
