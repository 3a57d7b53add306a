// Package errors provides categorized errors with HTTP status mapping for
// the newsletter scanner.
package errors

import (
	"fmt"
	"net/http"

	"github.com/newsletter-scanner/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryMailbox represents mailbox provider errors
	CategoryMailbox ErrorCategory = "mailbox"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
	}
}

// NewJobNotFoundError creates a not found error for a scan job
func NewJobNotFoundError(jobID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "JOB_NOT_FOUND",
		Message:    fmt.Sprintf("scan job not found: %s", jobID),
		Details: map[string]interface{}{
			"jobId": jobID,
		},
	}
}

// NewActiveJobConflictError signals a scan start while another scan is
// still PENDING or PROCESSING for the same owner. The existing job id is
// carried in the details so clients can attach to it.
func NewActiveJobConflictError(existingJobID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "ACTIVE_SCAN_EXISTS",
		Message:    "You already have a scan in progress. You can view its status or cancel it before starting a new one.",
		Details: map[string]interface{}{
			"jobId": existingJobID,
		},
	}
}

// NewJobNotCancellableError signals a cancel attempt on a terminal job
func NewJobNotCancellableError(jobID string, status types.ScanStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "JOB_NOT_CANCELLABLE",
		Message:    fmt.Sprintf("scan job is already %s and cannot be cancelled", status),
		Details: map[string]interface{}{
			"jobId":  jobID,
			"status": string(status),
		},
	}
}

// NewClaimConflictError signals a claim on a job that is not PENDING.
// This is expected control flow, not a system failure.
func NewClaimConflictError(jobID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "JOB_NOT_CLAIMABLE",
		Message:    fmt.Sprintf("scan job %s is already being processed or has finished", jobID),
		Details: map[string]interface{}{
			"jobId": jobID,
		},
	}
}

// NewMailboxAuthError creates a mailbox authentication error
func NewMailboxAuthError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "MAILBOX_AUTH_ERROR",
		Message:    "We couldn't access your mailbox. Please reconnect your account and try again.",
		Cause:      cause,
	}
}

// NewMailboxRateLimitError creates a mailbox rate limit error
func NewMailboxRateLimitError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "MAILBOX_RATE_LIMIT",
		Message:    "We've reached the limit for mailbox requests. Please wait a few minutes and try again.",
		Cause:      cause,
	}
}

// NewMailboxError creates a generic mailbox provider error
func NewMailboxError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryMailbox,
		StatusCode: http.StatusBadGateway,
		Code:       "MAILBOX_ERROR",
		Message:    "We're having trouble reading your mailbox. Please try again later.",
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsConflict reports whether err is an expected conflict outcome
func IsConflict(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryConflict
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryNotFound
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryMailbox, CategoryDatabase, CategoryRateLimit:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}
