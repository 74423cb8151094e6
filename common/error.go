package common

import (
	"errors"
	"fmt"
	"strings"
)

type APIError struct {
	Status  int            `json:"-"`
	Message string         `json:"error"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

func Errf(status int, format string, args ...any) APIError {
	return APIError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// NewAPIError creates an APIError with status, message, and optional fields
func NewAPIError(status int, message string, fields map[string]any) APIError {
	return APIError{
		Status:  status,
		Message: message,
		Fields:  fields,
	}
}

// ErrorCategory classifies a failure for retry decisions. Validation,
// authorization and configuration failures never retry; the rest do,
// subject to the attempt budget.
type ErrorCategory string

const (
	CategoryValidation      ErrorCategory = "validation"
	CategoryAuthorization   ErrorCategory = "authorization"
	CategoryConfiguration   ErrorCategory = "configuration"
	CategoryNetwork         ErrorCategory = "network"
	CategoryTimeout         ErrorCategory = "timeout"
	CategoryExternalService ErrorCategory = "external_service"
	CategoryRateLimit       ErrorCategory = "rate_limit"
	CategoryInternal        ErrorCategory = "internal"
)

// CategorizedError pairs an error category with its underlying cause so the
// retry policy can classify failures coming back from collaborators.
type CategorizedError struct {
	Category ErrorCategory
	Err      error
}

func (e *CategorizedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

func Categorized(category ErrorCategory, err error) *CategorizedError {
	return &CategorizedError{Category: category, Err: err}
}

// CategoryOf extracts the category from err, falling back to keyword matching
// on the message for errors reported as plain strings (e.g. provider webhook
// error fields).
func CategoryOf(err error) ErrorCategory {
	var cerr *CategorizedError
	if errors.As(err, &cerr) {
		return cerr.Category
	}
	return CategorizeMessage(err.Error())
}

// CategorizeMessage maps a bare provider error message onto the taxonomy.
// Unrecognized messages are treated as external-service failures, which are
// retryable.
func CategorizeMessage(msg string) ErrorCategory {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "rate limit"), strings.Contains(m, "too many requests"):
		return CategoryRateLimit
	case strings.Contains(m, "timeout"), strings.Contains(m, "timed out"), strings.Contains(m, "deadline"):
		return CategoryTimeout
	case strings.Contains(m, "connection"), strings.Contains(m, "network"), strings.Contains(m, "unreachable"):
		return CategoryNetwork
	case strings.Contains(m, "invalid"), strings.Contains(m, "validation"), strings.Contains(m, "malformed"):
		return CategoryValidation
	case strings.Contains(m, "unauthorized"), strings.Contains(m, "forbidden"):
		return CategoryAuthorization
	default:
		return CategoryExternalService
	}
}
