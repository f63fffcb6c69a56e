package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates normalized errors.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindSessionExpired Kind = "session_expired"
	KindNetwork        Kind = "network"
	KindBackend        Kind = "backend"
)

// Category tells a presenter which user-facing treatment an error needs.
type Category string

const (
	CategorySessionExpired Category = "session_expired"
	CategoryPermission     Category = "permission"
	CategoryNotFound       Category = "not_found"
	CategoryValidation     Category = "validation"
	CategoryServerError    Category = "server_error"
	CategoryError          Category = "error"
)

// Error codes assigned by the normalizer.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeSessionExpired  = "SESSION_EXPIRED"
	CodeNetworkError    = "NETWORK_ERROR"
	CodeUnknownError    = "UNKNOWN_ERROR"
)

// ErrSessionExpired marks errors that ended the stored session.
var ErrSessionExpired = errors.New("pipeline.session_expired")

// FieldError is one field-level message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the only error type returned by Pipeline.Send.
type Error struct {
	Kind       Kind         `json:"kind"`
	Category   Category     `json:"category"`
	Message    string       `json:"message"`
	Errors     []FieldError `json:"errors"`
	StatusCode int          `json:"statusCode"`
	ErrorCode  string       `json:"errorCode"`
	Cause      error        `json:"-"`
}

func (normalized *Error) Error() string {
	return fmt.Sprintf("pipeline.%s: %s (status %d, code %s)", normalized.Kind, normalized.Message, normalized.StatusCode, normalized.ErrorCode)
}

func (normalized *Error) Unwrap() error {
	return normalized.Cause
}

// FieldMessage returns the first message reported for field.
func (normalized *Error) FieldMessage(field string) (string, bool) {
	for _, fieldError := range normalized.Errors {
		if fieldError.Field == field {
			return fieldError.Message, true
		}
	}
	return "", false
}

// SessionExpired builds the terminal error returned when the session cannot
// be recovered. errors.Is(err, ErrSessionExpired) holds for the result.
func SessionExpired(cause error) *Error {
	wrapped := ErrSessionExpired
	if cause != nil {
		wrapped = fmt.Errorf("%w: %w", ErrSessionExpired, cause)
	}
	return &Error{
		Kind:       KindSessionExpired,
		Category:   CategorySessionExpired,
		Message:    "Session expired. Please log in again.",
		Errors:     []FieldError{},
		StatusCode: http.StatusUnauthorized,
		ErrorCode:  CodeSessionExpired,
		Cause:      wrapped,
	}
}

func categoryForStatus(statusCode int) Category {
	switch statusCode {
	case http.StatusUnauthorized:
		return CategorySessionExpired
	case http.StatusForbidden:
		return CategoryPermission
	case http.StatusNotFound:
		return CategoryNotFound
	case http.StatusUnprocessableEntity:
		return CategoryValidation
	case http.StatusInternalServerError:
		return CategoryServerError
	default:
		return CategoryError
	}
}
