package pipeline

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tyemirov/storefront/pkg/schema"
)

const (
	messageValidationFailed = "Validation failed"
	messageBackendDefault   = "Something went wrong"
	messageNetworkError     = "Network error occurred"
)

// Normalize maps any failure onto the canonical *Error. It performs no I/O.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var normalized *Error
	if errors.As(err, &normalized) {
		return normalized
	}
	var validationErr *schema.ValidationError
	if errors.As(err, &validationErr) {
		fieldErrors := make([]FieldError, 0, len(validationErr.Issues))
		for _, issue := range validationErr.Issues {
			fieldErrors = append(fieldErrors, FieldError{Field: issue.Path.String(), Message: issue.Message})
		}
		return &Error{
			Kind:       KindValidation,
			Category:   CategoryValidation,
			Message:    messageValidationFailed,
			Errors:     fieldErrors,
			StatusCode: http.StatusBadRequest,
			ErrorCode:  CodeValidationError,
			Cause:      err,
		}
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		if backendErr, ok := backendError(transportErr); ok {
			backendErr.Cause = err
			return backendErr
		}
		return networkError(transportErr.StatusCode, err)
	}
	return networkError(0, err)
}

func networkError(statusCode int, cause error) *Error {
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	return &Error{
		Kind:       KindNetwork,
		Category:   categoryForStatus(statusCode),
		Message:    messageNetworkError,
		Errors:     []FieldError{},
		StatusCode: statusCode,
		ErrorCode:  CodeNetworkError,
		Cause:      cause,
	}
}

// backendError decodes the backend error envelope. A body counts as structured
// when it is a JSON object carrying at least one envelope field.
func backendError(transportErr *TransportError) (*Error, bool) {
	if len(transportErr.Body) == 0 {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if decodeErr := json.Unmarshal(transportErr.Body, &fields); decodeErr != nil || fields == nil {
		return nil, false
	}
	rawMessage, hasMessage := fields["message"]
	rawErrors, hasErrors := fields["errors"]
	rawStatus, hasStatus := fields["statusCode"]
	rawCode, hasCode := fields["errorCode"]
	if !hasMessage && !hasErrors && !hasStatus && !hasCode {
		return nil, false
	}

	normalized := &Error{
		Kind:       KindBackend,
		Message:    messageBackendDefault,
		Errors:     []FieldError{},
		StatusCode: transportErr.StatusCode,
		ErrorCode:  CodeUnknownError,
	}
	var message string
	if hasMessage && json.Unmarshal(rawMessage, &message) == nil && message != "" {
		normalized.Message = message
	}
	if hasErrors {
		normalized.Errors = decodeFieldErrors(rawErrors)
	}
	var statusCode int
	if hasStatus && json.Unmarshal(rawStatus, &statusCode) == nil && statusCode != 0 {
		normalized.StatusCode = statusCode
	}
	if normalized.StatusCode == 0 {
		normalized.StatusCode = http.StatusInternalServerError
	}
	var errorCode string
	if hasCode && json.Unmarshal(rawCode, &errorCode) == nil && errorCode != "" {
		normalized.ErrorCode = errorCode
	}
	normalized.Category = categoryForStatus(normalized.StatusCode)
	return normalized, true
}

func decodeFieldErrors(raw json.RawMessage) []FieldError {
	var entries []json.RawMessage
	if json.Unmarshal(raw, &entries) != nil {
		return []FieldError{}
	}
	fieldErrors := make([]FieldError, 0, len(entries))
	for _, entry := range entries {
		var fieldError FieldError
		if json.Unmarshal(entry, &fieldError) != nil {
			continue
		}
		fieldErrors = append(fieldErrors, fieldError)
	}
	return fieldErrors
}
