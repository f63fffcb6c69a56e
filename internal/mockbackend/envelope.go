package mockbackend

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Error codes carried in failure envelopes.
const (
	codeValidation         = "VALIDATION_ERROR"
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeTokenMissing       = "TOKEN_MISSING"
	codeTokenInvalid       = "TOKEN_INVALID"
	codeTokenExpired       = "TOKEN_EXPIRED"
	codeUserNotFound       = "USER_NOT_FOUND"
	codeUserExists         = "USER_EXISTS"
	codeForbidden          = "FORBIDDEN"
	codeNotFound           = "NOT_FOUND"
	codeInsufficientStock  = "INSUFFICIENT_STOCK"
	codeInternal           = "INTERNAL_SERVER_ERROR"
)

type successEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success    bool         `json:"success"`
	ErrorCode  string       `json:"errorCode"`
	Message    string       `json:"message"`
	Errors     []fieldError `json:"errors"`
	Data       any          `json:"data"`
	StatusCode int          `json:"statusCode"`
}

func respond(contextGin *gin.Context, statusCode int, message string, data any) {
	contextGin.JSON(statusCode, successEnvelope{StatusCode: statusCode, Data: data, Message: message, Success: true})
}

func fail(contextGin *gin.Context, statusCode int, errorCode string, message string, fieldErrors ...fieldError) {
	if fieldErrors == nil {
		fieldErrors = []fieldError{}
	}
	contextGin.AbortWithStatusJSON(statusCode, errorEnvelope{
		ErrorCode:  errorCode,
		Message:    message,
		Errors:     fieldErrors,
		StatusCode: statusCode,
	})
}

// bindFailure converts a binding error into envelope field errors named by JSON tag.
func bindFailure(target any, bindErr error) []fieldError {
	var validationErrors validator.ValidationErrors
	if !errors.As(bindErr, &validationErrors) {
		return []fieldError{{Field: "body", Message: "Request body must be valid JSON"}}
	}
	targetType := reflect.TypeOf(target)
	for targetType.Kind() == reflect.Pointer {
		targetType = targetType.Elem()
	}
	fieldErrors := make([]fieldError, 0, len(validationErrors))
	for _, validationErr := range validationErrors {
		name := jsonName(targetType, validationErr.StructField())
		fieldErrors = append(fieldErrors, fieldError{Field: name, Message: describeRule(name, validationErr)})
	}
	return fieldErrors
}

func jsonName(structType reflect.Type, structField string) string {
	field, found := structType.FieldByName(structField)
	if !found {
		return structField
	}
	name := strings.Split(field.Tag.Get("json"), ",")[0]
	if name == "" || name == "-" {
		return structField
	}
	return name
}

func describeRule(name string, validationErr validator.FieldError) string {
	switch validationErr.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "email":
		return "Invalid email format"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", name, validationErr.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", name, validationErr.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", name, validationErr.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, validationErr.Param())
	default:
		return fmt.Sprintf("%s is invalid", name)
	}
}
