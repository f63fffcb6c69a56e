// Package schema validates JSON-shaped values against declarative schemas and
// reports every mismatch as structured data.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Issue codes reported by the built-in schemas.
const (
	CodeInvalidType      = "invalid_type"
	CodeTooSmall         = "too_small"
	CodeTooBig           = "too_big"
	CodeInvalidString    = "invalid_string"
	CodeInvalidEnumValue = "invalid_enum_value"
	CodeInvalidLiteral   = "invalid_literal"
	CodeUnrecognizedKeys = "unrecognized_keys"
	CodeInvalidUnion     = "invalid_union"
	CodeCustom           = "custom"
	CodeUnknown          = "UNKNOWN"
)

// Schema describes the expected shape of a JSON value.
type Schema interface {
	check(value any, path Path, issues *Issues)
}

// Path locates a value inside a document. Elements are string keys or int indexes.
type Path []any

// String renders the path with dot separators, e.g. "items.0.name".
func (path Path) String() string {
	parts := make([]string, 0, len(path))
	for _, segment := range path {
		switch typed := segment.(type) {
		case string:
			parts = append(parts, typed)
		case int:
			parts = append(parts, strconv.Itoa(typed))
		default:
			parts = append(parts, fmt.Sprint(typed))
		}
	}
	return strings.Join(parts, ".")
}

func (path Path) with(segment any) Path {
	extended := make(Path, len(path), len(path)+1)
	copy(extended, path)
	return append(extended, segment)
}

// Issue is a single validation failure.
type Issue struct {
	Path    Path   `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Issues is an ordered list of validation failures.
type Issues []Issue

func (issues *Issues) add(path Path, code string, message string) {
	*issues = append(*issues, Issue{Path: path, Message: message, Code: code})
}

// FieldError returns the message of the first issue at the dotted field path.
func (issues Issues) FieldError(fieldPath string) (string, bool) {
	for _, issue := range issues {
		if issue.Path.String() == fieldPath {
			return issue.Message, true
		}
	}
	return "", false
}

// HasFieldError reports whether any issue targets the dotted field path.
func (issues Issues) HasFieldError(fieldPath string) bool {
	_, found := issues.FieldError(fieldPath)
	return found
}

// FormErrors maps dotted field paths to messages. Root-level issues are skipped
// and the last issue for a path wins.
func (issues Issues) FormErrors() map[string]string {
	formErrors := make(map[string]string, len(issues))
	for _, issue := range issues {
		fieldPath := issue.Path.String()
		if fieldPath == "" {
			continue
		}
		formErrors[fieldPath] = issue.Message
	}
	return formErrors
}

// Result is the outcome of one validation call.
type Result struct {
	Success bool   `json:"success"`
	Errors  Issues `json:"errors"`
}

// ValidationError carries the issues of a failed validation.
type ValidationError struct {
	Issues Issues
}

func (validationError *ValidationError) Error() string {
	if validationError == nil || len(validationError.Issues) == 0 {
		return "schema.validation_failed"
	}
	first := validationError.Issues[0]
	if path := first.Path.String(); path != "" {
		return fmt.Sprintf("schema.validation_failed: %s: %s", path, first.Message)
	}
	return fmt.Sprintf("schema.validation_failed: %s", first.Message)
}

// Validate checks value against s. It never panics; every failure is returned
// in the result, ordered by schema traversal.
func Validate(value any, s Schema) (result Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = Result{Errors: Issues{{Path: Path{}, Message: "Unknown validation error", Code: CodeUnknown}}}
		}
	}()
	if s == nil {
		return Result{Success: true, Errors: Issues{}}
	}
	normalized, normalizeErr := Normalize(value)
	if normalizeErr != nil {
		return Result{Errors: Issues{{Path: Path{}, Message: "Unknown validation error", Code: CodeUnknown}}}
	}
	issues := Issues{}
	s.check(normalized, Path{}, &issues)
	return Result{Success: len(issues) == 0, Errors: issues}
}

// ValidateOrError returns a *ValidationError when value does not match s.
func ValidateOrError(value any, s Schema) error {
	result := Validate(value, s)
	if result.Success {
		return nil
	}
	return &ValidationError{Issues: result.Errors}
}

func pickMessage(fallback string, overrides []string) string {
	if len(overrides) > 0 && strings.TrimSpace(overrides[0]) != "" {
		return overrides[0]
	}
	return fallback
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func expected(path Path, issues *Issues, want string, value any) {
	issues.add(path, CodeInvalidType, fmt.Sprintf("Expected %s, received %s", want, typeName(value)))
}
