package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	instance := validator.New(validator.WithRequiredStructEnabled())
	instance.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return instance
}

// StructSchema decodes the value into a Go struct and applies its
// `validate` struct tags.
type StructSchema struct {
	structType reflect.Type
}

// Struct builds a schema from a struct prototype such as LoginRequest{} or
// (*LoginRequest)(nil).
func Struct(prototype any) *StructSchema {
	structType := reflect.TypeOf(prototype)
	for structType != nil && structType.Kind() == reflect.Pointer {
		structType = structType.Elem()
	}
	if structType == nil || structType.Kind() != reflect.Struct {
		panic(fmt.Sprintf("schema.struct: prototype must be a struct, got %T", prototype))
	}
	return &StructSchema{structType: structType}
}

func (s *StructSchema) check(value any, path Path, issues *Issues) {
	if _, ok := value.(map[string]any); !ok {
		expected(path, issues, "object", value)
		return
	}
	encoded, marshalErr := json.Marshal(value)
	if marshalErr != nil {
		issues.add(path, CodeUnknown, "Unknown validation error")
		return
	}
	instance := reflect.New(s.structType)
	if decodeErr := json.Unmarshal(encoded, instance.Interface()); decodeErr != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(decodeErr, &typeErr) {
			fieldPath := path
			for _, segment := range strings.Split(typeErr.Field, ".") {
				if segment != "" {
					fieldPath = fieldPath.with(segment)
				}
			}
			issues.add(fieldPath, CodeInvalidType, fmt.Sprintf("Expected %s, received %s", typeErr.Type.String(), typeErr.Value))
			return
		}
		issues.add(path, CodeInvalidType, decodeErr.Error())
		return
	}
	validateErr := structValidator.Struct(instance.Interface())
	if validateErr == nil {
		return
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(validateErr, &fieldErrors) {
		issues.add(path, CodeUnknown, "Unknown validation error")
		return
	}
	for _, fieldError := range fieldErrors {
		code, message := describeFieldError(fieldError)
		issues.add(namespacePath(path, fieldError.Namespace()), code, message)
	}
}

// namespacePath turns "LoginRequest.items[0].name" into base + items.0.name.
func namespacePath(base Path, namespace string) Path {
	parts := strings.Split(namespace, ".")
	fieldPath := base
	for _, part := range parts[1:] {
		name, rest, hasIndex := strings.Cut(part, "[")
		if name != "" {
			fieldPath = fieldPath.with(name)
		}
		for hasIndex {
			var inner string
			inner, rest, _ = strings.Cut(rest, "]")
			if index, err := strconv.Atoi(inner); err == nil {
				fieldPath = fieldPath.with(index)
			} else {
				fieldPath = fieldPath.with(inner)
			}
			_, rest, hasIndex = strings.Cut(rest, "[")
		}
	}
	return fieldPath
}

func describeFieldError(fieldError validator.FieldError) (string, string) {
	switch fieldError.Tag() {
	case "required", "required_if", "required_unless", "required_with":
		return CodeInvalidType, "Required"
	case "email":
		return CodeInvalidString, "Invalid email"
	case "url", "uri", "http_url":
		return CodeInvalidString, "Invalid url"
	case "gt":
		return CodeTooSmall, fmt.Sprintf("Must be greater than %s", fieldError.Param())
	case "lt":
		return CodeTooBig, fmt.Sprintf("Must be less than %s", fieldError.Param())
	case "min", "gte":
		if fieldError.Kind() == reflect.String {
			return CodeTooSmall, fmt.Sprintf("String must contain at least %s character(s)", fieldError.Param())
		}
		return CodeTooSmall, fmt.Sprintf("Must be at least %s", fieldError.Param())
	case "max", "lte":
		if fieldError.Kind() == reflect.String {
			return CodeTooBig, fmt.Sprintf("String must contain at most %s character(s)", fieldError.Param())
		}
		return CodeTooBig, fmt.Sprintf("Must be at most %s", fieldError.Param())
	case "oneof":
		return CodeInvalidEnumValue, fmt.Sprintf("Must be one of: %s", fieldError.Param())
	default:
		return CodeCustom, fmt.Sprintf("Failed on the '%s' rule", fieldError.Tag())
	}
}
