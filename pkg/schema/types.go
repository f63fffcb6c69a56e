package schema

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var formatValidator = validator.New()

const dateTimeLayout = "2006-01-02T15:04:05Z07:00"

type stringRule struct {
	code    string
	message string
	accepts func(string) bool
}

// StringSchema matches JSON strings.
type StringSchema struct {
	rules []stringRule
}

// String returns a schema accepting any string.
func String() *StringSchema {
	return &StringSchema{}
}

func (s *StringSchema) with(rule stringRule) *StringSchema {
	clone := &StringSchema{rules: slices.Clone(s.rules)}
	clone.rules = append(clone.rules, rule)
	return clone
}

// Min requires at least length characters.
func (s *StringSchema) Min(length int, message ...string) *StringSchema {
	fallback := fmt.Sprintf("String must contain at least %d character(s)", length)
	return s.with(stringRule{code: CodeTooSmall, message: pickMessage(fallback, message), accepts: func(value string) bool {
		return utf8.RuneCountInString(value) >= length
	}})
}

// Max allows at most length characters.
func (s *StringSchema) Max(length int, message ...string) *StringSchema {
	fallback := fmt.Sprintf("String must contain at most %d character(s)", length)
	return s.with(stringRule{code: CodeTooBig, message: pickMessage(fallback, message), accepts: func(value string) bool {
		return utf8.RuneCountInString(value) <= length
	}})
}

// Email requires a valid email address.
func (s *StringSchema) Email(message ...string) *StringSchema {
	return s.with(stringRule{code: CodeInvalidString, message: pickMessage("Invalid email", message), accepts: func(value string) bool {
		return formatValidator.Var(value, "email") == nil
	}})
}

// URL requires an absolute URL.
func (s *StringSchema) URL(message ...string) *StringSchema {
	return s.with(stringRule{code: CodeInvalidString, message: pickMessage("Invalid url", message), accepts: func(value string) bool {
		return formatValidator.Var(value, "url") == nil
	}})
}

// DateTime requires an RFC 3339 timestamp.
func (s *StringSchema) DateTime(message ...string) *StringSchema {
	return s.with(stringRule{code: CodeInvalidString, message: pickMessage("Invalid datetime", message), accepts: func(value string) bool {
		return formatValidator.Var(value, "datetime="+dateTimeLayout) == nil
	}})
}

// Pattern requires a match of expression.
func (s *StringSchema) Pattern(expression *regexp.Regexp, message ...string) *StringSchema {
	return s.with(stringRule{code: CodeInvalidString, message: pickMessage("Invalid", message), accepts: expression.MatchString})
}

// OneOf restricts the string to the listed values.
func (s *StringSchema) OneOf(values ...string) *StringSchema {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, "'"+value+"'")
	}
	expectedValues := strings.Join(quoted, " | ")
	rule := stringRule{code: CodeInvalidEnumValue, accepts: func(value string) bool {
		return slices.Contains(values, value)
	}}
	rule.message = "Invalid enum value. Expected " + expectedValues
	return s.with(rule)
}

// Refine adds a custom predicate.
func (s *StringSchema) Refine(accepts func(string) bool, message string) *StringSchema {
	return s.with(stringRule{code: CodeCustom, message: message, accepts: accepts})
}

func (s *StringSchema) check(value any, path Path, issues *Issues) {
	text, ok := value.(string)
	if !ok {
		expected(path, issues, "string", value)
		return
	}
	for _, rule := range s.rules {
		if !rule.accepts(text) {
			message := rule.message
			if rule.code == CodeInvalidEnumValue {
				message = fmt.Sprintf("%s, received '%s'", rule.message, text)
			}
			issues.add(path, rule.code, message)
		}
	}
}

type numberRule struct {
	code    string
	message string
	accepts func(float64) bool
}

// NumberSchema matches JSON numbers.
type NumberSchema struct {
	integer bool
	rules   []numberRule
}

// Number returns a schema accepting any number.
func Number() *NumberSchema {
	return &NumberSchema{}
}

func (s *NumberSchema) with(rule numberRule) *NumberSchema {
	clone := &NumberSchema{integer: s.integer, rules: slices.Clone(s.rules)}
	clone.rules = append(clone.rules, rule)
	return clone
}

// Int requires an integral value.
func (s *NumberSchema) Int() *NumberSchema {
	clone := &NumberSchema{integer: true, rules: slices.Clone(s.rules)}
	return clone
}

// Positive requires a value greater than zero.
func (s *NumberSchema) Positive(message ...string) *NumberSchema {
	return s.with(numberRule{code: CodeTooSmall, message: pickMessage("Number must be greater than 0", message), accepts: func(value float64) bool {
		return value > 0
	}})
}

// NonNegative requires a value of zero or more.
func (s *NumberSchema) NonNegative(message ...string) *NumberSchema {
	return s.with(numberRule{code: CodeTooSmall, message: pickMessage("Number must be greater than or equal to 0", message), accepts: func(value float64) bool {
		return value >= 0
	}})
}

// Min requires a value of at least minimum.
func (s *NumberSchema) Min(minimum float64, message ...string) *NumberSchema {
	fallback := fmt.Sprintf("Number must be greater than or equal to %v", minimum)
	return s.with(numberRule{code: CodeTooSmall, message: pickMessage(fallback, message), accepts: func(value float64) bool {
		return value >= minimum
	}})
}

// Max requires a value of at most maximum.
func (s *NumberSchema) Max(maximum float64, message ...string) *NumberSchema {
	fallback := fmt.Sprintf("Number must be less than or equal to %v", maximum)
	return s.with(numberRule{code: CodeTooBig, message: pickMessage(fallback, message), accepts: func(value float64) bool {
		return value <= maximum
	}})
}

func (s *NumberSchema) check(value any, path Path, issues *Issues) {
	number, ok := value.(float64)
	if !ok {
		expected(path, issues, "number", value)
		return
	}
	if s.integer && number != math.Trunc(number) {
		issues.add(path, CodeInvalidType, "Expected integer, received float")
		return
	}
	for _, rule := range s.rules {
		if !rule.accepts(number) {
			issues.add(path, rule.code, rule.message)
		}
	}
}

type booleanSchema struct{}

// Boolean accepts true and false.
func Boolean() Schema {
	return booleanSchema{}
}

func (booleanSchema) check(value any, path Path, issues *Issues) {
	if _, ok := value.(bool); !ok {
		expected(path, issues, "boolean", value)
	}
}

type nullSchema struct{}

// Null accepts only null.
func Null() Schema {
	return nullSchema{}
}

func (nullSchema) check(value any, path Path, issues *Issues) {
	if value != nil {
		expected(path, issues, "null", value)
	}
}

type anySchema struct{}

// Any accepts every value.
func Any() Schema {
	return anySchema{}
}

func (anySchema) check(value any, path Path, issues *Issues) {}

type nullableSchema struct {
	inner Schema
}

// Nullable accepts null or a value matching inner.
func Nullable(inner Schema) Schema {
	return nullableSchema{inner: inner}
}

func (s nullableSchema) check(value any, path Path, issues *Issues) {
	if value == nil {
		return
	}
	s.inner.check(value, path, issues)
}

type arraySchema struct {
	element Schema
}

// Array accepts a JSON array whose elements all match element.
func Array(element Schema) Schema {
	return arraySchema{element: element}
}

func (s arraySchema) check(value any, path Path, issues *Issues) {
	elements, ok := value.([]any)
	if !ok {
		expected(path, issues, "array", value)
		return
	}
	for index, element := range elements {
		s.element.check(element, path.with(index), issues)
	}
}

type literalSchema struct {
	literal any
}

// Literal accepts exactly one value.
func Literal(value any) Schema {
	normalized, err := Normalize(value)
	if err != nil {
		panic(fmt.Sprintf("schema.literal: %v", err))
	}
	return literalSchema{literal: normalized}
}

func (s literalSchema) check(value any, path Path, issues *Issues) {
	if !reflect.DeepEqual(value, s.literal) {
		issues.add(path, CodeInvalidLiteral, fmt.Sprintf("Invalid literal value, expected %v", s.literal))
	}
}

type unionSchema struct {
	options []Schema
}

// Union accepts a value matching at least one option.
func Union(options ...Schema) Schema {
	return unionSchema{options: options}
}

func (s unionSchema) check(value any, path Path, issues *Issues) {
	for _, option := range s.options {
		optionIssues := Issues{}
		option.check(value, path, &optionIssues)
		if len(optionIssues) == 0 {
			return
		}
	}
	issues.add(path, CodeInvalidUnion, "Invalid input")
}

// Field is one declared key of an object schema.
type Field struct {
	name     string
	schema   Schema
	optional bool
}

// Required declares a key that must be present.
func Required(name string, s Schema) Field {
	return Field{name: name, schema: s}
}

// Optional declares a key that may be absent.
func Optional(name string, s Schema) Field {
	return Field{name: name, schema: s, optional: true}
}

// ObjectSchema matches JSON objects field by field in declaration order.
type ObjectSchema struct {
	fields []Field
	strict bool
}

// Object returns a schema for an object with the given fields. Unknown keys
// are allowed unless Strict is applied.
func Object(fields ...Field) *ObjectSchema {
	return &ObjectSchema{fields: fields}
}

// Strict rejects keys that are not declared.
func (s *ObjectSchema) Strict() *ObjectSchema {
	return &ObjectSchema{fields: s.fields, strict: true}
}

func (s *ObjectSchema) check(value any, path Path, issues *Issues) {
	object, ok := value.(map[string]any)
	if !ok {
		expected(path, issues, "object", value)
		return
	}
	for _, field := range s.fields {
		fieldValue, present := object[field.name]
		if !present {
			if !field.optional {
				issues.add(path.with(field.name), CodeInvalidType, "Required")
			}
			continue
		}
		field.schema.check(fieldValue, path.with(field.name), issues)
	}
	if !s.strict {
		return
	}
	unknown := make([]string, 0)
	for key := range object {
		if !s.declares(key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return
	}
	sort.Strings(unknown)
	quoted := make([]string, 0, len(unknown))
	for _, key := range unknown {
		quoted = append(quoted, "'"+key+"'")
	}
	issues.add(path, CodeUnrecognizedKeys, "Unrecognized key(s) in object: "+strings.Join(quoted, ", "))
}

func (s *ObjectSchema) declares(key string) bool {
	for _, field := range s.fields {
		if field.name == key {
			return true
		}
	}
	return false
}
