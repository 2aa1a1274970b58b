package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	coreerrors "github.com/tidemark-io/tidemark/internal/core/errors"
	"github.com/tidemark-io/tidemark/internal/core/record"
)

// Schema is a declarative per-data-set field specification. Records may carry
// fields the schema does not mention; declared fields must match their
// declared type, and required fields must be present.
type Schema struct {
	Fields map[string]*Field `yaml:"fields"`
}

// Field declares one record field.
//
// Two declaration styles are supported:
//
//	Shorthand (scalar): authority: string!
//	Long form (mapping): channel:
//	                        type: string
//	                        enum: [web, phone, paper]
//
// Type names: string, number, boolean, timestamp. Append "!" to mark the
// field required.
type Field struct {
	Type     string `yaml:"type"`
	Required bool   `yaml:"required,omitempty"`

	// Enum restricts a string field to a fixed set of values.
	Enum []string `yaml:"enum,omitempty"`

	// Min/Max bound a number field.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// Pattern constrains a string field. Compiled during Validate.
	Pattern string `yaml:"pattern,omitempty"`

	compiledPattern *regexp.Regexp
}

// Field types.
const (
	TypeString    = "string"
	TypeNumber    = "number"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
)

// UnmarshalYAML accepts both the shorthand and long-form declarations.
func (f *Field) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return f.parseTypeString(value.Value)
	}

	type fieldAlias Field
	var alias fieldAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*f = Field(alias)

	if f.Type == "" {
		return fmt.Errorf("field missing 'type'")
	}
	return f.parseTypeString(f.Type)
}

func (f *Field) parseTypeString(s string) error {
	if strings.HasSuffix(s, "!") {
		f.Required = true
		s = strings.TrimSuffix(s, "!")
	}
	switch s {
	case TypeString, TypeNumber, TypeBoolean, TypeTimestamp:
		f.Type = s
	default:
		return fmt.Errorf("unsupported type %q (must be: string, number, boolean, timestamp)", s)
	}
	return nil
}

// Parse decodes and validates a schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if err := s.Compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Compile checks the schema for definition errors and compiles any patterns.
// Must be called once before Validate.
func (s *Schema) Compile() error {
	for name, field := range s.Fields {
		if field == nil {
			return fmt.Errorf("field %q: type cannot be empty", name)
		}
		if err := field.compile(); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

func (f *Field) compile() error {
	if f.Type == "" {
		return fmt.Errorf("field missing 'type'")
	}
	switch f.Type {
	case TypeString:
		if f.Min != nil || f.Max != nil {
			return fmt.Errorf("string fields do not support min/max constraints")
		}
		if f.Pattern != "" {
			compiled, err := regexp.Compile(f.Pattern)
			if err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
			f.compiledPattern = compiled
		}
	case TypeNumber:
		if len(f.Enum) > 0 || f.Pattern != "" {
			return fmt.Errorf("number fields do not support enum or pattern constraints")
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return fmt.Errorf("min (%v) cannot exceed max (%v)", *f.Min, *f.Max)
		}
	case TypeBoolean, TypeTimestamp:
		if len(f.Enum) > 0 || f.Pattern != "" || f.Min != nil || f.Max != nil {
			return fmt.Errorf("%s fields do not support constraints", f.Type)
		}
	default:
		return fmt.Errorf("unsupported type %q", f.Type)
	}
	return nil
}

// Validate checks one record against the schema and returns every violation
// found, in stable field order. RecordIndex on the returned errors is left
// for the caller to fill in.
func (s *Schema) Validate(rec record.Record) []*coreerrors.ValidationError {
	if s == nil || len(s.Fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*coreerrors.ValidationError
	for _, name := range names {
		field := s.Fields[name]
		value, exists := rec[name]

		if !exists || value == nil {
			if field.Required {
				out = append(out, &coreerrors.ValidationError{
					Field:   name,
					Message: "required field is missing",
				})
			}
			continue
		}

		if msg := field.check(value); msg != "" {
			out = append(out, &coreerrors.ValidationError{Field: name, Message: msg})
		}
	}
	return out
}

func (f *Field) check(value any) string {
	switch f.Type {
	case TypeString:
		return f.checkString(value)
	case TypeNumber:
		return f.checkNumber(value)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %s", valueTypeName(value))
		}
		return ""
	case TypeTimestamp:
		if _, err := record.ParseTimestamp(value); err != nil {
			return fmt.Sprintf("expected timestamp, got %s", valueTypeName(value))
		}
		return ""
	}
	return fmt.Sprintf("unknown field type %q", f.Type)
}

func (f *Field) checkString(value any) string {
	str, ok := value.(string)
	if !ok {
		return fmt.Sprintf("expected string, got %s", valueTypeName(value))
	}
	if len(f.Enum) > 0 {
		for _, allowed := range f.Enum {
			if allowed == str {
				return ""
			}
		}
		return fmt.Sprintf("value %q not in enum %v", str, f.Enum)
	}
	if f.compiledPattern != nil && !f.compiledPattern.MatchString(str) {
		return fmt.Sprintf("value %q does not match pattern %q", str, f.Pattern)
	}
	return ""
}

func (f *Field) checkNumber(value any) string {
	var num float64
	switch v := value.(type) {
	case float64:
		num = v
	case float32:
		num = float64(v)
	case int:
		num = float64(v)
	case int64:
		num = float64(v)
	default:
		return fmt.Sprintf("expected number, got %s", valueTypeName(value))
	}
	if f.Min != nil && num < *f.Min {
		return fmt.Sprintf("value %v is less than minimum %v", num, *f.Min)
	}
	if f.Max != nil && num > *f.Max {
		return fmt.Sprintf("value %v exceeds maximum %v", num, *f.Max)
	}
	return ""
}

func valueTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, float32, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
