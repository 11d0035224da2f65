// Package schema validates render contexts against a JSON-Schema style
// descriptor. Descriptors use the OpenAPI 3 schema dialect: type, properties,
// required, items, enum, minLength, maximum and friends.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSchema is returned when a descriptor cannot be compiled.
var ErrInvalidSchema = errors.New("invalid context schema")

// Schema is a compiled context descriptor. It is immutable and safe for
// concurrent use.
type Schema struct {
	root *openapi3.Schema
}

// Compile converts descriptor into a Schema.
func Compile(descriptor map[string]any) (*Schema, error) {
	raw, err := json.Marshal(descriptor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	return CompileJSON(raw)
}

// CompileJSON compiles a JSON encoded descriptor.
func CompileJSON(raw []byte) (*Schema, error) {
	root := &openapi3.Schema{}
	if err := root.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	if err := root.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	return &Schema{root: root}, nil
}

// LoadFile compiles a descriptor stored as JSON or YAML.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}

	var descriptor map[string]any
	if err := yaml.Unmarshal(data, &descriptor); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidSchema, path, err)
	}
	return Compile(descriptor)
}

// Required returns the top-level required property names.
func (s *Schema) Required() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.root.Required)
}

// Validate checks data and returns one message per problem, or nil when data
// conforms. A nil Schema accepts everything.
func (s *Schema) Validate(data map[string]any) []string {
	if s == nil {
		return nil
	}
	if data == nil {
		data = map[string]any{}
	}

	err := s.root.VisitJSON(data, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	var problems []string
	collect(err, &problems)
	return problems
}

func collect(err error, out *[]string) {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		for _, e := range multi {
			collect(e, out)
		}
		return
	}

	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		msg := se.Reason
		if ptr := se.JSONPointer(); len(ptr) > 0 {
			msg = fmt.Sprintf("%q: %s", strings.Join(ptr, "."), se.Reason)
		}
		*out = append(*out, msg)
		return
	}
	*out = append(*out, err.Error())
}
