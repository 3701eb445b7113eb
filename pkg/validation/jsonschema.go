package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON schema that can be reused across requests.
type Schema struct {
	compiled *jsonschema.Schema
}

// Compile parses schemaJSON once. name only labels the resource in errors.
func Compile(name, schemaJSON string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(name, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile JSON schema: %w", err)
	}
	return &Schema{compiled: sch}, nil
}

// MustCompile is Compile for package-level schemas.
func MustCompile(name, schemaJSON string) *Schema {
	s, err := Compile(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks raw JSON bytes against the schema.
func (s *Schema) Validate(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal JSON data: %w", err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Errorf("JSON data failed validation against schema: %v", validationErr)
		}
		return fmt.Errorf("JSON data failed validation: %w", err)
	}
	return nil
}

// ValidateJSONWithSchema validates a JSON data string against a JSON schema
// string. An empty schema accepts anything.
func ValidateJSONWithSchema(schemaJSON string, dataJSON string) error {
	if schemaJSON == "" {
		return nil
	}
	sch, err := Compile("schema.json", schemaJSON)
	if err != nil {
		return err
	}
	return sch.Validate([]byte(dataJSON))
}
