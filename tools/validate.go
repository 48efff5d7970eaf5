package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks tool arguments against the tool's input schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles a schema built with the helpers in this package.
func NewValidator(name string, schema map[string]any) (*Validator, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tools: marshal %s schema: %w", name, err)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("tools: compile %s schema: %w", name, err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate decodes input and validates it. Empty input counts as {}.
func (v *Validator) Validate(input json.RawMessage) error {
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return v.schema.Validate(doc)
}
