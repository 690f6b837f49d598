package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks tool call parameters against a tool's JSON Schema before
// execution, so malformed model output is rejected with a clear message
// instead of reaching tool code.
type Validator struct {
	schema *jsonschema.Schema
}

var schemaCache sync.Map

// NewValidator compiles a JSON Schema into a reusable validator.
// Compiled schemas are cached by their source text.
func NewValidator(schema json.RawMessage) (*Validator, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is required")
	}
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return &Validator{schema: compiled}, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, fmt.Errorf("compile tool schema: %w", err)
	}
	schemaCache.Store(key, compiled)
	return &Validator{schema: compiled}, nil
}

// Validate checks the given JSON parameters against the schema.
func (v *Validator) Validate(params json.RawMessage) error {
	if v == nil || v.schema == nil {
		return nil
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if err := v.schema.Validate(decoded); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}
