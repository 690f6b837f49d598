// Package narrative provides the assistant's domain tools: reading,
// writing, searching, linking, and analyzing narrative records. Tools in
// the write category mutate records and are subject to the approval gate.
package narrative

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// schemaFor reflects a JSON schema from a parameter struct. Schemas are
// inlined (no $ref) because LLM providers expect self-contained tool
// definitions.
func schemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""

	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
