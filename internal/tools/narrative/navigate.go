package narrative

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/narrative"
)

// OpenRecordTool asks the surrounding product to open a record in the
// authoring screens. The tool itself only resolves the record; the caller
// interprets the returned navigation payload.
type OpenRecordTool struct {
	store narrative.RecordStore
}

// NewOpenRecordTool creates an open_record tool over the given store.
func NewOpenRecordTool(store narrative.RecordStore) *OpenRecordTool {
	return &OpenRecordTool{store: store}
}

func (t *OpenRecordTool) Name() string { return "open_record" }

func (t *OpenRecordTool) Description() string {
	return "Open a narrative record in the authoring view so the user can see what is being discussed."
}

func (t *OpenRecordTool) Category() agent.Category { return agent.CategoryNavigate }

type openRecordParams struct {
	ID string `json:"id" jsonschema_description:"Record id to open."`
}

func (t *OpenRecordTool) Schema() json.RawMessage {
	return schemaFor(&openRecordParams{})
}

func (t *OpenRecordTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input openRecordParams
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	entity, err := t.store.Get(ctx, input.ID)
	if err != nil {
		return "", err
	}

	return marshalResult(map[string]any{
		"open": map[string]string{
			"id":   entity.ID,
			"kind": string(entity.Kind),
			"name": entity.Name,
		},
	})
}
