package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/narrative"
)

// LinkRecordsTool creates a typed relationship between two records.
// Linking mutates world data, so it carries the write category and goes
// through the approval gate like the other write tools.
type LinkRecordsTool struct {
	store narrative.RecordStore
}

// NewLinkRecordsTool creates a link_records tool over the given store.
func NewLinkRecordsTool(store narrative.RecordStore) *LinkRecordsTool {
	return &LinkRecordsTool{store: store}
}

func (t *LinkRecordsTool) Name() string { return "link_records" }

func (t *LinkRecordsTool) Description() string {
	return "Create a typed relationship between two records, e.g. a character lives_in a location."
}

func (t *LinkRecordsTool) Category() agent.Category { return agent.CategoryWrite }

type linkRecordsParams struct {
	FromID string `json:"from_id" jsonschema_description:"Source record id."`
	ToID   string `json:"to_id" jsonschema_description:"Target record id."`
	Type   string `json:"type" jsonschema_description:"Relationship type, e.g. lives_in, knows, occurs_at."`
}

func (t *LinkRecordsTool) Schema() json.RawMessage {
	return schemaFor(&linkRecordsParams{})
}

func (t *LinkRecordsTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input linkRecordsParams
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Type) == "" {
		return "", fmt.Errorf("relationship type is required")
	}

	rel := narrative.Relationship{
		FromID: input.FromID,
		ToID:   input.ToID,
		Type:   input.Type,
	}
	if err := t.store.Link(ctx, rel); err != nil {
		return "", err
	}
	return marshalResult(rel)
}

// RelatedRecordsTool walks the relationship graph outward from a record.
type RelatedRecordsTool struct {
	store narrative.RecordStore
}

// NewRelatedRecordsTool creates a related_records tool over the given store.
func NewRelatedRecordsTool(store narrative.RecordStore) *RelatedRecordsTool {
	return &RelatedRecordsTool{store: store}
}

func (t *RelatedRecordsTool) Name() string { return "related_records" }

func (t *RelatedRecordsTool) Description() string {
	return "Walk the relationship graph outward from a record, returning the relationships within the given depth."
}

func (t *RelatedRecordsTool) Category() agent.Category { return agent.CategoryGraph }

type relatedRecordsParams struct {
	ID    string `json:"id" jsonschema_description:"Record id to start from."`
	Depth int    `json:"depth,omitempty" jsonschema_description:"How many hops to walk (default 1)."`
}

func (t *RelatedRecordsTool) Schema() json.RawMessage {
	return schemaFor(&relatedRecordsParams{})
}

func (t *RelatedRecordsTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input relatedRecordsParams
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if input.Depth <= 0 {
		input.Depth = 1
	}

	rels, err := t.store.Related(ctx, input.ID, input.Depth)
	if err != nil {
		return "", err
	}
	return marshalResult(rels)
}
