package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/narrative"
)

// GetRecordTool fetches a single record by id.
type GetRecordTool struct {
	store narrative.RecordStore
}

// NewGetRecordTool creates a get_record tool over the given store.
func NewGetRecordTool(store narrative.RecordStore) *GetRecordTool {
	return &GetRecordTool{store: store}
}

func (t *GetRecordTool) Name() string { return "get_record" }

func (t *GetRecordTool) Description() string {
	return "Fetch a single narrative record (world, story, beat, character, location, or event) by id."
}

func (t *GetRecordTool) Category() agent.Category { return agent.CategoryRead }

type getRecordParams struct {
	ID string `json:"id" jsonschema_description:"Record id to fetch."`
}

func (t *GetRecordTool) Schema() json.RawMessage {
	return schemaFor(&getRecordParams{})
}

func (t *GetRecordTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input getRecordParams
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	entity, err := t.store.Get(ctx, input.ID)
	if err != nil {
		return "", err
	}
	return marshalResult(entity)
}

// ListRecordsTool lists records in a world, optionally filtered by kind.
type ListRecordsTool struct {
	store narrative.RecordStore
}

// NewListRecordsTool creates a list_records tool over the given store.
func NewListRecordsTool(store narrative.RecordStore) *ListRecordsTool {
	return &ListRecordsTool{store: store}
}

func (t *ListRecordsTool) Name() string { return "list_records" }

func (t *ListRecordsTool) Description() string {
	return "List narrative records in a world, optionally filtered by kind (story, beat, character, location, event)."
}

func (t *ListRecordsTool) Category() agent.Category { return agent.CategoryRead }

type listRecordsParams struct {
	WorldID string `json:"world_id" jsonschema_description:"World whose records to list."`
	Kind    string `json:"kind,omitempty" jsonschema_description:"Optional kind filter: story, beat, character, location, or event."`
}

func (t *ListRecordsTool) Schema() json.RawMessage {
	return schemaFor(&listRecordsParams{})
}

func (t *ListRecordsTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input listRecordsParams
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	entities, err := t.store.List(ctx, input.WorldID, narrative.EntityKind(input.Kind))
	if err != nil {
		return "", err
	}

	type item struct {
		ID      string `json:"id"`
		Kind    string `json:"kind"`
		Name    string `json:"name"`
		Summary string `json:"summary,omitempty"`
	}
	items := make([]item, 0, len(entities))
	for _, e := range entities {
		items = append(items, item{
			ID:      e.ID,
			Kind:    string(e.Kind),
			Name:    e.Name,
			Summary: e.Summary,
		})
	}
	return marshalResult(items)
}

// SearchRecordsTool searches records by name, summary, and tags.
type SearchRecordsTool struct {
	store narrative.RecordStore
}

// NewSearchRecordsTool creates a search_records tool over the given store.
func NewSearchRecordsTool(store narrative.RecordStore) *SearchRecordsTool {
	return &SearchRecordsTool{store: store}
}

func (t *SearchRecordsTool) Name() string { return "search_records" }

func (t *SearchRecordsTool) Description() string {
	return "Search narrative records in a world by name, summary, or tag. Returns scored matches with snippets."
}

func (t *SearchRecordsTool) Category() agent.Category { return agent.CategoryRead }

type searchRecordsParams struct {
	WorldID string `json:"world_id" jsonschema_description:"World to search in."`
	Query   string `json:"query" jsonschema_description:"Search terms."`
	Limit   int    `json:"limit,omitempty" jsonschema_description:"Maximum results to return (default 10)."`
}

func (t *SearchRecordsTool) Schema() json.RawMessage {
	return schemaFor(&searchRecordsParams{})
}

func (t *SearchRecordsTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input searchRecordsParams
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if input.Limit <= 0 {
		input.Limit = 10
	}

	results, err := t.store.Search(ctx, input.WorldID, input.Query, input.Limit)
	if err != nil {
		return "", err
	}
	return marshalResult(results)
}

// CreateRecordTool creates a record of a fixed kind. One instance is
// registered per kind so the model sees distinct tools like
// create_character and create_location.
type CreateRecordTool struct {
	store narrative.RecordStore
	kind  narrative.EntityKind
}

// NewCreateRecordTool creates a create_<kind> tool over the given store.
func NewCreateRecordTool(store narrative.RecordStore, kind narrative.EntityKind) *CreateRecordTool {
	return &CreateRecordTool{store: store, kind: kind}
}

func (t *CreateRecordTool) Name() string { return "create_" + string(t.kind) }

func (t *CreateRecordTool) Description() string {
	return fmt.Sprintf("Create a new %s record in a world.", t.kind)
}

func (t *CreateRecordTool) Category() agent.Category { return agent.CategoryWrite }

type createRecordParams struct {
	WorldID    string         `json:"world_id" jsonschema_description:"World the record belongs to."`
	Name       string         `json:"name" jsonschema_description:"Record name."`
	Summary    string         `json:"summary,omitempty" jsonschema_description:"Short prose summary."`
	Tags       []string       `json:"tags,omitempty" jsonschema_description:"Free-form tags."`
	Properties map[string]any `json:"properties,omitempty" jsonschema_description:"Kind-specific fields, e.g. a character's age."`
}

func (t *CreateRecordTool) Schema() json.RawMessage {
	return schemaFor(&createRecordParams{})
}

func (t *CreateRecordTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input createRecordParams
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Name) == "" {
		return "", fmt.Errorf("name is required")
	}

	entity := &narrative.Entity{
		WorldID:    input.WorldID,
		Kind:       t.kind,
		Name:       input.Name,
		Summary:    input.Summary,
		Tags:       input.Tags,
		Properties: input.Properties,
	}
	if err := t.store.Create(ctx, entity); err != nil {
		return "", err
	}
	return marshalResult(entity)
}

// UpdateRecordTool updates fields on an existing record. Omitted fields
// are left unchanged.
type UpdateRecordTool struct {
	store narrative.RecordStore
}

// NewUpdateRecordTool creates an update_record tool over the given store.
func NewUpdateRecordTool(store narrative.RecordStore) *UpdateRecordTool {
	return &UpdateRecordTool{store: store}
}

func (t *UpdateRecordTool) Name() string { return "update_record" }

func (t *UpdateRecordTool) Description() string {
	return "Update an existing narrative record. Only the provided fields change."
}

func (t *UpdateRecordTool) Category() agent.Category { return agent.CategoryWrite }

type updateRecordParams struct {
	ID         string         `json:"id" jsonschema_description:"Record id to update."`
	Name       string         `json:"name,omitempty" jsonschema_description:"New name."`
	Summary    string         `json:"summary,omitempty" jsonschema_description:"New summary."`
	Tags       []string       `json:"tags,omitempty" jsonschema_description:"Replacement tag list."`
	Properties map[string]any `json:"properties,omitempty" jsonschema_description:"Kind-specific fields to merge in."`
}

func (t *UpdateRecordTool) Schema() json.RawMessage {
	return schemaFor(&updateRecordParams{})
}

func (t *UpdateRecordTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input updateRecordParams
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	entity, err := t.store.Get(ctx, input.ID)
	if err != nil {
		return "", err
	}

	if input.Name != "" {
		entity.Name = input.Name
	}
	if input.Summary != "" {
		entity.Summary = input.Summary
	}
	if input.Tags != nil {
		entity.Tags = input.Tags
	}
	if len(input.Properties) > 0 {
		if entity.Properties == nil {
			entity.Properties = make(map[string]any, len(input.Properties))
		}
		for k, v := range input.Properties {
			entity.Properties[k] = v
		}
	}

	if err := t.store.Update(ctx, entity); err != nil {
		return "", err
	}
	return marshalResult(entity)
}

// DeleteRecordTool removes a record.
type DeleteRecordTool struct {
	store narrative.RecordStore
}

// NewDeleteRecordTool creates a delete_record tool over the given store.
func NewDeleteRecordTool(store narrative.RecordStore) *DeleteRecordTool {
	return &DeleteRecordTool{store: store}
}

func (t *DeleteRecordTool) Name() string { return "delete_record" }

func (t *DeleteRecordTool) Description() string {
	return "Delete a narrative record by id. This cannot be undone."
}

func (t *DeleteRecordTool) Category() agent.Category { return agent.CategoryWrite }

type deleteRecordParams struct {
	ID string `json:"id" jsonschema_description:"Record id to delete."`
}

func (t *DeleteRecordTool) Schema() json.RawMessage {
	return schemaFor(&deleteRecordParams{})
}

func (t *DeleteRecordTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input deleteRecordParams
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	if err := t.store.Delete(ctx, input.ID); err != nil {
		return "", err
	}
	return marshalResult(map[string]string{"deleted": input.ID})
}

func marshalResult(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(payload), nil
}
