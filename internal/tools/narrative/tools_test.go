package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/narrative"
)

func seedEntity(t *testing.T, store narrative.RecordStore, e *narrative.Entity) *narrative.Entity {
	t.Helper()
	if err := store.Create(context.Background(), e); err != nil {
		t.Fatalf("seed %s %q: %v", e.Kind, e.Name, err)
	}
	return e
}

func TestCreateRecordTool(t *testing.T) {
	store := narrative.NewMemoryStore()
	tool := NewCreateRecordTool(store, narrative.KindCharacter)

	if tool.Name() != "create_character" {
		t.Fatalf("name = %s", tool.Name())
	}
	if tool.Category() != agent.CategoryWrite {
		t.Fatalf("category = %s", tool.Category())
	}

	out, err := tool.Execute(context.Background(), json.RawMessage(`{
		"world_id": "w1",
		"name": "Rook",
		"summary": "A smuggler.",
		"tags": ["protagonist"],
		"properties": {"age": 34}
	}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var created narrative.Entity
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if created.ID == "" || created.Kind != narrative.KindCharacter || created.Name != "Rook" {
		t.Fatalf("created = %+v", created)
	}

	stored, err := store.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Summary != "A smuggler." || len(stored.Tags) != 1 {
		t.Fatalf("stored = %+v", stored)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"world_id":"w1","name":"  "}`)); err == nil {
		t.Fatal("blank name accepted")
	}
}

func TestUpdateRecordToolMergesFields(t *testing.T) {
	store := narrative.NewMemoryStore()
	rook := seedEntity(t, store, &narrative.Entity{
		WorldID:    "w1",
		Kind:       narrative.KindCharacter,
		Name:       "Rook",
		Summary:    "A smuggler.",
		Properties: map[string]any{"age": 34, "home": "Undercity"},
	})

	tool := NewUpdateRecordTool(store)
	_, err := tool.Execute(context.Background(), json.RawMessage(`{
		"id": "`+rook.ID+`",
		"summary": "A retired smuggler.",
		"properties": {"age": 41}
	}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := store.Get(context.Background(), rook.ID)
	if got.Name != "Rook" {
		t.Fatalf("name changed: %q", got.Name)
	}
	if got.Summary != "A retired smuggler." {
		t.Fatalf("summary = %q", got.Summary)
	}
	if got.Properties["age"] != float64(41) && got.Properties["age"] != 41 {
		t.Fatalf("age = %v", got.Properties["age"])
	}
	if got.Properties["home"] != "Undercity" {
		t.Fatalf("unrelated property lost: %v", got.Properties["home"])
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"id":"missing"}`)); !errors.Is(err, narrative.ErrNotFound) {
		t.Fatalf("update missing = %v", err)
	}
}

func TestDeleteRecordTool(t *testing.T) {
	store := narrative.NewMemoryStore()
	rook := seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindCharacter, Name: "Rook"})

	tool := NewDeleteRecordTool(store)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"id":"`+rook.ID+`"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, rook.ID) {
		t.Fatalf("result = %s", out)
	}
	if _, err := store.Get(context.Background(), rook.ID); !errors.Is(err, narrative.ErrNotFound) {
		t.Fatal("record survived deletion")
	}
}

func TestListRecordsToolFiltersByKind(t *testing.T) {
	store := narrative.NewMemoryStore()
	seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindCharacter, Name: "Rook"})
	seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindLocation, Name: "Undercity"})
	seedEntity(t, store, &narrative.Entity{WorldID: "w2", Kind: narrative.KindCharacter, Name: "Elsewhere"})

	tool := NewListRecordsTool(store)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"world_id":"w1","kind":"character"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var items []struct {
		Kind string `json:"kind"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Rook" {
		t.Fatalf("items = %+v", items)
	}
}

func TestSearchRecordsTool(t *testing.T) {
	store := narrative.NewMemoryStore()
	seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindCharacter, Name: "Rook", Summary: "A smuggler in the Undercity."})
	seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindLocation, Name: "Harborwatch", Summary: "A lighthouse fort."})

	tool := NewSearchRecordsTool(store)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"world_id":"w1","query":"smuggler"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "Rook") {
		t.Fatalf("result = %s", out)
	}
	if strings.Contains(out, "Harborwatch") {
		t.Fatalf("unrelated record matched: %s", out)
	}
}

func TestLinkAndRelatedTools(t *testing.T) {
	store := narrative.NewMemoryStore()
	rook := seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindCharacter, Name: "Rook"})
	city := seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindLocation, Name: "Undercity"})

	link := NewLinkRecordsTool(store)
	if link.Category() != agent.CategoryWrite {
		t.Fatalf("link category = %s, want write", link.Category())
	}
	_, err := link.Execute(context.Background(), json.RawMessage(`{"from_id":"`+rook.ID+`","to_id":"`+city.ID+`","type":"lives_in"}`))
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := link.Execute(context.Background(), json.RawMessage(`{"from_id":"a","to_id":"b","type":""}`)); err == nil {
		t.Fatal("empty relationship type accepted")
	}

	related := NewRelatedRecordsTool(store)
	if related.Category() != agent.CategoryGraph {
		t.Fatalf("related category = %s, want graph", related.Category())
	}
	out, err := related.Execute(context.Background(), json.RawMessage(`{"id":"`+rook.ID+`"}`))
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	var rels []narrative.Relationship
	if err := json.Unmarshal([]byte(out), &rels); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rels) != 1 || rels[0].Type != "lives_in" {
		t.Fatalf("rels = %+v", rels)
	}
}

func TestOpenRecordTool(t *testing.T) {
	store := narrative.NewMemoryStore()
	rook := seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindCharacter, Name: "Rook"})

	tool := NewOpenRecordTool(store)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"id":"`+rook.ID+`"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var result struct {
		Open struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
			Name string `json:"name"`
		} `json:"open"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Open.ID != rook.ID || result.Open.Kind != "character" {
		t.Fatalf("result = %+v", result)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"id":"missing"}`)); !errors.Is(err, narrative.ErrNotFound) {
		t.Fatalf("open missing = %v", err)
	}
}

func TestAnalyzePassageTool(t *testing.T) {
	tool := NewAnalyzePassageTool()
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"text":"Rook ran. The dock was empty! Where now?"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var result struct {
		WordCount     int    `json:"word_count"`
		SentenceCount int    `json:"sentence_count"`
		ReadingMins   string `json:"reading_minutes"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.WordCount != 8 {
		t.Fatalf("word count = %d", result.WordCount)
	}
	if result.SentenceCount != 3 {
		t.Fatalf("sentence count = %d", result.SentenceCount)
	}
	if result.ReadingMins == "" {
		t.Fatal("reading minutes missing")
	}
}

func TestCheckConsistencyTool(t *testing.T) {
	store := narrative.NewMemoryStore()
	a := seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindCharacter, Name: "Rook", Summary: "A smuggler."})
	seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindCharacter, Name: "rook", Summary: "Duplicate."})
	seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindLocation, Name: "Undercity"})

	heist := seedEntity(t, store, &narrative.Entity{WorldID: "w1", Kind: narrative.KindEvent, Name: "Heist", Summary: "The job."})
	if err := store.Link(context.Background(), narrative.Relationship{FromID: a.ID, ToID: heist.ID, Type: "involved_in"}); err != nil {
		t.Fatalf("Link: %v", err)
	}

	tool := NewCheckConsistencyTool(store)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"world_id":"w1"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var result struct {
		RecordsChecked int      `json:"records_checked"`
		Findings       []string `json:"findings"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.RecordsChecked != 4 {
		t.Fatalf("records checked = %d", result.RecordsChecked)
	}

	var sawDuplicate, sawMissingSummary bool
	for _, finding := range result.Findings {
		if strings.Contains(finding, "duplicate") {
			sawDuplicate = true
		}
		if strings.Contains(finding, "no summary") {
			sawMissingSummary = true
		}
	}
	if !sawDuplicate {
		t.Fatalf("duplicate name not reported: %v", result.Findings)
	}
	if !sawMissingSummary {
		t.Fatalf("missing summary not reported: %v", result.Findings)
	}
}

func TestRegisterAll(t *testing.T) {
	registry := agent.NewRegistry(nil)
	RegisterAll(registry, narrative.NewMemoryStore())

	want := []string{
		"analyze_passage", "check_consistency",
		"create_beat", "create_character", "create_event", "create_location", "create_story",
		"delete_record", "get_record", "link_records", "list_records",
		"open_record", "related_records", "search_records", "update_record",
	}
	descs := registry.Describe()
	if len(descs) != len(want) {
		t.Fatalf("registered %d tools, want %d", len(descs), len(want))
	}
	for i, d := range descs {
		if d.Name != want[i] {
			t.Fatalf("tool %d = %s, want %s", i, d.Name, want[i])
		}
		if len(d.Schema) == 0 {
			t.Fatalf("tool %s has no schema", d.Name)
		}
	}

	// No world-creation tool is exposed.
	if _, ok := registry.Get("create_world"); ok {
		t.Fatal("create_world registered")
	}
}

func TestSchemaForDescribesFields(t *testing.T) {
	schema := schemaFor(&createRecordParams{})

	var decoded struct {
		Type       string          `json:"type"`
		Properties map[string]any  `json:"properties"`
		Required   []string        `json:"required"`
		SchemaURI  json.RawMessage `json:"$schema,omitempty"`
	}
	if err := json.Unmarshal(schema, &decoded); err != nil {
		t.Fatalf("schema not valid JSON: %v", err)
	}
	if decoded.Type != "object" {
		t.Fatalf("type = %q", decoded.Type)
	}
	if _, ok := decoded.Properties["world_id"]; !ok {
		t.Fatalf("world_id missing from properties: %v", decoded.Properties)
	}
	if _, ok := decoded.Properties["name"]; !ok {
		t.Fatal("name missing from properties")
	}
	foundName := false
	for _, req := range decoded.Required {
		if req == "name" {
			foundName = true
		}
	}
	if !foundName {
		t.Fatalf("name not required: %v", decoded.Required)
	}
	if len(decoded.SchemaURI) != 0 {
		t.Fatal("$schema version leaked into tool schema")
	}
}
