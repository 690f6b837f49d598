package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/lorekeep/lorekeep/pkg/models"
)

type stubTool struct {
	name     string
	category Category
	schema   string
	execute  func(ctx context.Context, params json.RawMessage) (string, error)
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub" }
func (t *stubTool) Category() Category  { return t.category }

func (t *stubTool) Schema() json.RawMessage {
	if t.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(t.schema)
}

func (t *stubTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	if t.execute != nil {
		return t.execute(ctx, params)
	}
	return "ok", nil
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	result := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "nope", Input: json.RawMessage(`{}`)})
	if !result.IsError() {
		t.Fatal("expected error result")
	}
	if !strings.Contains(result.Error, "tool not found") {
		t.Fatalf("error = %q", result.Error)
	}
	if result.ToolCallID != "c1" || result.Name != "nope" {
		t.Fatalf("result identity = %+v", result)
	}
}

func TestRegistryValidatesParams(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{
		name: "greet",
		schema: `{
			"type": "object",
			"properties": {"name": {"type": "string"}},
			"required": ["name"]
		}`,
	})

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", `{"name":"Rook"}`, false},
		{"missing required", `{}`, true},
		{"wrong type", `{"name":42}`, true},
		{"not json", `{name}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "greet", Input: json.RawMessage(tt.input)})
			if result.IsError() != tt.wantErr {
				t.Fatalf("IsError() = %v, want %v (error %q)", result.IsError(), tt.wantErr, result.Error)
			}
		})
	}
}

func TestRegistryRecoversPanic(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{
		name: "boom",
		execute: func(ctx context.Context, params json.RawMessage) (string, error) {
			panic("exploded")
		},
	})

	result := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "boom", Input: json.RawMessage(`{}`)})
	if !result.IsError() {
		t.Fatal("panic did not surface as an error result")
	}
	if !strings.Contains(result.Error, "panicked") {
		t.Fatalf("error = %q", result.Error)
	}
}

func TestRegistryRejectsOversizedInput(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{name: "echo"})

	big := json.RawMessage(`{"blob":"` + strings.Repeat("x", MaxToolParamsSize) + `"}`)
	result := r.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "echo", Input: big})
	if !result.IsError() {
		t.Fatal("oversized input accepted")
	}
}

func TestRegistryDescribeSorted(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(&stubTool{name: name})
	}

	descs := r.Describe()
	if len(descs) != 3 {
		t.Fatalf("got %d descriptors", len(descs))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, d := range descs {
		if d.Name != want[i] {
			t.Fatalf("descriptor %d = %s, want %s", i, d.Name, want[i])
		}
	}
}

func TestRegistryReplaceAndUnregister(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{name: "dup", category: CategoryRead})
	r.Register(&stubTool{name: "dup", category: CategoryWrite})

	tool, ok := r.Get("dup")
	if !ok {
		t.Fatal("tool not found after re-register")
	}
	if tool.Category() != CategoryWrite {
		t.Fatalf("category = %s, want write", tool.Category())
	}

	r.Unregister("dup")
	if _, ok := r.Get("dup"); ok {
		t.Fatal("tool still present after Unregister")
	}
}

func TestCategoryMutating(t *testing.T) {
	if !CategoryWrite.Mutating() {
		t.Fatal("write category must be mutating")
	}
	for _, c := range []Category{CategoryRead, CategoryAnalyze, CategoryNavigate, CategoryGraph} {
		if c.Mutating() {
			t.Fatalf("category %s reported mutating", c)
		}
	}
}

func TestValidatorEmptyParamsDefaultToObject(t *testing.T) {
	v, err := NewValidator(json.RawMessage(`{"type":"object"}`))
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if err := v.Validate(nil); err != nil {
		t.Fatalf("Validate(nil): %v", err)
	}
}

// gatedStub is a stub tool with an explicit approval override.
type gatedStub struct {
	stubTool
	approve bool
}

func (t *gatedStub) RequiresApproval() bool { return t.approve }

func TestRegistryDescribeCarriesApprovalPolicy(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubTool{name: "read_thing", category: CategoryRead})
	r.Register(&stubTool{name: "write_thing", category: CategoryWrite})
	r.Register(&gatedStub{stubTool: stubTool{name: "exempt_write", category: CategoryWrite}, approve: false})
	r.Register(&gatedStub{stubTool: stubTool{name: "guarded_read", category: CategoryRead}, approve: true})

	want := map[string]bool{
		"read_thing":   false,
		"write_thing":  true,
		"exempt_write": false,
		"guarded_read": true,
	}
	for _, d := range r.Describe() {
		if d.RequiresApproval != want[d.Name] {
			t.Errorf("%s: requiresApproval = %v, want %v", d.Name, d.RequiresApproval, want[d.Name])
		}
	}
}
