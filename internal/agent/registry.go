package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lorekeep/lorekeep/internal/observability"
	"github.com/lorekeep/lorekeep/pkg/models"
)

// Category classifies a tool by the kind of access it needs.
// Write tools mutate narrative records and are subject to the approval gate.
type Category string

const (
	CategoryRead     Category = "read"
	CategoryWrite    Category = "write"
	CategoryAnalyze  Category = "analyze"
	CategoryNavigate Category = "navigate"
	CategoryGraph    Category = "graph"
)

// Mutating reports whether tools in this category change narrative records.
func (c Category) Mutating() bool {
	return c == CategoryWrite
}

// Tool defines the interface for executable assistant tools.
//
// Implementing a Tool:
//
//	type WordCount struct{}
//
//	func (t *WordCount) Name() string        { return "word_count" }
//	func (t *WordCount) Description() string { return "Counts words in a passage" }
//	func (t *WordCount) Category() Category  { return CategoryAnalyze }
//
//	func (t *WordCount) Schema() json.RawMessage {
//	    return json.RawMessage(`{
//	        "type": "object",
//	        "properties": {
//	            "text": {"type": "string", "description": "Passage to count"}
//	        },
//	        "required": ["text"]
//	    }`)
//	}
//
//	func (t *WordCount) Execute(ctx context.Context, params json.RawMessage) (string, error) {
//	    var input struct{ Text string `json:"text"` }
//	    json.Unmarshal(params, &input)
//	    return strconv.Itoa(len(strings.Fields(input.Text))), nil
//	}
type Tool interface {
	// Name returns the tool name for LLM function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Category classifies the tool's access pattern.
	Category() Category

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	// The params match the schema returned by Schema().
	Execute(ctx context.Context, params json.RawMessage) (string, error)
}

// ApprovalOverride lets a tool replace the category-based approval default.
// A write tool may opt out of the gate (e.g. an append-only log), and a
// non-write tool may opt in.
type ApprovalOverride interface {
	RequiresApproval() bool
}

// requiresApproval reports whether executing the tool must pass the
// approval gate. Write tools do unless they override the default.
func requiresApproval(t Tool) bool {
	if o, ok := t.(ApprovalOverride); ok {
		return o.RequiresApproval()
	}
	return t.Category().Mutating()
}

// Descriptor is the provider-facing description of a registered tool.
type Descriptor struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Category         Category        `json:"category"`
	RequiresApproval bool            `json:"requiresApproval"`
	Schema           json.RawMessage `json:"schema"`
}

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (1MB).
	MaxToolParamsSize = 1 << 20
)

// Registry manages available tools with thread-safe registration and lookup.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	validators map[string]*Validator
	metrics    *observability.Metrics
}

// NewRegistry creates a new empty tool registry.
func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{
		tools:      make(map[string]Tool),
		validators: make(map[string]*Validator),
		metrics:    metrics,
	}
}

// Register adds a tool to the registry by its name.
// If a tool with the same name already exists, it is replaced.
// Tools with an invalid schema are registered without parameter validation.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	if v, err := NewValidator(tool.Schema()); err == nil {
		r.validators[tool.Name()] = v
	} else {
		delete(r.validators, tool.Name())
	}
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.validators, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Describe returns descriptors for all registered tools, sorted by name,
// for passing to LLM providers.
func (r *Registry) Describe() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{
			Name:             t.Name(),
			Description:      t.Description(),
			Category:         t.Category(),
			RequiresApproval: requiresApproval(t),
			Schema:           t.Schema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a tool by name with the given JSON parameters.
//
// Failures never surface as Go errors to the generation loop: invalid
// parameters, unknown tools, and execution failures are all captured in the
// returned result so the model can react to them.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	result := models.ToolResult{ToolCallID: call.ID, Name: call.Name}

	if len(call.Name) > MaxToolNameLength {
		result.Error = fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
		return result
	}
	if len(call.Input) > MaxToolParamsSize {
		result.Error = fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)
		return result
	}

	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	validator := r.validators[call.Name]
	r.mu.RUnlock()
	if !ok {
		result.Error = "tool not found: " + call.Name
		r.record(call.Name, "error", 0)
		return result
	}

	if validator != nil {
		if err := validator.Validate(call.Input); err != nil {
			result.Error = NewToolError(call.Name, err).WithType(ToolErrorInvalidInput).WithToolCallID(call.ID).Error()
			r.record(call.Name, "error", 0)
			return result
		}
	}

	start := time.Now()
	content, err := func() (content string, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("tool panicked: %v", rec)
			}
		}()
		return tool.Execute(ctx, call.Input)
	}()
	elapsed := time.Since(start).Seconds()

	if err != nil {
		result.Error = NewToolError(call.Name, err).WithToolCallID(call.ID).Error()
		r.record(call.Name, "error", elapsed)
		return result
	}
	result.Content = content
	r.record(call.Name, "success", elapsed)
	return result
}

func (r *Registry) record(name, status string, seconds float64) {
	if r.metrics != nil {
		r.metrics.RecordToolExecution(name, status, seconds)
	}
}
