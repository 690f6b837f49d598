package providers

import (
	"encoding/json"
	"testing"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/pkg/models"
)

func sampleConversation() []agent.CompletionMessage {
	return []agent.CompletionMessage{
		{Role: "user", Content: "create a character named Rook"},
		{
			Role:    "assistant",
			Content: "Creating Rook.",
			ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "create_character", Input: json.RawMessage(`{"name":"Rook"}`)},
			},
		},
		{
			Role: "tool",
			ToolResults: []models.ToolResult{
				{ToolCallID: "call-1", Name: "create_character", Content: `{"id":"c1"}`},
			},
		},
		{Role: "user", Content: "now link him to the Undercity"},
	}
}

func sampleTools() []agent.Descriptor {
	return []agent.Descriptor{
		{
			Name:        "create_character",
			Description: "Create a character",
			Category:    agent.CategoryWrite,
			Schema:      json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`),
		},
	}
}

func TestAnthropicConvertMessages(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}

	converted, err := p.convertMessages(sampleConversation())
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	// user, assistant with tool call, tool-result user message, user.
	if len(converted) != 4 {
		t.Fatalf("converted %d messages, want 4", len(converted))
	}
	if converted[1].Role != "assistant" {
		t.Fatalf("message 1 role = %s", converted[1].Role)
	}
	// Tool results travel as user-role content blocks.
	if converted[2].Role != "user" {
		t.Fatalf("message 2 role = %s", converted[2].Role)
	}

	// Empty messages are dropped rather than sent as empty content.
	converted, err = p.convertMessages([]agent.CompletionMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: ""},
	})
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(converted) != 1 {
		t.Fatalf("empty message kept: %d messages", len(converted))
	}

	// A system message never reaches the message list.
	converted, err = p.convertMessages([]agent.CompletionMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(converted) != 1 {
		t.Fatalf("system message leaked: %d messages", len(converted))
	}
}

func TestAnthropicConvertMessagesRejectsBadToolInput(t *testing.T) {
	p, _ := NewAnthropicProvider(AnthropicConfig{APIKey: "test"})

	_, err := p.convertMessages([]agent.CompletionMessage{
		{
			Role: "assistant",
			ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "create_character", Input: json.RawMessage(`{broken`)},
			},
		},
	})
	if err == nil {
		t.Fatal("malformed tool input accepted")
	}
}

func TestAnthropicConvertTools(t *testing.T) {
	p, _ := NewAnthropicProvider(AnthropicConfig{APIKey: "test"})

	tools, err := p.convertTools(sampleTools())
	if err != nil {
		t.Fatalf("convertTools: %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("tools = %+v", tools)
	}
	if tools[0].OfTool.Name != "create_character" {
		t.Fatalf("tool name = %s", tools[0].OfTool.Name)
	}

	bad := []agent.Descriptor{{Name: "broken", Schema: json.RawMessage(`{`)}}
	if _, err := p.convertTools(bad); err == nil {
		t.Fatal("malformed schema accepted")
	}
}

func TestAnthropicDefaults(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Fatalf("name = %s", p.Name())
	}
	if !p.SupportsTools() {
		t.Fatal("tools unsupported")
	}
	if got := p.getModel(""); got == "" {
		t.Fatal("no default model")
	}
	if got := p.getModel("claude-3-5-haiku-latest"); got != "claude-3-5-haiku-latest" {
		t.Fatalf("explicit model = %s", got)
	}
	if got := p.getMaxTokens(0); got != 4096 {
		t.Fatalf("default max tokens = %d", got)
	}
	if got := p.getMaxTokens(1024); got != 1024 {
		t.Fatalf("explicit max tokens = %d", got)
	}
	if len(p.Models()) == 0 {
		t.Fatal("no models listed")
	}

	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("missing api key accepted")
	}
}

func TestOpenAIConvertMessages(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	converted := p.convertMessages(sampleConversation(), "be helpful")
	// system, user, assistant, tool result, user.
	if len(converted) != 5 {
		t.Fatalf("converted %d messages, want 5", len(converted))
	}
	if converted[0].Role != "system" || converted[0].Content != "be helpful" {
		t.Fatalf("system message = %+v", converted[0])
	}
	assistant := converted[2]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Name != "create_character" {
		t.Fatalf("assistant tool calls = %+v", assistant.ToolCalls)
	}
	if assistant.ToolCalls[0].Function.Arguments != `{"name":"Rook"}` {
		t.Fatalf("arguments = %s", assistant.ToolCalls[0].Function.Arguments)
	}
	toolMsg := converted[3]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call-1" {
		t.Fatalf("tool message = %+v", toolMsg)
	}

	// Without a system prompt the first message is the user's.
	converted = p.convertMessages([]agent.CompletionMessage{{Role: "user", Content: "hi"}}, "")
	if len(converted) != 1 || converted[0].Role != "user" {
		t.Fatalf("no-system conversion = %+v", converted)
	}
}

func TestOpenAIConvertTools(t *testing.T) {
	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "test"})

	tools := p.convertTools(sampleTools())
	if len(tools) != 1 {
		t.Fatalf("tools = %d", len(tools))
	}
	fn := tools[0].Function
	if fn.Name != "create_character" || fn.Description != "Create a character" {
		t.Fatalf("function = %+v", fn)
	}
	params, ok := fn.Parameters.(map[string]interface{})
	if !ok || params["type"] != "object" {
		t.Fatalf("parameters = %+v", fn.Parameters)
	}

	// A broken schema degrades to an empty object schema instead of failing.
	degraded := p.convertTools([]agent.Descriptor{{Name: "broken", Schema: json.RawMessage(`{`)}})
	params, _ = degraded[0].Function.Parameters.(map[string]interface{})
	if params["type"] != "object" {
		t.Fatalf("degraded parameters = %+v", degraded[0].Function.Parameters)
	}
}

func TestOpenAIDefaults(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("name = %s", p.Name())
	}
	if !p.SupportsTools() {
		t.Fatal("tools unsupported")
	}
	if len(p.Models()) == 0 {
		t.Fatal("no models listed")
	}

	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("missing api key accepted")
	}
}
