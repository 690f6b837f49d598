package agent

import (
	"context"

	"github.com/lorekeep/lorekeep/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of communicating with different LLM
// APIs (Anthropic, OpenAI) while presenting a unified streaming interface
// to the generation engine.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() simultaneously for different requests.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which LLM model to use.
	// If empty, the provider's default model is used.
	Model string `json:"model"`

	// System is the system prompt that sets the assistant's behavior.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	// Must include at least one message.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines available tools the LLM can request to execute.
	Tools []Descriptor `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response.
	// If 0 or negative, the provider's default is used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. Zero means provider default.
	Temperature float32 `json:"temperature,omitempty"`

	// TopP is the nucleus sampling threshold. Zero means provider default.
	TopP float32 `json:"top_p,omitempty"`

	// FrequencyPenalty discourages token repetition (OpenAI-style providers).
	FrequencyPenalty float32 `json:"frequency_penalty,omitempty"`

	// PresencePenalty encourages topic diversity (OpenAI-style providers).
	PresencePenalty float32 `json:"presence_penalty,omitempty"`

	// EnableThinking enables extended thinking mode for supported models.
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// ThinkingBudgetTokens sets the token budget for extended thinking.
	// Only used when EnableThinking is true.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
//
// Role values: "user", "assistant", "tool"
type CompletionMessage struct {
	// Role indicates who sent the message: "user", "assistant", or "tool"
	Role string `json:"role"`

	// Content is the text content of the message
	Content string `json:"content,omitempty"`

	// ToolCalls contains any tool execution requests from the assistant
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains responses from executed tools
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
//
// Chunks are delivered through channels as the LLM generates its response.
// Each chunk may contain partial text, a complete tool call, a done signal,
// or an error.
type CompletionChunk struct {
	// Text contains partial response text (streamed incrementally)
	Text string `json:"text,omitempty"`

	// Thinking contains reasoning text when extended thinking is enabled.
	Thinking string `json:"thinking,omitempty"`

	// ToolCall contains a complete tool execution request
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream has completed successfully
	Done bool `json:"done,omitempty"`

	// Error contains any error that occurred (streaming is terminated)
	Error error `json:"-"`

	// InputTokens contains the number of input tokens consumed by this request.
	// Only populated in the final chunk.
	InputTokens int `json:"input_tokens,omitempty"`

	// OutputTokens contains the number of output tokens generated.
	// Only populated in the final chunk.
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	// ID is the API identifier for the model
	ID string `json:"id"`

	// Name is the human-readable model name
	Name string `json:"name"`

	// ContextSize is the maximum token context window
	ContextSize int `json:"context_size"`
}
