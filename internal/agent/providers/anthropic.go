// Package providers contains LLM provider implementations for the agent engine.
//
// Each provider adapts a vendor SDK to the agent.LLMProvider interface:
// requests go in as agent.CompletionRequest, responses come back as a
// channel of agent.CompletionChunk. Providers handle their own retries
// for transient failures and wrap vendor errors in ProviderError so the
// engine can classify them uniformly.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/pkg/models"
)

// AnthropicProvider implements agent.LLMProvider using the official
// Anthropic SDK with streaming responses and tool use.
type AnthropicProvider struct {
	client anthropic.Client

	// maxRetries bounds retry attempts for transient failures
	// (rate limits, 5xx, timeouts).
	maxRetries int

	// retryDelay is the base delay between attempts. Actual delay
	// uses exponential backoff: retryDelay * 2^attempt.
	retryDelay time.Duration

	// defaultModel is used when CompletionRequest.Model is empty.
	defaultModel string
}

// AnthropicConfig holds configuration for creating an AnthropicProvider.
// All fields except APIKey are optional.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// MaxRetries sets the maximum retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts.
	// Default: 1 second
	RetryDelay time.Duration

	// DefaultModel is used when a request does not specify one.
	// Default: "claude-sonnet-4-20250514"
	DefaultModel string
}

// NewAnthropicProvider creates a provider instance, applying defaults for
// optional configuration. Returns an error if the API key is empty.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	client := anthropic.NewClient(options...)

	return &AnthropicProvider{
		client:       client,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns the provider identifier used for routing and logging.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Models returns the Claude models this provider exposes.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{
			ID:          "claude-sonnet-4-20250514",
			Name:        "Claude Sonnet 4",
			ContextSize: 200000,
		},
		{
			ID:          "claude-opus-4-20250514",
			Name:        "Claude Opus 4",
			ContextSize: 200000,
		},
		{
			ID:          "claude-3-5-sonnet-20241022",
			Name:        "Claude 3.5 Sonnet",
			ContextSize: 200000,
		},
		{
			ID:          "claude-3-haiku-20240307",
			Name:        "Claude 3 Haiku",
			ContextSize: 200000,
		},
	}
}

// SupportsTools reports whether the provider supports tool calling.
// All current Claude models do.
func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Complete sends a completion request to Claude and returns a streaming
// response channel. The method returns immediately; chunks arrive on the
// channel as tokens are generated, and the channel is closed when the
// stream completes or fails.
//
// Transient errors during stream creation are retried with exponential
// backoff. Errors during streaming are delivered via chunk.Error.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}

			wrappedErr := p.wrapError(err, p.getModel(req.Model))
			if !IsRetryable(wrappedErr) {
				sendChunk(ctx, chunks, &agent.CompletionChunk{Error: wrappedErr})
				return
			}

			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
					continue
				}
			}
		}

		if err != nil {
			sendChunk(ctx, chunks, &agent.CompletionChunk{Error: fmt.Errorf("anthropic: max retries exceeded: %w", p.wrapError(err, p.getModel(req.Model)))})
			return
		}

		p.processStream(ctx, stream, chunks, p.getModel(req.Model))
	}()

	return chunks, nil
}

// createStream converts the request to Anthropic's API format and opens
// the SSE stream.
func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}

	// System prompt lives outside the message list in Anthropic's API.
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(float64(req.TopP))
	}

	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	if req.EnableThinking {
		budgetTokens := int64(req.ThinkingBudgetTokens)
		if budgetTokens < 1024 {
			budgetTokens = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budgetTokens)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	return stream, nil
}

// maxEmptyStreamEvents is the maximum number of consecutive empty events
// before treating the stream as malformed. Protects against streams that
// flood with empty events.
const maxEmptyStreamEvents = 300

// processStream consumes the SSE stream and converts Anthropic events into
// CompletionChunks. Tool calls arrive across multiple events (block start
// with ID and name, then partial JSON deltas, then block stop); the input
// is accumulated and the chunk emitted once the block completes.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	defer stream.Close()

	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0

	var inputTokens int
	var outputTokens int

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlockStart := event.AsContentBlockStart()
			contentBlock := contentBlockStart.ContentBlock

			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				currentToolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			contentBlockDelta := event.AsContentBlockDelta()
			delta := contentBlockDelta.Delta

			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !sendChunk(ctx, chunks, &agent.CompletionChunk{Text: delta.Text}) {
						return
					}
					eventProcessed = true
				}

			case "thinking_delta":
				if delta.Thinking != "" {
					if !sendChunk(ctx, chunks, &agent.CompletionChunk{Thinking: delta.Thinking}) {
						return
					}
					eventProcessed = true
				}

			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				input := currentToolInput.String()
				if input == "" {
					input = "{}"
				}
				currentToolCall.Input = json.RawMessage(input)
				if !sendChunk(ctx, chunks, &agent.CompletionChunk{ToolCall: currentToolCall}) {
					return
				}
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			sendChunk(ctx, chunks, &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})
			return

		case "error":
			sendChunk(ctx, chunks, &agent.CompletionChunk{
				Error: p.wrapError(errors.New("anthropic stream error"), model),
			})
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				sendChunk(ctx, chunks, &agent.CompletionChunk{
					Error: p.wrapError(
						fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount),
						model,
					),
				})
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		sendChunk(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model)})
	}
}

// convertMessages converts internal messages to Anthropic's content-block
// format. System messages are skipped here; they are carried in
// params.System. The "tool" role maps to a user message holding tool
// result blocks.
func (p *AnthropicProvider) convertMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.ToolCallID,
				toolResult.Content,
				toolResult.IsError(),
			))
		}

		for _, toolCall := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(toolCall.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}

			content = append(content, anthropic.NewToolUseBlock(
				toolCall.ID,
				input,
				toolCall.Name,
			))
		}

		if len(content) == 0 {
			continue
		}

		var message anthropic.MessageParam
		if msg.Role == "assistant" {
			message = anthropic.NewAssistantMessage(content...)
		} else {
			message = anthropic.NewUserMessage(content...)
		}

		result = append(result, message)
	}

	return result, nil
}

// convertTools converts tool descriptors to Anthropic tool definitions.
func (p *AnthropicProvider) convertTools(tools []agent.Descriptor) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)

		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError converts SDK errors into ProviderError, extracting status,
// error code, and request ID where the API provides them.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   FailureUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		message := ""
		code := ""
		requestID := apiErr.RequestID

		raw := apiErr.RawJSON()
		if raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					message = payload.Error.Message
				}
				if payload.Error.Type != "" {
					code = payload.Error.Type
				}
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}

		if message != "" {
			providerErr = providerErr.WithMessage(message)
		} else if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		if code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}
