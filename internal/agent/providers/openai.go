package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/pkg/models"
)

// OpenAIProvider implements agent.LLMProvider using the go-openai client
// with streaming chat completions and function calling.
type OpenAIProvider struct {
	client *openai.Client

	maxRetries int
	retryDelay time.Duration

	defaultModel string
}

// OpenAIConfig holds configuration for creating an OpenAIProvider.
// All fields except APIKey are optional.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL overrides the default API base URL. Useful for
	// OpenAI-compatible endpoints.
	BaseURL string

	// MaxRetries sets the maximum retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts.
	// Default: 1 second
	RetryDelay time.Duration

	// DefaultModel is used when a request does not specify one.
	// Default: "gpt-4o"
	DefaultModel string
}

// NewOpenAIProvider creates a provider instance, applying defaults for
// optional configuration. Returns an error if the API key is empty.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns the provider identifier used for routing and logging.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Models returns the OpenAI models this provider exposes.
func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{
			ID:          "gpt-4o",
			Name:        "GPT-4o",
			ContextSize: 128000,
		},
		{
			ID:          "gpt-4o-mini",
			Name:        "GPT-4o Mini",
			ContextSize: 128000,
		},
		{
			ID:          "gpt-4-turbo",
			Name:        "GPT-4 Turbo",
			ContextSize: 128000,
		},
	}
}

// SupportsTools reports whether the provider supports tool calling.
func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Complete sends a streaming chat completion request and returns a channel
// of response chunks. Transient errors during stream creation are retried
// with linear backoff.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	messages := p.convertMessages(req.Messages, req.System)

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}

	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		chatReq.TopP = req.TopP
	}
	if req.FrequencyPenalty != 0 {
		chatReq.FrequencyPenalty = req.FrequencyPenalty
	}
	if req.PresencePenalty != 0 {
		chatReq.PresencePenalty = req.PresencePenalty
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}

		if !IsRetryable(p.wrapError(lastErr, model)) {
			return nil, p.wrapError(lastErr, model)
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", p.wrapError(lastErr, model))
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)

	return chunks, nil
}

// processStream consumes the OpenAI stream and converts responses into
// CompletionChunks. Tool calls arrive incrementally across chunks (ID and
// name first, then argument fragments); they are accumulated by index and
// emitted once the finish reason signals completion.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)

	var inputTokens int
	var outputTokens int

	flushToolCalls := func() {
		for _, tc := range orderedToolCalls(toolCalls) {
			if len(tc.Input) == 0 {
				tc.Input = json.RawMessage("{}")
			}
			if !sendChunk(ctx, chunks, &agent.CompletionChunk{ToolCall: tc}) {
				return
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls()
				sendChunk(ctx, chunks, &agent.CompletionChunk{
					Done:         true,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
				})
				return
			}
			sendChunk(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model), Done: true})
			return
		}

		// Usage arrives on the final chunk when StreamOptions.IncludeUsage
		// is set, with an empty choice list.
		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}

		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta

		if delta.Content != "" {
			if !sendChunk(ctx, chunks, &agent.CompletionChunk{Text: delta.Content}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}

			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}

			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				var currentArgs string
				if toolCalls[index].Input != nil {
					currentArgs = string(toolCalls[index].Input)
				}
				currentArgs += tc.Function.Arguments
				toolCalls[index].Input = json.RawMessage(currentArgs)
			}
		}

		if response.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flushToolCalls()
		}
	}
}

// convertMessages converts internal messages to OpenAI chat format. The
// system prompt becomes the first message, and each tool result becomes a
// separate message with role "tool".
func (p *OpenAIProvider) convertMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		if msg.Role == "tool" || len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			if msg.Role == "tool" {
				continue
			}
		}

		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}

		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				}
			}
		}

		result = append(result, oaiMsg)
	}

	return result
}

// convertTools converts tool descriptors to OpenAI function definitions.
func (p *OpenAIProvider) convertTools(tools []agent.Descriptor) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		var params map[string]interface{}
		if err := json.Unmarshal(tool.Schema, &params); err != nil {
			params = map[string]interface{}{"type": "object"}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}

	return result
}

// wrapError converts client errors into ProviderError, extracting status
// and error code where the API provides them.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "openai",
			Model:    model,
			Cause:    err,
			Reason:   FailureUnknown,
			Message:  apiErr.Message,
		}
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		return providerErr
	}

	return NewProviderError("openai", model, err)
}
