package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lorekeep/lorekeep/internal/convstore"
	"github.com/lorekeep/lorekeep/internal/observability"
	"github.com/lorekeep/lorekeep/pkg/models"
)

// EngineConfig bounds a generation run.
type EngineConfig struct {
	// MaxTurns limits provider round trips per generation run.
	MaxTurns int

	// Timeout bounds a generation run's wall-clock time. A run that
	// exceeds it fails with ErrGenerationTimeout.
	Timeout time.Duration

	// StreamBuffer is the event channel buffer size.
	StreamBuffer int

	// MaxTokens is passed to providers when the persona sets no limit.
	MaxTokens int

	// HistoryLimit caps how many stored messages are replayed to the provider.
	HistoryLimit int
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxTurns:     16,
		Timeout:      5 * time.Minute,
		StreamBuffer: 256,
		MaxTokens:    4096,
		HistoryLimit: 200,
	}
}

func sanitizeEngineConfig(config *EngineConfig) *EngineConfig {
	defaults := DefaultEngineConfig()
	if config == nil {
		return defaults
	}
	out := *config
	if out.MaxTurns <= 0 {
		out.MaxTurns = defaults.MaxTurns
	}
	if out.Timeout <= 0 {
		out.Timeout = defaults.Timeout
	}
	if out.StreamBuffer <= 0 {
		out.StreamBuffer = defaults.StreamBuffer
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaults.MaxTokens
	}
	if out.HistoryLimit <= 0 {
		out.HistoryLimit = defaults.HistoryLimit
	}
	return &out
}

// Stream is a handle to an in-flight generation run. Events carries the run's
// ordered event sequence and is closed after a terminal event is delivered.
type Stream struct {
	ConversationID string
	MessageID      string
	Events         <-chan models.StreamEvent
}

// Engine drives the generation loop: it streams model output, routes tool
// calls through the mode policy, and persists the resulting assistant message
// as it evolves. One Engine serves all conversations; per-conversation
// serialization is the Sessions layer's job.
type Engine struct {
	providers       map[string]LLMProvider
	defaultProvider string
	registry        *Registry
	store           convstore.Store
	personas        *PersonaStore
	prompts         *PromptBuilder
	logger          *observability.Logger
	metrics         *observability.Metrics
	config          *EngineConfig
}

// NewEngine creates a generation engine.
func NewEngine(registry *Registry, store convstore.Store, prompts *PromptBuilder, logger *observability.Logger, metrics *observability.Metrics, config *EngineConfig) *Engine {
	return &Engine{
		providers: map[string]LLMProvider{},
		registry:  registry,
		store:     store,
		prompts:   prompts,
		logger:    logger,
		metrics:   metrics,
		config:    sanitizeEngineConfig(config),
	}
}

// RegisterProvider adds an LLM provider. The first registered provider
// becomes the default until SetDefaultProvider overrides it.
func (e *Engine) RegisterProvider(p LLMProvider) {
	if p == nil {
		return
	}
	e.providers[p.Name()] = p
	if e.defaultProvider == "" {
		e.defaultProvider = p.Name()
	}
}

// SetDefaultProvider selects the provider used when a conversation names none.
func (e *Engine) SetDefaultProvider(name string) {
	e.defaultProvider = name
}

// SetPersonas attaches a persona store used for generation defaults.
func (e *Engine) SetPersonas(personas *PersonaStore) {
	e.personas = personas
}

func (e *Engine) providerFor(conv *models.Conversation) (LLMProvider, error) {
	name := conv.Provider
	if name == "" {
		name = e.defaultProvider
	}
	p, ok := e.providers[name]
	if !ok {
		return nil, ErrNoProvider
	}
	return p, nil
}

// Generate starts a generation run for a new user message. The user message
// and an assistant placeholder are persisted before the stream is returned,
// so the conversation record always reflects the in-flight run.
func (e *Engine) Generate(ctx context.Context, conv *models.Conversation, userInput string, cc models.ComposeContext) (*Stream, error) {
	if conv == nil {
		return nil, errors.New("conversation is nil")
	}
	if strings.TrimSpace(userInput) == "" {
		return nil, errors.New("input is required")
	}
	provider, err := e.providerFor(conv)
	if err != nil {
		return nil, err
	}

	userMsg := &models.Message{
		ID:      uuid.NewString(),
		Role:    models.RoleUser,
		Content: userInput,
	}
	if err := e.store.AppendMessage(ctx, conv.ID, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	e.maybeDeriveTitle(ctx, conv, userInput)

	assistant := &models.Message{
		ID:          uuid.NewString(),
		Role:        models.RoleAssistant,
		IsStreaming: true,
	}
	if err := e.store.AppendMessage(ctx, conv.ID, assistant); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	history, err := e.store.History(ctx, conv.ID, e.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	state := &runState{
		conv:      conv,
		provider:  provider,
		assistant: assistant,
		messages:  e.historyToCompletion(history, assistant.ID),
		system:    e.prompts.Build(ctx, conv, cc),
	}
	return e.start(ctx, state), nil
}

// Resume continues a generation run that paused for approval. The decision
// has already been applied to the stored assistant message by the approval
// gate; Resume replays the conversation and lets the model react to the
// executed or denied result.
func (e *Engine) Resume(ctx context.Context, conv *models.Conversation, assistant *models.Message, cc models.ComposeContext) (*Stream, error) {
	if conv == nil || assistant == nil {
		return nil, errors.New("conversation and message are required")
	}
	provider, err := e.providerFor(conv)
	if err != nil {
		return nil, err
	}

	assistant.IsStreaming = true
	if err := e.store.UpdateMessage(ctx, conv.ID, assistant); err != nil {
		return nil, fmt.Errorf("failed to update assistant message: %w", err)
	}

	history, err := e.store.History(ctx, conv.ID, e.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	state := &runState{
		conv:      conv,
		provider:  provider,
		assistant: assistant,
		messages:  e.historyToCompletion(history, assistant.ID),
		system:    e.prompts.Build(ctx, conv, cc),
		resumed:   true,
	}
	// Replay the paused turn so the model sees its own tool calls and the
	// approval outcome before continuing.
	state.messages = append(state.messages, CompletionMessage{
		Role:      "assistant",
		Content:   assistant.Content,
		ToolCalls: assistant.ToolCalls,
	})
	if len(assistant.ToolResults) > 0 {
		state.messages = append(state.messages, CompletionMessage{
			Role:        "tool",
			ToolResults: assistant.ToolResults,
		})
		// The approval decision's result is relayed as the first event of
		// the resumed stream so the consumer sees the outcome it triggered.
		state.replay = &assistant.ToolResults[len(assistant.ToolResults)-1]
	}
	return e.start(ctx, state), nil
}

type runState struct {
	conv      *models.Conversation
	provider  LLMProvider
	assistant *models.Message
	messages  []CompletionMessage
	system    string
	resumed   bool
	replay    *models.ToolResult

	// consumer is the request context. Event delivery keys off it rather
	// than the run context so a timed-out run can still deliver its
	// terminal error event to a connected consumer.
	consumer context.Context

	seq    uint64
	events chan models.StreamEvent
}

func (e *Engine) start(ctx context.Context, state *runState) *Stream {
	state.consumer = ctx
	state.events = make(chan models.StreamEvent, e.config.StreamBuffer)
	stream := &Stream{
		ConversationID: state.conv.ID,
		MessageID:      state.assistant.ID,
		Events:         state.events,
	}

	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)

	go func() {
		defer cancel()
		defer close(state.events)
		if e.metrics != nil {
			e.metrics.ActiveGenerations.Inc()
			defer e.metrics.ActiveGenerations.Dec()
		}
		start := time.Now()
		outcome := e.run(runCtx, state)
		if e.metrics != nil {
			e.metrics.RecordGeneration(string(state.conv.Mode), outcome, time.Since(start).Seconds())
		}
	}()
	return stream
}

// run executes the generation loop and returns the outcome label.
func (e *Engine) run(ctx context.Context, state *runState) string {
	ctx = observability.AddConversationID(ctx, state.conv.ID)

	if state.replay != nil {
		e.emit(ctx, state, models.StreamEvent{Type: models.EventToolResult, Result: state.replay})
		state.replay = nil
	}

	for turn := 0; turn < e.config.MaxTurns; turn++ {
		select {
		case <-ctx.Done():
			return e.fail(ctx, state, ctx.Err())
		default:
		}

		turnText, toolCalls, err := e.streamTurn(ctx, state)
		if err != nil {
			return e.fail(ctx, state, err)
		}

		if len(toolCalls) == 0 {
			return e.complete(ctx, state)
		}

		state.assistant.ToolCalls = append(state.assistant.ToolCalls, toolCalls...)
		var results []models.ToolResult
		for _, call := range toolCalls {
			e.emit(ctx, state, models.StreamEvent{Type: models.EventToolUse, ToolUse: &call})

			switch e.decide(state.conv.Mode, call.Name) {
			case decisionPause:
				return e.pause(ctx, state, call)
			case decisionPropose:
				result := proposalResult(call)
				results = append(results, result)
				e.recordResult(ctx, state, result, "proposed")
			default:
				result := e.registry.Execute(ctx, call)
				results = append(results, result)
				e.recordResult(ctx, state, result, "")
			}
		}

		state.messages = append(state.messages, CompletionMessage{
			Role:      "assistant",
			Content:   turnText,
			ToolCalls: toolCalls,
		})
		state.messages = append(state.messages, CompletionMessage{
			Role:        "tool",
			ToolResults: results,
		})

		if err := e.checkpoint(ctx, state); err != nil {
			return e.fail(ctx, state, err)
		}
	}

	return e.fail(ctx, state, fmt.Errorf("%w: %d", ErrMaxTurns, e.config.MaxTurns))
}

// streamTurn calls the provider once and relays chunks as events.
// It returns the text and tool calls the model produced this turn.
func (e *Engine) streamTurn(ctx context.Context, state *runState) (string, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:     state.conv.Model,
		System:    state.system,
		Messages:  state.messages,
		MaxTokens: e.config.MaxTokens,
	}
	if state.provider.SupportsTools() {
		req.Tools = e.registry.Describe()
	}
	e.applyPersonaDefaults(state.conv, req)

	started := time.Now()
	chunks, err := state.provider.Complete(ctx, req)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordLLMRequest(state.provider.Name(), req.Model, "error", time.Since(started).Seconds(), 0, 0)
		}
		return "", nil, err
	}

	var toolCalls []models.ToolCall
	var turnText strings.Builder
	for {
		var chunk *CompletionChunk
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				state.assistant.Content += turnText.String()
				return turnText.String(), toolCalls, nil
			}
			chunk = c
		}

		switch {
		case chunk.Error != nil:
			if e.metrics != nil {
				e.metrics.RecordLLMRequest(state.provider.Name(), req.Model, "error", time.Since(started).Seconds(), 0, 0)
			}
			return "", nil, chunk.Error
		case chunk.ToolCall != nil:
			toolCalls = append(toolCalls, *chunk.ToolCall)
		case chunk.Thinking != "":
			state.assistant.Thinking += chunk.Thinking
			e.emit(ctx, state, models.StreamEvent{
				Type:  models.EventThinking,
				Token: &models.TokenPayload{Text: chunk.Thinking},
			})
		case chunk.Text != "":
			turnText.WriteString(chunk.Text)
			e.emit(ctx, state, models.StreamEvent{
				Type:  models.EventToken,
				Token: &models.TokenPayload{Text: chunk.Text},
			})
		case chunk.Done:
			if e.metrics != nil {
				e.metrics.RecordLLMRequest(state.provider.Name(), req.Model, "success", time.Since(started).Seconds(), chunk.InputTokens, chunk.OutputTokens)
			}
		}
	}
}

type decision int

const (
	decisionExecute decision = iota
	decisionPropose
	decisionPause
)

// decide maps conversation mode and tool approval policy to an action. All
// mode semantics live here so they cannot drift between call sites.
func (e *Engine) decide(mode models.Mode, toolName string) decision {
	tool, ok := e.registry.Get(toolName)
	if !ok || !requiresApproval(tool) {
		return decisionExecute
	}
	switch mode {
	case models.ModePlan:
		return decisionPropose
	case models.ModeAuto:
		return decisionExecute
	default:
		return decisionPause
	}
}

func (e *Engine) pause(ctx context.Context, state *runState, call models.ToolCall) string {
	pending := &models.PendingAction{
		ID:          state.assistant.ID,
		Tool:        call.Name,
		Input:       call.Input,
		Description: describeCall(call),
		CreatedAt:   time.Now(),
	}
	state.assistant.Pending = pending
	state.assistant.IsStreaming = false
	if err := e.store.UpdateMessage(ctx, state.conv.ID, state.assistant); err != nil {
		return e.fail(ctx, state, err)
	}

	e.emit(ctx, state, models.StreamEvent{
		Type: models.EventApprovalNeeded,
		Approval: &models.ApprovalPayload{
			MessageID:   pending.ID,
			Tool:        pending.Tool,
			Input:       pending.Input,
			Description: pending.Description,
		},
	})
	e.logger.Info(ctx, "generation paused for approval",
		"message_id", state.assistant.ID,
		"tool", call.Name,
	)
	return "awaiting_approval"
}

func (e *Engine) complete(ctx context.Context, state *runState) string {
	state.assistant.IsStreaming = false
	if err := e.store.UpdateMessage(ctx, state.conv.ID, state.assistant); err != nil {
		return e.fail(ctx, state, err)
	}
	e.emit(ctx, state, models.StreamEvent{
		Type: models.EventComplete,
		Complete: &models.CompletePayload{
			MessageID: state.assistant.ID,
			Content:   state.assistant.Content,
		},
	})
	return "completed"
}

func (e *Engine) fail(ctx context.Context, state *runState, cause error) string {
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = fmt.Errorf("%w after %s", ErrGenerationTimeout, e.config.Timeout)
	}
	// The partial message is persisted even when the run context has expired.
	ctx = context.WithoutCancel(ctx)
	state.assistant.IsStreaming = false
	if err := e.store.UpdateMessage(ctx, state.conv.ID, state.assistant); err != nil {
		e.logger.Warn(ctx, "failed to persist assistant message after error", "error", err)
	}
	e.logger.Error(ctx, "generation failed", "message_id", state.assistant.ID, "error", cause)
	e.emit(ctx, state, models.StreamEvent{
		Type:  models.EventError,
		Error: &models.ErrorPayload{Message: cause.Error()},
	})
	return "failed"
}

func (e *Engine) checkpoint(ctx context.Context, state *runState) error {
	if err := e.store.UpdateMessage(ctx, state.conv.ID, state.assistant); err != nil {
		return fmt.Errorf("failed to checkpoint assistant message: %w", err)
	}
	return nil
}

func (e *Engine) recordResult(ctx context.Context, state *runState, result models.ToolResult, status string) {
	state.assistant.ToolResults = append(state.assistant.ToolResults, result)
	if status != "" && e.metrics != nil {
		e.metrics.RecordToolExecution(result.Name, status, 0)
	}
	e.emit(ctx, state, models.StreamEvent{Type: models.EventToolResult, Result: &result})
}

func (e *Engine) emit(ctx context.Context, state *runState, event models.StreamEvent) {
	state.seq++
	event.Sequence = state.seq
	event.ConversationID = state.conv.ID
	event.MessageID = state.assistant.ID
	event.Time = time.Now()
	select {
	case state.events <- event:
	case <-state.consumer.Done():
	}
}

func (e *Engine) applyPersonaDefaults(conv *models.Conversation, req *CompletionRequest) {
	if e.personas == nil || conv.PersonaID == "" {
		return
	}
	persona, ok := e.personas.Get(conv.PersonaID)
	if !ok {
		return
	}
	d := persona.Defaults
	if d.MaxTokens > 0 {
		req.MaxTokens = d.MaxTokens
	}
	req.Temperature = d.Temperature
	req.TopP = d.TopP
	req.FrequencyPenalty = d.FrequencyPenalty
	req.PresencePenalty = d.PresencePenalty
}

// historyToCompletion converts stored messages to provider messages,
// excluding the in-flight assistant message.
func (e *Engine) historyToCompletion(history []*models.Message, skipID string) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, msg := range history {
		if msg.ID == skipID {
			continue
		}
		cm := CompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == models.RoleAssistant {
			cm.ToolCalls = msg.ToolCalls
		}
		out = append(out, cm)
		if msg.Role == models.RoleAssistant && len(msg.ToolResults) > 0 {
			out = append(out, CompletionMessage{
				Role:        "tool",
				ToolResults: msg.ToolResults,
			})
		}
	}
	return out
}

// maybeDeriveTitle sets the conversation title from the first user message.
func (e *Engine) maybeDeriveTitle(ctx context.Context, conv *models.Conversation, input string) {
	if conv.Title != "" {
		return
	}
	title := strings.Join(strings.Fields(input), " ")
	if runes := []rune(title); len(runes) > 60 {
		title = string(runes[:60])
		if cut := strings.LastIndex(title, " "); cut >= 20 {
			title = title[:cut]
		}
		title += "…"
	}
	conv.Title = title
	if err := e.store.Update(ctx, conv); err != nil {
		e.logger.Warn(ctx, "failed to persist derived title", "error", err)
	}
}

// proposalResult synthesizes the result recorded for a write tool in plan
// mode. The change is not applied; the payload gives the author enough to
// apply it later.
func proposalResult(call models.ToolCall) models.ToolResult {
	payload, err := json.Marshal(map[string]any{
		"proposed": true,
		"tool":     call.Name,
		"input":    call.Input,
	})
	if err != nil {
		payload = []byte(`{"proposed":true}`)
	}
	return models.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    string(payload),
	}
}

func describeCall(call models.ToolCall) string {
	input := string(call.Input)
	if len(input) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(input[cut]) {
			cut--
		}
		input = input[:cut] + "…"
	}
	return fmt.Sprintf("%s %s", call.Name, input)
}
