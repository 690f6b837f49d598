package agent

import (
	"context"
	"fmt"

	"github.com/lorekeep/lorekeep/internal/convstore"
	"github.com/lorekeep/lorekeep/internal/observability"
	"github.com/lorekeep/lorekeep/pkg/models"
)

// Gate resolves pending approvals. The source of truth for pending state is
// the stored assistant message, so a decision can arrive long after the
// process that paused the run has restarted.
type Gate struct {
	store    convstore.Store
	registry *Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewGate creates an approval gate.
func NewGate(store convstore.Store, registry *Registry, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{store: store, registry: registry, logger: logger, metrics: metrics}
}

// FindPending returns the message holding the conversation's pending action,
// or ErrNoPendingAction. A conversation holds at most one pending action.
func (g *Gate) FindPending(conv *models.Conversation) (*models.Message, error) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Pending != nil {
			return conv.Messages[i], nil
		}
	}
	return nil, ErrNoPendingAction
}

// Resolve applies an approval decision to a conversation's pending action.
//
// The pending action is cleared before any execution result is recorded, so
// a duplicate decision finds nothing pending and fails with
// ErrNoPendingAction rather than executing the tool twice. On approval the
// tool runs exactly once and its result is recorded on the paused message;
// on denial a synthesized result carrying the denied marker is recorded
// instead. Either way the returned message is ready for the engine to
// resume from.
func (g *Gate) Resolve(ctx context.Context, conversationID, messageID string, approved bool) (*models.Conversation, *models.Message, error) {
	conv, err := g.store.Get(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	msg, err := g.FindPending(conv)
	if err != nil {
		return nil, nil, err
	}
	if msg.ID != messageID || msg.Pending.ID != messageID {
		return nil, nil, fmt.Errorf("%w: decision targets %s, pending is %s", ErrPendingMismatch, messageID, msg.Pending.ID)
	}

	pending := *msg.Pending
	msg.Pending = nil
	call := unresolvedCall(msg, pending)

	var result models.ToolResult
	if approved {
		result = g.registry.Execute(ctx, call)
	} else {
		result = models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Error:      models.DeniedMarker,
		}
	}
	msg.ToolResults = append(msg.ToolResults, result)

	if err := g.store.UpdateMessage(ctx, conv.ID, msg); err != nil {
		return nil, nil, fmt.Errorf("failed to record approval decision: %w", err)
	}

	if g.metrics != nil {
		g.metrics.RecordApproval(approved)
	}
	g.logger.Info(observability.AddConversationID(ctx, conv.ID), "approval resolved",
		"message_id", msg.ID,
		"tool", pending.Tool,
		"approved", approved,
	)
	return conv, msg, nil
}

// unresolvedCall recovers the original tool call behind a pending action so
// the recorded result correlates with the call the model made. Falls back to
// a call synthesized from the pending action if the message predates call
// tracking.
func unresolvedCall(msg *models.Message, pending models.PendingAction) models.ToolCall {
	resolved := make(map[string]bool, len(msg.ToolResults))
	for _, res := range msg.ToolResults {
		resolved[res.ToolCallID] = true
	}
	for _, call := range msg.ToolCalls {
		if call.Name == pending.Tool && !resolved[call.ID] {
			return call
		}
	}
	return models.ToolCall{ID: pending.ID, Name: pending.Tool, Input: pending.Input}
}

// ClearPending drops any pending action without recording a result. Used when
// a conversation is reset or deleted while awaiting approval.
func (g *Gate) ClearPending(ctx context.Context, conversationID string) error {
	conv, err := g.store.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	msg, err := g.FindPending(conv)
	if err == ErrNoPendingAction {
		return nil
	}
	if err != nil {
		return err
	}
	msg.Pending = nil
	return g.store.UpdateMessage(ctx, conversationID, msg)
}
