package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/lorekeep/lorekeep/internal/convstore"
	"github.com/lorekeep/lorekeep/internal/observability"
	"github.com/lorekeep/lorekeep/pkg/models"
)

// BeginRequest describes a compose request entering the session layer.
type BeginRequest struct {
	// ConversationID resumes an existing conversation when set; otherwise a
	// new one is created.
	ConversationID string

	WorldID   string
	UserID    string
	Mode      models.Mode
	PersonaID string
	Provider  string
	Model     string

	// Input is the author's message.
	Input string

	// Context names the records the author has open.
	Context models.ComposeContext
}

// Sessions serializes generation runs per conversation. At most one run may
// be in flight for a conversation; a second Begin or Resolve while one runs
// fails with ErrConversationBusy.
type Sessions struct {
	mu     sync.Mutex
	active map[string]struct{}

	engine      *Engine
	gate        *Gate
	store       convstore.Store
	logger      *observability.Logger
	defaultMode models.Mode
}

// NewSessions creates the session layer over an engine and approval gate.
// defaultMode is applied to new conversations whose request names no mode.
func NewSessions(engine *Engine, gate *Gate, store convstore.Store, logger *observability.Logger, defaultMode models.Mode) *Sessions {
	if defaultMode == "" {
		defaultMode = models.ModeAsk
	}
	return &Sessions{
		active:      map[string]struct{}{},
		engine:      engine,
		gate:        gate,
		store:       store,
		logger:      logger,
		defaultMode: defaultMode,
	}
}

// Busy reports whether a generation run is in flight for the conversation.
func (s *Sessions) Busy(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[conversationID]
	return ok
}

// Begin starts a generation run for a compose request. If the request names
// no conversation, one is created. A pending approval left on the
// conversation is discarded: the new message supersedes it.
func (s *Sessions) Begin(ctx context.Context, req BeginRequest) (*Stream, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, errors.New("input is required")
	}

	conv, err := s.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.acquire(conv.ID); err != nil {
		return nil, err
	}

	if err := s.gate.ClearPending(ctx, conv.ID); err != nil {
		s.release(conv.ID)
		return nil, err
	}

	stream, err := s.engine.Generate(ctx, conv, req.Input, req.Context)
	if err != nil {
		s.release(conv.ID)
		return nil, err
	}
	return s.track(ctx, conv.ID, stream), nil
}

// Resolve applies an approval decision and resumes the paused run.
func (s *Sessions) Resolve(ctx context.Context, conversationID, messageID string, approved bool, cc models.ComposeContext) (*Stream, error) {
	if err := s.acquire(conversationID); err != nil {
		return nil, err
	}

	conv, msg, err := s.gate.Resolve(ctx, conversationID, messageID, approved)
	if err != nil {
		s.release(conversationID)
		return nil, err
	}

	stream, err := s.engine.Resume(ctx, conv, msg, cc)
	if err != nil {
		s.release(conversationID)
		return nil, err
	}
	return s.track(ctx, conversationID, stream), nil
}

// Reset deletes a conversation's history. Fails while a run is in flight.
func (s *Sessions) Reset(ctx context.Context, conversationID string) error {
	if err := s.acquire(conversationID); err != nil {
		return err
	}
	defer s.release(conversationID)
	return s.store.Delete(ctx, conversationID)
}

func (s *Sessions) resolveConversation(ctx context.Context, req BeginRequest) (*models.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := s.store.Get(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		// A mode sent with the request switches the conversation's mode.
		if req.Mode != "" && req.Mode != conv.Mode {
			conv.Mode = req.Mode
			if err := s.store.Update(ctx, conv); err != nil {
				return nil, err
			}
		}
		return conv, nil
	}

	mode := req.Mode
	if mode == "" {
		mode = s.defaultMode
	}
	conv := &models.Conversation{
		WorldID:   req.WorldID,
		UserID:    req.UserID,
		Mode:      mode,
		PersonaID: req.PersonaID,
		Provider:  req.Provider,
		Model:     req.Model,
	}
	if err := s.store.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Sessions) acquire(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[conversationID]; ok {
		return ErrConversationBusy
	}
	s.active[conversationID] = struct{}{}
	return nil
}

func (s *Sessions) release(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, conversationID)
}

// track wraps a stream so the conversation's slot is released when the
// engine closes the event channel. The slot must come free even when the
// consumer stops reading: once ctx is done, remaining events are drained
// instead of forwarded so the engine can finish and release.
func (s *Sessions) track(ctx context.Context, conversationID string, inner *Stream) *Stream {
	out := make(chan models.StreamEvent, cap(inner.Events))
	go func() {
		defer s.release(conversationID)
		defer close(out)
		for event := range inner.Events {
			select {
			case out <- event:
			case <-ctx.Done():
				for range inner.Events {
				}
				return
			}
		}
	}()
	return &Stream{
		ConversationID: inner.ConversationID,
		MessageID:      inner.MessageID,
		Events:         out,
	}
}
