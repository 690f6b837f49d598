package convstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lorekeep/lorekeep/pkg/models"
)

// maxMessagesPerConversation limits messages stored per conversation to
// prevent unbounded memory growth. When exceeded, old messages are trimmed.
const maxMessagesPerConversation = 1000

// MemoryStore provides an in-memory Store implementation for testing and local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*models.Conversation{},
		messages:      map[string][]*models.Message{},
	}
}

func (m *MemoryStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneConversation(conv)
	clone.Messages = nil
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	// Reflect generated fields back to caller.
	conv.ID = clone.ID
	conv.CreatedAt = clone.CreatedAt
	conv.UpdatedAt = clone.UpdatedAt
	m.conversations[clone.ID] = clone
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneConversation(conv)
	out.Messages = make([]*models.Message, 0, len(m.messages[id]))
	for _, msg := range m.messages[id] {
		out.Messages = append(out.Messages, cloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}
	clone := cloneConversation(conv)
	clone.Messages = nil
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	m.conversations[clone.ID] = clone
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, worldID string, opts ListOptions) ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Conversation
	for _, conv := range m.conversations {
		if worldID != "" && conv.WorldID != worldID {
			continue
		}
		if opts.UserID != "" && conv.UserID != opts.UserID {
			continue
		}
		if opts.Mode != "" && conv.Mode != opts.Mode {
			continue
		}
		clone := cloneConversation(conv)
		clone.Messages = nil
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(out) {
		return []*models.Conversation{}, nil
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return out[start:end], nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	msg.ID = clone.ID
	msg.CreatedAt = clone.CreatedAt
	m.messages[conversationID] = append(m.messages[conversationID], clone)
	conv.UpdatedAt = time.Now()

	// Trim old messages if limit is exceeded to prevent unbounded memory growth
	if len(m.messages[conversationID]) > maxMessagesPerConversation {
		excess := len(m.messages[conversationID]) - maxMessagesPerConversation
		m.messages[conversationID] = m.messages[conversationID][excess:]
	}
	return nil
}

func (m *MemoryStore) UpdateMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	for i, existing := range m.messages[conversationID] {
		if existing.ID == msg.ID {
			clone := cloneMessage(msg)
			clone.CreatedAt = existing.CreatedAt
			m.messages[conversationID][i] = clone
			conv.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrMessageNotFound
}

func (m *MemoryStore) History(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	messages := m.messages[conversationID]
	if len(messages) == 0 {
		return []*models.Message{}, nil
	}
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]*models.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for id, conv := range m.conversations {
		if conv.UpdatedAt.Before(cutoff) {
			delete(m.conversations, id)
			delete(m.messages, id)
			pruned++
		}
	}
	return pruned, nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneConversation(conv *models.Conversation) *models.Conversation {
	if conv == nil {
		return nil
	}
	clone := *conv
	if len(conv.Messages) > 0 {
		clone.Messages = make([]*models.Message, 0, len(conv.Messages))
		for _, msg := range conv.Messages {
			clone.Messages = append(clone.Messages, cloneMessage(msg))
		}
	}
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall{}, msg.ToolCalls...)
	}
	if len(msg.ToolResults) > 0 {
		clone.ToolResults = append([]models.ToolResult{}, msg.ToolResults...)
	}
	if msg.Pending != nil {
		pending := *msg.Pending
		clone.Pending = &pending
	}
	return &clone
}
