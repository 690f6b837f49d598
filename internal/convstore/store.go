package convstore

import (
	"context"
	"errors"
	"time"

	"github.com/lorekeep/lorekeep/pkg/models"
)

var (
	// ErrNotFound is returned when a conversation id does not resolve.
	ErrNotFound = errors.New("conversation not found")

	// ErrMessageNotFound is returned when a message id does not resolve
	// within a conversation.
	ErrMessageNotFound = errors.New("message not found")
)

// ListOptions controls filtering and pagination for List.
type ListOptions struct {
	UserID string
	Mode   models.Mode
	Limit  int
	Offset int
}

// Store persists conversations and their message history.
//
// Get returns the conversation with its full message history. List returns
// conversation summaries without messages. Pending approvals live on the
// assistant message that raised them, so they survive wherever the
// conversation does.
type Store interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	Update(ctx context.Context, conv *models.Conversation) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, worldID string, opts ListOptions) ([]*models.Conversation, error)

	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error
	UpdateMessage(ctx context.Context, conversationID string, msg *models.Message) error
	History(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)

	// PruneBefore removes conversations not updated since the cutoff and
	// returns how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}
