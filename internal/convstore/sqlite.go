package convstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lorekeep/lorekeep/pkg/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements for performance
	stmtCreate        *sql.Stmt
	stmtGet           *sql.Stmt
	stmtUpdate        *sql.Stmt
	stmtDelete        *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtUpdateMessage *sql.Stmt
	stmtHistory       *sql.Stmt
}

// SQLiteConfig holds configuration for the SQLite connection.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLiteConfig returns default configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:            "lorekeep.db",
		MaxOpenConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// NewSQLiteStore opens or creates a SQLite-backed conversation store.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return store, nil
}

// DB exposes the underlying database connection for related stores.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			world_id   TEXT NOT NULL,
			user_id    TEXT NOT NULL DEFAULT '',
			title      TEXT NOT NULL DEFAULT '',
			mode       TEXT NOT NULL DEFAULT 'ask',
			persona_id TEXT NOT NULL DEFAULT '',
			provider   TEXT NOT NULL DEFAULT '',
			model      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_world ON conversations(world_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			thinking        TEXT NOT NULL DEFAULT '',
			tool_calls      TEXT,
			tool_results    TEXT,
			pending         TEXT,
			created_at      TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	`)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.stmtCreate, err = s.db.Prepare(`
		INSERT INTO conversations (id, world_id, user_id, title, mode, persona_id, provider, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare create conversation: %w", err)
	}

	s.stmtGet, err = s.db.Prepare(`
		SELECT id, world_id, user_id, title, mode, persona_id, provider, model, created_at, updated_at
		FROM conversations WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get conversation: %w", err)
	}

	s.stmtUpdate, err = s.db.Prepare(`
		UPDATE conversations SET title = ?, mode = ?, persona_id = ?, provider = ?, model = ?, updated_at = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update conversation: %w", err)
	}

	s.stmtDelete, err = s.db.Prepare(`
		DELETE FROM conversations WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete conversation: %w", err)
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, conversation_id, role, content, thinking, tool_calls, tool_results, pending, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append message: %w", err)
	}

	s.stmtUpdateMessage, err = s.db.Prepare(`
		UPDATE messages SET content = ?, thinking = ?, tool_calls = ?, tool_results = ?, pending = ?
		WHERE id = ? AND conversation_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update message: %w", err)
	}

	s.stmtHistory, err = s.db.Prepare(`
		SELECT id, role, content, thinking, tool_calls, tool_results, pending, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history: %w", err)
	}

	return nil
}

// Close closes the database connection and prepared statements.
func (s *SQLiteStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		s.stmtCreate, s.stmtGet, s.stmtUpdate, s.stmtDelete,
		s.stmtAppendMessage, s.stmtUpdateMessage, s.stmtHistory,
	} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return fmt.Errorf("conversation is required")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	conv.UpdatedAt = conv.CreatedAt

	_, err := s.stmtCreate.ExecContext(ctx,
		conv.ID,
		conv.WorldID,
		conv.UserID,
		conv.Title,
		string(conv.Mode),
		conv.PersonaID,
		conv.Provider,
		conv.Model,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := s.scanConversation(s.stmtGet.QueryRowContext(ctx, id))
	if err != nil {
		return nil, err
	}
	messages, err := s.History(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	conv.Messages = messages
	return conv, nil
}

func (s *SQLiteStore) Update(ctx context.Context, conv *models.Conversation) error {
	conv.UpdatedAt = time.Now()

	result, err := s.stmtUpdate.ExecContext(ctx,
		conv.Title,
		string(conv.Mode),
		conv.PersonaID,
		conv.Provider,
		conv.Model,
		conv.UpdatedAt,
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.stmtDelete.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	// ON DELETE CASCADE requires foreign_keys pragma; delete explicitly.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, worldID string, opts ListOptions) ([]*models.Conversation, error) {
	query := `
		SELECT id, world_id, user_id, title, mode, persona_id, provider, model, created_at, updated_at
		FROM conversations
		WHERE 1=1
	`
	args := []any{}
	if worldID != "" {
		query += " AND world_id = ?"
		args = append(args, worldID)
	}
	if opts.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, opts.UserID)
	}
	if opts.Mode != "" {
		query += " AND mode = ?"
		args = append(args, string(opts.Mode))
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		conv, err := s.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	toolCalls, toolResults, pending, err := marshalMessageBlobs(msg)
	if err != nil {
		return err
	}

	_, err = s.stmtAppendMessage.ExecContext(ctx,
		msg.ID,
		conversationID,
		string(msg.Role),
		msg.Content,
		msg.Thinking,
		toolCalls,
		toolResults,
		pending,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}

	toolCalls, toolResults, pending, err := marshalMessageBlobs(msg)
	if err != nil {
		return err
	}

	result, err := s.stmtUpdateMessage.ExecContext(ctx,
		msg.Content,
		msg.Thinking,
		toolCalls,
		toolResults,
		pending,
		msg.ID,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = maxMessagesPerConversation
	}
	rows, err := s.stmtHistory.QueryContext(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var role string
		var toolCalls, toolResults, pending sql.NullString
		if err := rows.Scan(
			&msg.ID, &role, &msg.Content, &msg.Thinking,
			&toolCalls, &toolResults, &pending, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if err := unmarshalMessageBlobs(msg, toolCalls, toolResults, pending); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first; callers want chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale conversations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanConversation(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var mode string
	err := row.Scan(
		&conv.ID,
		&conv.WorldID,
		&conv.UserID,
		&conv.Title,
		&mode,
		&conv.PersonaID,
		&conv.Provider,
		&conv.Model,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	conv.Mode = models.Mode(mode)
	return conv, nil
}

func marshalMessageBlobs(msg *models.Message) (toolCalls, toolResults, pending any, err error) {
	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal tool calls: %w", err)
		}
		toolCalls = string(b)
	}
	if len(msg.ToolResults) > 0 {
		b, err := json.Marshal(msg.ToolResults)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal tool results: %w", err)
		}
		toolResults = string(b)
	}
	if msg.Pending != nil {
		b, err := json.Marshal(msg.Pending)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal pending action: %w", err)
		}
		pending = string(b)
	}
	return toolCalls, toolResults, pending, nil
}

func unmarshalMessageBlobs(msg *models.Message, toolCalls, toolResults, pending sql.NullString) error {
	if toolCalls.Valid && toolCalls.String != "" {
		if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
			return fmt.Errorf("failed to unmarshal tool calls: %w", err)
		}
	}
	if toolResults.Valid && toolResults.String != "" {
		if err := json.Unmarshal([]byte(toolResults.String), &msg.ToolResults); err != nil {
			return fmt.Errorf("failed to unmarshal tool results: %w", err)
		}
	}
	if pending.Valid && pending.String != "" {
		if err := json.Unmarshal([]byte(pending.String), &msg.Pending); err != nil {
			return fmt.Errorf("failed to unmarshal pending action: %w", err)
		}
	}
	return nil
}
