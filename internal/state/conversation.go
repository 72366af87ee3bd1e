// internal/state/conversation.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/user/agentcouncil/internal/types"
)

// ConversationStore keeps conversations and their append-only message log.
type ConversationStore struct {
	db *DB
}

func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

const conversationColumns = `id, agent_id, title, conv_key, created_at, updated_at`

func scanConversation(row scanner) (*types.Conversation, error) {
	var (
		c                types.Conversation
		key              sql.NullString
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.AgentID, &c.Title, &key, &created, &updated); err != nil {
		return nil, err
	}
	c.Key = types.ConversationKey(key.String)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	return &c, nil
}

func (s *ConversationStore) Create(ctx context.Context, conv *types.Conversation) error {
	if conv.ID == "" {
		conv.ID = types.NewConversationID()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.AgentID, conv.Title, nullString(string(conv.Key)),
		toNanos(conv.CreatedAt), toNanos(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *ConversationStore) Get(ctx context.Context, id types.ConversationID) (*types.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound("conversation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *ConversationStore) GetByKey(ctx context.Context, key types.ConversationKey) (*types.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE conv_key = ?`, key)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound("conversation", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation by key: %w", err)
	}
	return c, nil
}

// ReleaseKey detaches key from its conversation so the next lookup starts fresh.
// History is kept.
func (s *ConversationStore) ReleaseKey(ctx context.Context, key types.ConversationKey) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET conv_key = NULL WHERE conv_key = ?`, key); err != nil {
		return fmt.Errorf("release conversation key: %w", err)
	}
	return nil
}

// List returns conversations, most recently active first.
func (s *ConversationStore) List(ctx context.Context, limit int) ([]*types.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*types.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const messageColumns = `id, conversation_id, role, content, agent_id, state, created_at`

func scanMessage(row scanner) (*types.Message, error) {
	var (
		m       types.Message
		created int64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.AgentID, &m.State, &created); err != nil {
		return nil, err
	}
	m.CreatedAt = fromNanos(created)
	return &m, nil
}

// Append stores a message and bumps the conversation's activity time.
func (s *ConversationStore) Append(ctx context.Context, msg *types.Message) error {
	if msg.ID == "" {
		msg.ID = types.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.State == "" {
		msg.State = types.MessageFinal
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.AgentID, msg.State, toNanos(msg.CreatedAt)); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		toNanos(msg.CreatedAt), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NotFound("conversation", msg.ConversationID)
	}
	return tx.Commit()
}

func (s *ConversationStore) BeginAssistant(ctx context.Context, convID types.ConversationID, agentID types.AgentID) (*types.Message, error) {
	msg := &types.Message{
		ConversationID: convID,
		Role:           types.RoleAssistant,
		AgentID:        agentID,
		State:          types.MessagePending,
	}
	if err := s.Append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Finalize writes the full content of a pending message and closes it.
// A message that is already final is left untouched.
func (s *ConversationStore) Finalize(ctx context.Context, id types.MessageID, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, state = ? WHERE id = ? AND state = ?`,
		content, types.MessageFinal, id, types.MessagePending)
	if err != nil {
		return fmt.Errorf("finalize message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NotFound("pending message", id)
	}
	return nil
}

// Discard removes a message that never finished streaming.
func (s *ConversationStore) Discard(ctx context.Context, id types.MessageID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = ? AND state = ?`, id, types.MessagePending); err != nil {
		return fmt.Errorf("discard message: %w", err)
	}
	return nil
}

func (s *ConversationStore) Recent(ctx context.Context, convID types.ConversationID, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`, rowid AS seq FROM messages
			WHERE conversation_id = ? AND state = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC`,
		convID, types.MessageFinal, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ConversationStore) Count(ctx context.Context, convID types.ConversationID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND state = ?`, convID, types.MessageFinal).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
