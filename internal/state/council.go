// internal/state/council.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/user/agentcouncil/internal/types"
)

// CouncilStore persists council sessions, their participants and messages.
type CouncilStore struct {
	db *DB
}

func NewCouncilStore(db *DB) *CouncilStore {
	return &CouncilStore{db: db}
}

// councilRank mirrors the session lifecycle inside SQL.
const councilRank = `(CASE status WHEN 'active' THEN 1 WHEN 'deliberating' THEN 2 WHEN 'concluded' THEN 3 ELSE 0 END)`

func councilStatusRank(s types.CouncilStatus) int {
	switch s {
	case types.CouncilActive:
		return 1
	case types.CouncilDeliberating:
		return 2
	case types.CouncilConcluded:
		return 3
	}
	return 0
}

func (s *CouncilStore) CreateSession(ctx context.Context, sess *types.CouncilSession) error {
	if sess.ID == "" {
		sess.ID = types.NewCouncilSessionID()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.Status == "" {
		sess.Status = types.CouncilActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin council session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO council_sessions (id, conversation_id, lead_agent_id, status, user_request, final_synthesis, created_at, concluded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ConversationID, sess.LeadAgentID, sess.Status, sess.UserRequest,
		sess.FinalSynthesis, toNanos(sess.CreatedAt), nullNanos(sess.ConcludedAt)); err != nil {
		return fmt.Errorf("insert council session: %w", err)
	}

	agents := sess.ActiveAgentIDs
	if len(agents) == 0 && sess.LeadAgentID != "" {
		agents = []types.AgentID{sess.LeadAgentID}
		sess.ActiveAgentIDs = agents
	}
	for i, a := range agents {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO council_participants (session_id, agent_id, joined_at) VALUES (?, ?, ?)`,
			sess.ID, a, toNanos(sess.CreatedAt)+int64(i)); err != nil {
			return fmt.Errorf("insert council participant: %w", err)
		}
	}
	return tx.Commit()
}

func (s *CouncilStore) loadSession(ctx context.Context, row *sql.Row) (*types.CouncilSession, error) {
	var (
		sess      types.CouncilSession
		created   int64
		concluded sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.ConversationID, &sess.LeadAgentID, &sess.Status,
		&sess.UserRequest, &sess.FinalSynthesis, &created, &concluded); err != nil {
		return nil, err
	}
	sess.CreatedAt = fromNanos(created)
	sess.ConcludedAt = timePtr(concluded)

	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id FROM council_participants WHERE session_id = ? ORDER BY joined_at ASC, rowid ASC`, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("query council participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id types.AgentID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan council participant: %w", err)
		}
		sess.ActiveAgentIDs = append(sess.ActiveAgentIDs, id)
	}
	return &sess, rows.Err()
}

const sessionColumns = `id, conversation_id, lead_agent_id, status, user_request, final_synthesis, created_at, concluded_at`

func (s *CouncilStore) GetSession(ctx context.Context, id types.CouncilSessionID) (*types.CouncilSession, error) {
	sess, err := s.loadSession(ctx, s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM council_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound("council session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get council session: %w", err)
	}
	return sess, nil
}

func (s *CouncilStore) LatestSession(ctx context.Context, convID types.ConversationID) (*types.CouncilSession, error) {
	sess, err := s.loadSession(ctx, s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM council_sessions WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, convID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound("council session for conversation", convID)
	}
	if err != nil {
		return nil, fmt.Errorf("get latest council session: %w", err)
	}
	return sess, nil
}

// AddAgent admits an agent to a live session. Re-adding is a no-op.
func (s *CouncilStore) AddAgent(ctx context.Context, id types.CouncilSessionID, agentID types.AgentID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO council_participants (session_id, agent_id, joined_at)
		SELECT id, ?, ? FROM council_sessions WHERE id = ? AND status != 'concluded'`,
		agentID, toNanos(time.Now()), id)
	if err != nil {
		return fmt.Errorf("add council participant: %w", err)
	}
	return nil
}

// SetStatus moves a session forward. Concluding must go through Conclude.
func (s *CouncilStore) SetStatus(ctx context.Context, id types.CouncilSessionID, status types.CouncilStatus) error {
	if status == types.CouncilConcluded || councilStatusRank(status) == 0 {
		return types.Invalid("status", "cannot set council status to %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE council_sessions SET status = ? WHERE id = ? AND `+councilRank+` < ?`,
		status, id, councilStatusRank(status))
	if err != nil {
		return fmt.Errorf("update council status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *CouncilStore) Conclude(ctx context.Context, id types.CouncilSessionID, synthesis string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE council_sessions SET status = 'concluded', final_synthesis = ?, concluded_at = ?
		WHERE id = ? AND status != 'concluded'`,
		synthesis, toNanos(at), id)
	if err != nil {
		return false, fmt.Errorf("conclude council session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conclude council session: %w", err)
	}
	return n == 1, nil
}

func (s *CouncilStore) AppendMessage(ctx context.Context, msg *types.CouncilMessage) error {
	if msg.ID == "" {
		msg.ID = types.NewCouncilMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO council_messages (id, session_id, from_agent_id, from_agent_name, to_agent_id, to_agent_name, message_type, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.FromAgentID, msg.FromAgentName, msg.ToAgentID, msg.ToAgentName,
		msg.Type, msg.Content, toNanos(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert council message: %w", err)
	}
	return nil
}

// Messages returns a session's messages in arrival order.
func (s *CouncilStore) Messages(ctx context.Context, id types.CouncilSessionID) ([]*types.CouncilMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, from_agent_id, from_agent_name, to_agent_id, to_agent_name, message_type, content, created_at
		FROM council_messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query council messages: %w", err)
	}
	defer rows.Close()

	var out []*types.CouncilMessage
	for rows.Next() {
		var (
			m       types.CouncilMessage
			created int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.FromAgentID, &m.FromAgentName, &m.ToAgentID,
			&m.ToAgentName, &m.Type, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan council message: %w", err)
		}
		m.CreatedAt = fromNanos(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}
