// internal/state/memory.go
package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/agentcouncil/internal/types"
)

// MemoryStore holds write-once memory records ranked by importance.
type MemoryStore struct {
	db *DB
}

func NewMemoryStore(db *DB) *MemoryStore {
	return &MemoryStore{db: db}
}

func (s *MemoryStore) Add(ctx context.Context, rec *types.MemoryRecord) error {
	if rec.ID == "" {
		rec.ID = types.NewMemoryID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Type == "" {
		rec.Type = types.MemoryShortTerm
	}
	if rec.Importance < 0 || rec.Importance > 1 {
		return types.Invalid("importance", "must be between 0 and 1, got %v", rec.Importance)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, agent_id, content, memory_type, importance, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AgentID, rec.Content, rec.Type, rec.Importance, toNanos(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Query returns an agent's memories by importance, newest first within a tie.
// Contains filters case-insensitively on content.
func (s *MemoryStore) Query(ctx context.Context, q types.MemoryQuery) ([]*types.MemoryRecord, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	query := `SELECT id, agent_id, content, memory_type, importance, created_at FROM memories WHERE agent_id = ?`
	args := []any{q.AgentID}
	if q.Contains != "" {
		query += ` AND content LIKE ? ESCAPE '\'`
		args = append(args, "%"+likeEscaper.Replace(q.Contains)+"%")
	}
	query += ` ORDER BY importance DESC, created_at DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*types.MemoryRecord
	for rows.Next() {
		var (
			r       types.MemoryRecord
			created int64
		)
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Content, &r.Type, &r.Importance, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		r.CreatedAt = fromNanos(created)
		out = append(out, &r)
	}
	return out, rows.Err()
}
