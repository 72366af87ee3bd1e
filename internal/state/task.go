// internal/state/task.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/user/agentcouncil/internal/types"
)

// TaskStore persists the two-level task graph. Status changes are applied
// with conditional updates so concurrent writers cannot interleave a
// read-then-write.
type TaskStore struct {
	db *DB
}

func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, title, description, status, priority, parent_task_id, agent_id, created_at, updated_at, completed_at, result`

// statusRank mirrors types.TaskStatus.Rank inside SQL.
const statusRank = `(CASE status WHEN 'pending' THEN 0 WHEN 'in_progress' THEN 1 ELSE 2 END)`

func scanTask(row scanner) (*types.Task, error) {
	var (
		t                types.Task
		parent           sql.NullString
		created, updated int64
		completed        sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &parent,
		&t.AgentID, &created, &updated, &completed, &t.Result); err != nil {
		return nil, err
	}
	t.ParentTaskID = types.TaskID(parent.String)
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	t.CompletedAt = timePtr(completed)
	return &t, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTask(ctx context.Context, db execer, t *types.Task) error {
	if t.ID == "" {
		t.ID = types.NewTaskID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.Status, t.Priority, nullString(string(t.ParentTaskID)),
		t.AgentID, toNanos(t.CreatedAt), toNanos(t.UpdatedAt), nullNanos(t.CompletedAt), t.Result)
	if err != nil {
		return fmt.Errorf("insert task %q: %w", t.Title, err)
	}
	return nil
}

func (s *TaskStore) Insert(ctx context.Context, t *types.Task) error {
	return insertTask(ctx, s.db, t)
}

// InsertBatch inserts every task or none of them.
func (s *TaskStore) InsertBatch(ctx context.Context, tasks []*types.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tasks {
		if err := insertTask(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *TaskStore) Get(ctx context.Context, id types.TaskID) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) query(ctx context.Context, query string, args ...any) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// List orders by priority, highest first, then newest first.
func (s *TaskStore) List(ctx context.Context, f types.TaskFilter) ([]*types.Task, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE agent_id = ?`
	args := []any{f.AgentID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.ParentOnly {
		query += ` AND parent_task_id IS NULL`
	}
	query += ` ORDER BY priority DESC, created_at DESC, rowid DESC LIMIT ?`
	args = append(args, f.Limit)
	return s.query(ctx, query, args...)
}

// Children returns the direct subtasks of parent, lowest priority value first.
func (s *TaskStore) Children(ctx context.Context, parent types.TaskID) ([]*types.Task, error) {
	return s.query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE parent_task_id = ? ORDER BY priority ASC, created_at ASC, rowid ASC`,
		parent)
}

func (s *TaskStore) SetStatus(ctx context.Context, id types.TaskID, status types.TaskStatus, result *string, at time.Time) (bool, error) {
	var res sql.NullString
	if result != nil {
		res = sql.NullString{String: *result, Valid: true}
	}
	r, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?,
			result = COALESCE(?, result),
			updated_at = ?,
			completed_at = CASE WHEN ? = 'completed' THEN COALESCE(completed_at, ?) ELSE completed_at END
		WHERE id = ? AND `+statusRank+` <= ?`,
		status, res, toNanos(at), status, toNanos(at), id, status.Rank())
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	return n == 1, nil
}

func (s *TaskStore) RollUp(ctx context.Context, parent types.TaskID, at time.Time) (bool, error) {
	r, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', completed_at = COALESCE(completed_at, ?), updated_at = ?
		WHERE id = ? AND status != 'completed'
		AND EXISTS (SELECT 1 FROM tasks WHERE parent_task_id = ?)
		AND NOT EXISTS (SELECT 1 FROM tasks WHERE parent_task_id = ? AND status != 'completed')`,
		toNanos(at), toNanos(at), parent, parent, parent)
	if err != nil {
		return false, fmt.Errorf("roll up parent task: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("roll up parent task: %w", err)
	}
	return n == 1, nil
}

// ClaimNext returns nil, nil when nothing is pending.
func (s *TaskStore) ClaimNext(ctx context.Context, agentID types.AgentID, at time.Time) (*types.Task, error) {
	var id types.TaskID
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = 'in_progress', updated_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE agent_id = ? AND status = 'pending'
			ORDER BY priority DESC, created_at ASC, rowid ASC
			LIMIT 1
		) AND status = 'pending'
		RETURNING id`,
		toNanos(at), agentID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next task: %w", err)
	}
	return s.Get(ctx, id)
}
