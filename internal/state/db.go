// internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	conv_key TEXT UNIQUE,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	agent_id TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	content TEXT NOT NULL,
	memory_type TEXT NOT NULL,
	importance REAL NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id, importance DESC);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	parent_task_id TEXT REFERENCES tasks(id),
	agent_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER,
	result TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_tasks_agent_status ON tasks(agent_id, status, priority DESC);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);

CREATE TABLE IF NOT EXISTS council_sessions (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	lead_agent_id TEXT NOT NULL,
	status TEXT NOT NULL,
	user_request TEXT NOT NULL DEFAULT '',
	final_synthesis TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	concluded_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_council_sessions_conversation ON council_sessions(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS council_participants (
	session_id TEXT NOT NULL REFERENCES council_sessions(id),
	agent_id TEXT NOT NULL,
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, agent_id)
);

CREATE TABLE IF NOT EXISTS council_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES council_sessions(id),
	from_agent_id TEXT NOT NULL,
	from_agent_name TEXT NOT NULL,
	to_agent_id TEXT NOT NULL DEFAULT '',
	to_agent_name TEXT NOT NULL DEFAULT '',
	message_type TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_council_messages_session ON council_messages(session_id, created_at);
`

// DB is the shared SQLite handle behind every store in this package.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; conditional updates provide the atomicity.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB}
	if err := db.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
