// internal/types/interfaces.go
package types

import (
	"context"
	"time"
)

type ConversationStore interface {
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, id ConversationID) (*Conversation, error)
	GetByKey(ctx context.Context, key ConversationKey) (*Conversation, error)
	ReleaseKey(ctx context.Context, key ConversationKey) error
	List(ctx context.Context, limit int) ([]*Conversation, error)

	Append(ctx context.Context, msg *Message) error
	// BeginAssistant inserts an empty pending assistant message.
	BeginAssistant(ctx context.Context, convID ConversationID, agentID AgentID) (*Message, error)
	Finalize(ctx context.Context, id MessageID, content string) error
	Discard(ctx context.Context, id MessageID) error
	// Recent returns up to limit final messages, oldest first.
	Recent(ctx context.Context, convID ConversationID, limit int) ([]*Message, error)
	Count(ctx context.Context, convID ConversationID) (int64, error)
}

type MemoryQuery struct {
	AgentID  AgentID
	Contains string
	Limit    int
}

type MemoryStore interface {
	Add(ctx context.Context, rec *MemoryRecord) error
	Query(ctx context.Context, q MemoryQuery) ([]*MemoryRecord, error)
}

type TaskFilter struct {
	AgentID    AgentID
	Status     TaskStatus
	ParentOnly bool
	Limit      int
}

type TaskStore interface {
	Insert(ctx context.Context, task *Task) error
	InsertBatch(ctx context.Context, tasks []*Task) error
	Get(ctx context.Context, id TaskID) (*Task, error)
	List(ctx context.Context, f TaskFilter) ([]*Task, error)
	Children(ctx context.Context, parent TaskID) ([]*Task, error)
	// SetStatus applies a forward-only status change. ok is false when the
	// row is missing or the change would move it backwards.
	SetStatus(ctx context.Context, id TaskID, status TaskStatus, result *string, at time.Time) (ok bool, err error)
	// RollUp completes parent when none of its children remain open. It
	// reports whether this call performed the transition.
	RollUp(ctx context.Context, parent TaskID, at time.Time) (bool, error)
	// ClaimNext atomically moves the best pending task to in_progress.
	ClaimNext(ctx context.Context, agentID AgentID, at time.Time) (*Task, error)
}

type CouncilStore interface {
	CreateSession(ctx context.Context, s *CouncilSession) error
	GetSession(ctx context.Context, id CouncilSessionID) (*CouncilSession, error)
	LatestSession(ctx context.Context, convID ConversationID) (*CouncilSession, error)
	AddAgent(ctx context.Context, id CouncilSessionID, agentID AgentID) error
	SetStatus(ctx context.Context, id CouncilSessionID, status CouncilStatus) error
	// Conclude is terminal and fires once; it reports whether this call concluded the session.
	Conclude(ctx context.Context, id CouncilSessionID, synthesis string, at time.Time) (bool, error)
	AppendMessage(ctx context.Context, msg *CouncilMessage) error
	Messages(ctx context.Context, id CouncilSessionID) ([]*CouncilMessage, error)
}
