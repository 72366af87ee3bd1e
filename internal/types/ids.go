// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type AgentID string
type ConversationID string
type ConversationKey string
type MessageID string
type MemoryID string
type TaskID string
type CouncilSessionID string
type CouncilMessageID string

func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

func NewTaskID() TaskID {
	return TaskID(uuid.New().String())
}

func NewCouncilSessionID() CouncilSessionID {
	return CouncilSessionID(uuid.New().String())
}

func NewCouncilMessageID() CouncilMessageID {
	return CouncilMessageID(uuid.New().String())
}

// NewConversationKey joins routing parts into an external conversation key,
// e.g. "telegram:42:42".
func NewConversationKey(parts ...string) ConversationKey {
	return ConversationKey(strings.Join(parts, ":"))
}

// AgentSlug derives a stable agent id from a display name.
func AgentSlug(name string) AgentID {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return AgentID(strings.TrimSuffix(b.String(), "-"))
}
