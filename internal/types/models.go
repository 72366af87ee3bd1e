// internal/types/models.go
package types

import (
	"time"
)

// Agent is a persona backed by a model endpoint.
type Agent struct {
	ID           AgentID `json:"id" toml:"id"`
	Name         string  `json:"name" toml:"name"`
	Description  string  `json:"description,omitempty" toml:"description"`
	SystemPrompt string  `json:"system_prompt" toml:"system_prompt"`
	Model        string  `json:"model,omitempty" toml:"model"`
	Avatar       string  `json:"avatar,omitempty" toml:"avatar"`
}

type Conversation struct {
	ID        ConversationID  `json:"id"`
	AgentID   AgentID         `json:"agent_id"`
	Title     string          `json:"title"`
	Key       ConversationKey `json:"key,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageState marks whether a message is still being streamed.
type MessageState string

const (
	MessagePending MessageState = "pending"
	MessageFinal   MessageState = "final"
)

type Message struct {
	ID             MessageID      `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	AgentID        AgentID        `json:"agent_id,omitempty"`
	State          MessageState   `json:"state"`
	CreatedAt      time.Time      `json:"created_at"`
}

const MemoryShortTerm = "short_term"

type MemoryRecord struct {
	ID         MemoryID  `json:"id"`
	AgentID    AgentID   `json:"agent_id"`
	Content    string    `json:"content"`
	Type       string    `json:"memory_type"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Rank orders statuses along the only permitted direction of travel.
// Unknown statuses rank -1.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskPending:
		return 0
	case TaskInProgress:
		return 1
	case TaskCompleted:
		return 2
	}
	return -1
}

func (s TaskStatus) Valid() bool { return s.Rank() >= 0 }

type Task struct {
	ID           TaskID     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"`
	ParentTaskID TaskID     `json:"parent_task_id,omitempty"`
	AgentID      AgentID    `json:"agent_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Result       string     `json:"result,omitempty"`
}

func (t *Task) IsSubtask() bool { return t.ParentTaskID != "" }

type CouncilStatus string

const (
	CouncilIdle         CouncilStatus = "idle"
	CouncilActive       CouncilStatus = "active"
	CouncilDeliberating CouncilStatus = "deliberating"
	CouncilConcluded    CouncilStatus = "concluded"
)

type CouncilSession struct {
	ID             CouncilSessionID `json:"id"`
	ConversationID ConversationID   `json:"conversation_id"`
	LeadAgentID    AgentID          `json:"lead_agent_id"`
	Status         CouncilStatus    `json:"status"`
	UserRequest    string           `json:"user_request"`
	ActiveAgentIDs []AgentID        `json:"active_agent_ids"`
	FinalSynthesis string           `json:"final_synthesis,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ConcludedAt    *time.Time       `json:"concluded_at,omitempty"`
}

type CouncilMessageType string

const (
	MessageSummon    CouncilMessageType = "summon"
	MessageDelegate  CouncilMessageType = "delegate"
	MessageResponse  CouncilMessageType = "response"
	MessageInsight   CouncilMessageType = "insight"
	MessageDecision  CouncilMessageType = "decision"
	MessageSynthesis CouncilMessageType = "synthesis"
)

type CouncilMessage struct {
	ID            CouncilMessageID   `json:"id"`
	SessionID     CouncilSessionID   `json:"session_id"`
	FromAgentID   AgentID            `json:"from_agent_id"`
	FromAgentName string             `json:"from_agent_name"`
	ToAgentID     AgentID            `json:"to_agent_id,omitempty"`
	ToAgentName   string             `json:"to_agent_name,omitempty"`
	Type          CouncilMessageType `json:"message_type"`
	Content       string             `json:"content"`
	CreatedAt     time.Time          `json:"created_at"`
}

// CouncilAgent is a participant as seen by a timeline viewer.
type CouncilAgent struct {
	ID         AgentID `json:"id"`
	Name       string  `json:"name"`
	Avatar     string  `json:"avatar,omitempty"`
	IsActive   bool    `json:"is_active"`
	IsSpeaking bool    `json:"is_speaking"`
}

type StepAction struct {
	Type     string `json:"type"`
	ToolName string `json:"tool_name,omitempty"`
}

// ReasoningStep explains one round of a turn. Not persisted.
type ReasoningStep struct {
	Step       int        `json:"step"`
	Thought    string     `json:"thought"`
	Action     StepAction `json:"action"`
	Plan       []string   `json:"plan,omitempty"`
	Criticism  string     `json:"criticism,omitempty"`
	ToolResult string     `json:"tool_result,omitempty"`
}
