// Package council runs multi-agent deliberations and exposes their progress
// as a stream of change events.
package council

import (
	"time"

	"github.com/user/agentcouncil/internal/types"
)

// EventType names a council change.
type EventType string

const (
	EventStart     EventType = "council_start"
	EventSummoned  EventType = "agent_summoned"
	EventMessage   EventType = "agent_message"
	EventThinking  EventType = "agent_thinking"
	EventSynthesis EventType = "council_synthesis"
	EventStatus    EventType = "session_status"
)

// Event is one change to a council session. Which fields are set depends on
// Type:
//
//	council_start      Agent (lead), UserRequest
//	agent_summoned     Agent (new member), From (summoner), Reason, Message?
//	agent_message      Message
//	agent_thinking     Agent
//	council_synthesis  Synthesis
//	session_status     Status, Synthesis when concluded
type Event struct {
	Seq            uint64                 `json:"seq"`
	Type           EventType              `json:"type"`
	SessionID      types.CouncilSessionID `json:"session_id"`
	ConversationID types.ConversationID   `json:"conversation_id"`
	Agent          *types.CouncilAgent    `json:"agent,omitempty"`
	From           *types.CouncilAgent    `json:"from,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	UserRequest    string                 `json:"user_request,omitempty"`
	Message        *types.CouncilMessage  `json:"message,omitempty"`
	Status         types.CouncilStatus    `json:"status,omitempty"`
	Synthesis      string                 `json:"synthesis,omitempty"`
	At             time.Time              `json:"at"`
}

// AgentView converts an agent to its timeline representation.
func AgentView(a *types.Agent) *types.CouncilAgent {
	return &types.CouncilAgent{ID: a.ID, Name: a.Name, Avatar: a.Avatar}
}

// SummonText is the content of the message that admits a new member.
func SummonText(name, reason string) string {
	text := "I summon " + name + " to the council."
	if reason != "" {
		text += " " + reason
	}
	return text
}
