package council

import (
	"log/slog"
	"time"

	"github.com/user/agentcouncil/internal/types"
)

// DefaultSpeakingWindow is how long an agent stays flagged as speaking after
// its last message or thinking signal.
const DefaultSpeakingWindow = 2 * time.Second

// Timeline is the viewer-side council state machine:
// idle → active → deliberating → concluded. Once concluded, only a
// council_start for a different session moves it again.
//
// A Timeline is not safe for concurrent use.
type Timeline struct {
	sessionID types.CouncilSessionID
	status    types.CouncilStatus
	request   string
	agents    []types.CouncilAgent
	index     map[types.AgentID]int
	messages  []types.CouncilMessage
	synthesis string

	speaker types.AgentID
	spokeAt time.Time
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewTimeline returns an idle timeline. A non-positive window uses
// DefaultSpeakingWindow.
func NewTimeline(window time.Duration) *Timeline {
	if window <= 0 {
		window = DefaultSpeakingWindow
	}
	return &Timeline{
		status: types.CouncilIdle,
		index:  make(map[types.AgentID]int),
		window: window,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Apply folds one event into the timeline and reports whether it changed.
func (t *Timeline) Apply(ev Event) bool {
	if ev.Type == EventStart {
		if t.status == types.CouncilConcluded && ev.SessionID == t.sessionID {
			return false
		}
		t.start(ev)
		return true
	}
	if t.status == types.CouncilIdle || t.status == types.CouncilConcluded {
		return false
	}
	if ev.SessionID != t.sessionID {
		return false
	}

	switch ev.Type {
	case EventSummoned:
		if ev.Agent == nil {
			return false
		}
		t.admit(*ev.Agent)
		msg := ev.Message
		if msg == nil {
			msg = &types.CouncilMessage{
				SessionID:   t.sessionID,
				ToAgentID:   ev.Agent.ID,
				ToAgentName: ev.Agent.Name,
				Type:        types.MessageSummon,
				Content:     SummonText(ev.Agent.Name, ev.Reason),
				CreatedAt:   ev.At,
			}
			if ev.From != nil {
				msg.FromAgentID = ev.From.ID
				msg.FromAgentName = ev.From.Name
			}
		}
		t.messages = append(t.messages, *msg)
		return true

	case EventMessage:
		if ev.Message == nil {
			return false
		}
		msg := *ev.Message
		if msg.Type == types.MessageSummon {
			// Summons are the only way in, and are accepted from any sender.
			if msg.ToAgentID != "" {
				t.admit(types.CouncilAgent{ID: msg.ToAgentID, Name: msg.ToAgentName})
			}
		} else if unknown, ok := t.unknownParty(msg); !ok {
			t.logger.Warn("dropping council message referencing unknown agent",
				"session_id", string(t.sessionID),
				"agent_id", string(unknown),
				"type", string(msg.Type),
			)
			return false
		}
		t.messages = append(t.messages, msg)
		t.speak(msg.FromAgentID, ev.At)
		return true

	case EventThinking:
		if ev.Agent == nil {
			return false
		}
		if _, ok := t.index[ev.Agent.ID]; !ok {
			return false
		}
		t.speak(ev.Agent.ID, ev.At)
		return true

	case EventSynthesis:
		t.synthesis = ev.Synthesis
		return true

	case EventStatus:
		switch ev.Status {
		case types.CouncilDeliberating:
			if t.status == types.CouncilDeliberating {
				return false
			}
			t.status = types.CouncilDeliberating
			return true
		case types.CouncilConcluded:
			t.status = types.CouncilConcluded
			if ev.Synthesis != "" {
				t.synthesis = ev.Synthesis
			}
			t.speaker = ""
			return true
		}
	}
	return false
}

func (t *Timeline) start(ev Event) {
	t.sessionID = ev.SessionID
	t.status = types.CouncilActive
	t.request = ev.UserRequest
	t.agents = nil
	t.index = make(map[types.AgentID]int)
	t.messages = nil
	t.synthesis = ""
	t.speaker = ""
	t.spokeAt = time.Time{}
	if ev.Agent != nil {
		t.admit(*ev.Agent)
	}
}

// unknownParty returns the first sender or addressee of msg that is not on
// the roster. An empty addressee means the message is addressed to no one.
func (t *Timeline) unknownParty(msg types.CouncilMessage) (types.AgentID, bool) {
	if _, ok := t.index[msg.FromAgentID]; !ok {
		return msg.FromAgentID, false
	}
	if msg.ToAgentID != "" {
		if _, ok := t.index[msg.ToAgentID]; !ok {
			return msg.ToAgentID, false
		}
	}
	return "", true
}

func (t *Timeline) admit(a types.CouncilAgent) {
	if _, ok := t.index[a.ID]; ok {
		return
	}
	a.IsActive = true
	a.IsSpeaking = false
	t.index[a.ID] = len(t.agents)
	t.agents = append(t.agents, a)
}

// speak marks id as the current speaker. A later event always preempts.
func (t *Timeline) speak(id types.AgentID, at time.Time) {
	if at.IsZero() {
		at = t.now()
	}
	t.speaker = id
	t.spokeAt = at
}

// SessionID returns the session the timeline is tracking.
func (t *Timeline) SessionID() types.CouncilSessionID { return t.sessionID }

// Status returns the current state.
func (t *Timeline) Status() types.CouncilStatus { return t.status }

// UserRequest returns the request that opened the session.
func (t *Timeline) UserRequest() string { return t.request }

// Synthesis returns the recorded synthesis, if any.
func (t *Timeline) Synthesis() string { return t.synthesis }

// Speaker returns the agent currently speaking, evaluated against the clock.
func (t *Timeline) Speaker() (types.AgentID, bool) {
	if t.speaker == "" || t.now().Sub(t.spokeAt) >= t.window {
		return "", false
	}
	return t.speaker, true
}

// Agents returns the roster in admission order with IsSpeaking computed now.
func (t *Timeline) Agents() []types.CouncilAgent {
	speaker, speaking := t.Speaker()
	out := make([]types.CouncilAgent, len(t.agents))
	for i, a := range t.agents {
		a.IsSpeaking = speaking && a.ID == speaker
		out[i] = a
	}
	return out
}

// Messages returns the message timeline in arrival order.
func (t *Timeline) Messages() []types.CouncilMessage {
	out := make([]types.CouncilMessage, len(t.messages))
	copy(out, t.messages)
	return out
}
