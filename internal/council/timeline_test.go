package council

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentcouncil/internal/types"
)

var (
	agentA = &types.CouncilAgent{ID: "a", Name: "Alpha"}
	agentB = &types.CouncilAgent{ID: "b", Name: "Beta"}
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestTimeline() (*Timeline, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	tl := NewTimeline(2 * time.Second)
	tl.now = clock.now
	return tl, clock
}

func msgEvent(sid types.CouncilSessionID, from *types.CouncilAgent, typ types.CouncilMessageType, content string, at time.Time) Event {
	return Event{
		Type:      EventMessage,
		SessionID: sid,
		At:        at,
		Message: &types.CouncilMessage{
			SessionID:     sid,
			FromAgentID:   from.ID,
			FromAgentName: from.Name,
			Type:          typ,
			Content:       content,
		},
	}
}

func TestTimelineFullSession(t *testing.T) {
	tl, clock := newTestTimeline()
	const sid = types.CouncilSessionID("s1")

	assert.Equal(t, types.CouncilIdle, tl.Status())
	require.True(t, tl.Apply(Event{Type: EventStart, SessionID: sid, Agent: agentA, UserRequest: "plan"}))
	require.True(t, tl.Apply(Event{Type: EventSummoned, SessionID: sid, Agent: agentB, From: agentA, Reason: "needs research"}))
	require.True(t, tl.Apply(msgEvent(sid, agentB, types.MessageInsight, "insight", clock.t)))
	require.True(t, tl.Apply(msgEvent(sid, agentA, types.MessageSynthesis, "combined", clock.t)))
	require.True(t, tl.Apply(Event{Type: EventStatus, SessionID: sid, Status: types.CouncilConcluded, Synthesis: "X"}))

	agents := tl.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, types.AgentID("a"), agents[0].ID)
	assert.Equal(t, types.AgentID("b"), agents[1].ID)

	msgs := tl.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, types.MessageSummon, msgs[0].Type)
	assert.Equal(t, "I summon Beta to the council. needs research", msgs[0].Content)
	assert.Equal(t, types.AgentID("a"), msgs[0].FromAgentID)
	assert.Equal(t, types.AgentID("b"), msgs[0].ToAgentID)
	assert.Equal(t, types.MessageInsight, msgs[1].Type)
	assert.Equal(t, types.MessageSynthesis, msgs[2].Type)

	assert.Equal(t, types.CouncilConcluded, tl.Status())
	assert.Equal(t, "X", tl.Synthesis())

	// Everything after conclusion is ignored.
	agentC := &types.CouncilAgent{ID: "c", Name: "Gamma"}
	assert.False(t, tl.Apply(Event{Type: EventSummoned, SessionID: sid, Agent: agentC, From: agentA}))
	assert.False(t, tl.Apply(msgEvent(sid, agentA, types.MessageInsight, "late", clock.t)))
	assert.False(t, tl.Apply(Event{Type: EventSynthesis, SessionID: sid, Synthesis: "Y"}))
	assert.False(t, tl.Apply(Event{Type: EventStatus, SessionID: sid, Status: types.CouncilDeliberating}))
	assert.False(t, tl.Apply(Event{Type: EventStart, SessionID: sid, Agent: agentA}))
	assert.Len(t, tl.Agents(), 2)
	assert.Len(t, tl.Messages(), 3)
	assert.Equal(t, "X", tl.Synthesis())
	assert.Equal(t, types.CouncilConcluded, tl.Status())
}

func TestTimelineNewSessionAfterConclusion(t *testing.T) {
	tl, _ := newTestTimeline()
	tl.Apply(Event{Type: EventStart, SessionID: "s1", Agent: agentA})
	tl.Apply(Event{Type: EventSummoned, SessionID: "s1", Agent: agentB, From: agentA})
	tl.Apply(Event{Type: EventStatus, SessionID: "s1", Status: types.CouncilConcluded, Synthesis: "done"})

	require.True(t, tl.Apply(Event{Type: EventStart, SessionID: "s2", Agent: agentB}))
	assert.Equal(t, types.CouncilActive, tl.Status())
	assert.Equal(t, types.CouncilSessionID("s2"), tl.SessionID())
	require.Len(t, tl.Agents(), 1)
	assert.Equal(t, types.AgentID("b"), tl.Agents()[0].ID)
	assert.Empty(t, tl.Messages())
	assert.Empty(t, tl.Synthesis())
}

func TestTimelineSummonIsIdempotent(t *testing.T) {
	tl, _ := newTestTimeline()
	tl.Apply(Event{Type: EventStart, SessionID: "s1", Agent: agentA})
	tl.Apply(Event{Type: EventSummoned, SessionID: "s1", Agent: agentB, From: agentA})
	tl.Apply(Event{Type: EventSummoned, SessionID: "s1", Agent: agentB, From: agentA})

	assert.Len(t, tl.Agents(), 2)
	assert.Len(t, tl.Messages(), 2)
}

func TestTimelineSummonMessageAdmitsUnknownTarget(t *testing.T) {
	tl, clock := newTestTimeline()
	tl.Apply(Event{Type: EventStart, SessionID: "s1", Agent: agentA})

	ev := msgEvent("s1", agentA, types.MessageSummon, "I summon Zeta to the council.", clock.t)
	ev.Message.ToAgentID = "z"
	ev.Message.ToAgentName = "Zeta"
	require.True(t, tl.Apply(ev))

	agents := tl.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, types.AgentID("z"), agents[1].ID)
	assert.True(t, agents[1].IsActive)
	assert.Len(t, tl.Messages(), 1)
}

func TestTimelineDropsMessageFromUnknownAgent(t *testing.T) {
	tl, clock := newTestTimeline()
	tl.Apply(Event{Type: EventStart, SessionID: "s1", Agent: agentA})

	stranger := &types.CouncilAgent{ID: "x", Name: "Stranger"}
	assert.False(t, tl.Apply(msgEvent("s1", stranger, types.MessageInsight, "hello", clock.t)))
	assert.Empty(t, tl.Messages())
	assert.Len(t, tl.Agents(), 1)

	assert.False(t, tl.Apply(Event{Type: EventThinking, SessionID: "s1", Agent: stranger}))
	_, speaking := tl.Speaker()
	assert.False(t, speaking)
}

func TestTimelineDropsMessageToUnknownAgent(t *testing.T) {
	tl, clock := newTestTimeline()
	tl.Apply(Event{Type: EventStart, SessionID: "s1", Agent: agentA})

	for _, typ := range []types.CouncilMessageType{types.MessageDelegate, types.MessageResponse, types.MessageInsight} {
		ev := msgEvent("s1", agentA, typ, "over to you", clock.t)
		ev.Message.ToAgentID = "ghost"
		assert.False(t, tl.Apply(ev), "type %s", typ)
	}
	assert.Empty(t, tl.Messages())
	assert.Len(t, tl.Agents(), 1)
	_, speaking := tl.Speaker()
	assert.False(t, speaking)

	tl.Apply(Event{Type: EventSummoned, SessionID: "s1", Agent: agentB, From: agentA})
	ev := msgEvent("s1", agentA, types.MessageDelegate, "over to you", clock.t)
	ev.Message.ToAgentID = agentB.ID
	assert.True(t, tl.Apply(ev))
	assert.Len(t, tl.Messages(), 2)
}

func TestTimelineIgnoresEventsBeforeStartAndForOtherSessions(t *testing.T) {
	tl, clock := newTestTimeline()
	assert.False(t, tl.Apply(msgEvent("s1", agentA, types.MessageInsight, "early", clock.t)))
	assert.Equal(t, types.CouncilIdle, tl.Status())

	tl.Apply(Event{Type: EventStart, SessionID: "s1", Agent: agentA})
	assert.False(t, tl.Apply(msgEvent("other", agentA, types.MessageInsight, "wrong session", clock.t)))
	assert.Empty(t, tl.Messages())
}

func TestTimelineSpeakingWindow(t *testing.T) {
	tl, clock := newTestTimeline()
	tl.Apply(Event{Type: EventStart, SessionID: "s1", Agent: agentA})
	tl.Apply(Event{Type: EventSummoned, SessionID: "s1", Agent: agentB, From: agentA})

	tl.Apply(Event{Type: EventThinking, SessionID: "s1", Agent: agentB, At: clock.t})
	id, ok := tl.Speaker()
	require.True(t, ok)
	assert.Equal(t, types.AgentID("b"), id)
	assert.True(t, tl.Agents()[1].IsSpeaking)
	assert.False(t, tl.Agents()[0].IsSpeaking)

	// A later message preempts the earlier window.
	clock.t = clock.t.Add(time.Second)
	tl.Apply(msgEvent("s1", agentA, types.MessageDecision, "decided", clock.t))
	id, ok = tl.Speaker()
	require.True(t, ok)
	assert.Equal(t, types.AgentID("a"), id)
	assert.False(t, tl.Agents()[1].IsSpeaking)

	clock.t = clock.t.Add(1999 * time.Millisecond)
	_, ok = tl.Speaker()
	assert.True(t, ok)

	clock.t = clock.t.Add(time.Millisecond)
	_, ok = tl.Speaker()
	assert.False(t, ok)
	for _, a := range tl.Agents() {
		assert.False(t, a.IsSpeaking)
	}
}

func TestTimelineSynthesisDoesNotConclude(t *testing.T) {
	tl, _ := newTestTimeline()
	tl.Apply(Event{Type: EventStart, SessionID: "s1", Agent: agentA})
	require.True(t, tl.Apply(Event{Type: EventStatus, SessionID: "s1", Status: types.CouncilDeliberating}))
	assert.False(t, tl.Apply(Event{Type: EventStatus, SessionID: "s1", Status: types.CouncilDeliberating}))

	require.True(t, tl.Apply(Event{Type: EventSynthesis, SessionID: "s1", Synthesis: "draft"}))
	assert.Equal(t, types.CouncilDeliberating, tl.Status())
	assert.Equal(t, "draft", tl.Synthesis())
}
