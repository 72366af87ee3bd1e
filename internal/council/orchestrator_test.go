package council

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentcouncil/internal/state"
	"github.com/user/agentcouncil/internal/types"
	"github.com/user/agentcouncil/pkg/llm"
)

type mockProvider struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    func(req llm.Request) (string, error)
}

func (m *mockProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	content, err := m.reply(req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: content}, nil
}

func (m *mockProvider) Stream(context.Context, llm.Request) (io.ReadCloser, error) {
	return nil, errors.New("not used")
}

type mapRoster map[string]*types.Agent

func (r mapRoster) Resolve(name string) (*types.Agent, bool) {
	a, ok := r[strings.ToLower(name)]
	return a, ok
}

var (
	lead       = &types.Agent{ID: "dehtyar", Name: "Dehtyar", SystemPrompt: "You lead.", Model: "lead-model"}
	researcher = &types.Agent{ID: "researcher", Name: "Researcher", SystemPrompt: "You research.", Model: "research-model"}
)

func newTestOrchestrator(t *testing.T, provider llm.Provider) (*Orchestrator, *state.CouncilStore, *Broker) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "council.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := state.NewCouncilStore(db)
	broker := NewBroker(64)
	roster := mapRoster{"researcher": researcher}
	return NewOrchestrator(store, provider, roster, broker), store, broker
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestConveneRunsToConclusion(t *testing.T) {
	provider := &mockProvider{reply: func(req llm.Request) (string, error) {
		switch req.Model {
		case "research-model":
			return "Flights are cheaper on Tuesdays.", nil
		case "lead-model":
			if strings.Contains(req.Messages[0].Content, "Combine") {
				return "Book on Tuesday.", nil
			}
			return "Consider the budget.", nil
		}
		return "", errors.New("unexpected model")
	}}
	orch, store, broker := newTestOrchestrator(t, provider)
	events, unsub := broker.Subscribe(Filter{ConversationID: "conv-1"})
	defer unsub()

	out, err := orch.Convene(context.Background(), ConveneRequest{
		ConversationID: "conv-1",
		Lead:           lead,
		UserRequest:    "Plan a trip",
		Summons: []Summon{
			{Agent: "Researcher", Reason: "Find prices."},
			{Agent: "researcher"},
			{Agent: "Budget Analyst"},
			{Agent: "Dehtyar"},
			{Agent: " "},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Book on Tuesday.", out.Synthesis)
	require.Len(t, out.Members, 2)
	assert.Equal(t, types.AgentID("researcher"), out.Members[0].ID)
	assert.Equal(t, types.AgentID("budget-analyst"), out.Members[1].ID)
	assert.Equal(t, "lead-model", out.Members[1].Model, "ad-hoc agents use the lead's model")

	sess, err := store.GetSession(context.Background(), out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CouncilConcluded, sess.Status)
	assert.Equal(t, "Book on Tuesday.", sess.FinalSynthesis)
	assert.NotNil(t, sess.ConcludedAt)
	assert.Equal(t, []types.AgentID{"dehtyar", "researcher", "budget-analyst"}, sess.ActiveAgentIDs)

	msgs, err := store.Messages(context.Background(), out.Session.ID)
	require.NoError(t, err)
	var kinds []types.CouncilMessageType
	for _, m := range msgs {
		kinds = append(kinds, m.Type)
	}
	assert.Equal(t, []types.CouncilMessageType{
		types.MessageSummon, types.MessageSummon,
		types.MessageInsight, types.MessageInsight,
		types.MessageSynthesis,
	}, kinds)
	assert.Equal(t, "I summon Researcher to the council. Find prices.", msgs[0].Content)

	// Replaying the feed into a timeline reproduces the persisted state.
	tl := NewTimeline(0)
	for _, ev := range drain(events) {
		tl.Apply(ev)
	}
	assert.Equal(t, types.CouncilConcluded, tl.Status())
	assert.Equal(t, "Book on Tuesday.", tl.Synthesis())
	assert.Len(t, tl.Agents(), 3)
	assert.Len(t, tl.Messages(), len(msgs))
	for i, m := range tl.Messages() {
		assert.Equal(t, msgs[i].ID, m.ID)
	}
}

func TestConveneSurfacesProviderError(t *testing.T) {
	boom := errors.New("gateway down")
	provider := &mockProvider{reply: func(llm.Request) (string, error) { return "", boom }}
	orch, store, broker := newTestOrchestrator(t, provider)
	events, unsubscribe := broker.Subscribe(Filter{ConversationID: "conv-1"})
	defer unsubscribe()

	out, err := orch.Convene(context.Background(), ConveneRequest{
		ConversationID: "conv-1",
		Lead:           lead,
		UserRequest:    "Plan a trip",
		Summons:        []Summon{{Agent: "Researcher"}},
	})
	require.ErrorIs(t, err, boom)
	require.NotNil(t, out)

	sess, err := store.GetSession(context.Background(), out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CouncilConcluded, sess.Status)
	assert.Equal(t, AbandonedPrefix+"council insight from researcher: gateway down", sess.FinalSynthesis)
	require.NotNil(t, sess.ConcludedAt)

	evs := drain(events)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, EventStatus, last.Type)
	assert.Equal(t, types.CouncilConcluded, last.Status)

	tl := NewTimeline(0)
	for _, ev := range evs {
		tl.Apply(ev)
	}
	assert.Equal(t, types.CouncilConcluded, tl.Status())
	assert.Contains(t, tl.Synthesis(), "gateway down")
}

func TestConveneAbandonsWhenSynthesisFails(t *testing.T) {
	provider := &mockProvider{reply: func(req llm.Request) (string, error) {
		if req.Model == "lead-model" {
			return "", errors.New("synthesis timed out")
		}
		return "an insight", nil
	}}
	orch, store, _ := newTestOrchestrator(t, provider)

	out, err := orch.Convene(context.Background(), ConveneRequest{
		ConversationID: "conv-2",
		Lead:           lead,
		UserRequest:    "Plan a trip",
		Summons:        []Summon{{Agent: "Researcher"}},
	})
	require.Error(t, err)
	assert.Empty(t, out.Synthesis)

	sess, err := store.GetSession(context.Background(), out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CouncilConcluded, sess.Status)
	assert.True(t, strings.HasPrefix(sess.FinalSynthesis, AbandonedPrefix))

	msgs, err := store.Messages(context.Background(), out.Session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.MessageInsight, msgs[1].Type)
}

func TestConveneValidation(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, &mockProvider{})

	_, err := orch.Convene(context.Background(), ConveneRequest{UserRequest: "x"})
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "lead", ve.Field)

	_, err = orch.Convene(context.Background(), ConveneRequest{Lead: lead})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "user_request", ve.Field)
}
