package council

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/agentcouncil/internal/types"
	"github.com/user/agentcouncil/pkg/llm"
)

// Roster resolves the agents a lead may summon.
type Roster interface {
	Resolve(name string) (*types.Agent, bool)
}

// Summon is one requested council member.
type Summon struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason,omitempty"`
}

// ConveneRequest opens a council on behalf of a lead agent.
type ConveneRequest struct {
	ConversationID types.ConversationID
	Lead           *types.Agent
	UserRequest    string
	Summons        []Summon
}

// Outcome is the durable result of a concluded council.
type Outcome struct {
	Session   *types.CouncilSession
	Members   []*types.Agent
	Messages  []*types.CouncilMessage
	Synthesis string
}

// Orchestrator runs a council to conclusion, persisting every step and
// publishing it to the broker.
type Orchestrator struct {
	store    types.CouncilStore
	provider llm.Provider
	roster   Roster
	broker   *Broker
	now      func() time.Time
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(store types.CouncilStore, provider llm.Provider, roster Roster, broker *Broker) *Orchestrator {
	return &Orchestrator{
		store:    store,
		provider: provider,
		roster:   roster,
		broker:   broker,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Broker returns the feed the orchestrator publishes to.
func (o *Orchestrator) Broker() *Broker { return o.broker }

// Convene opens a session, admits the summoned agents, collects one insight
// from each and has the lead synthesize them. The session is concluded
// exactly once. On error the session is concluded with a note naming the
// failure, so abandoned sessions never look live.
func (o *Orchestrator) Convene(ctx context.Context, req ConveneRequest) (out *Outcome, err error) {
	if req.Lead == nil {
		return nil, types.Invalid("lead", "lead agent is required")
	}
	if strings.TrimSpace(req.UserRequest) == "" {
		return nil, types.Invalid("user_request", "request is required")
	}

	sess := &types.CouncilSession{
		ID:             types.NewCouncilSessionID(),
		ConversationID: req.ConversationID,
		LeadAgentID:    req.Lead.ID,
		Status:         types.CouncilActive,
		UserRequest:    req.UserRequest,
		ActiveAgentIDs: []types.AgentID{req.Lead.ID},
		CreatedAt:      o.now(),
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create council session: %w", err)
	}
	logger := slog.With("session_id", string(sess.ID), "conversation_id", string(req.ConversationID))
	logger.Info("council convened", "lead", string(req.Lead.ID), "summons", len(req.Summons))

	defer func() {
		if err != nil {
			o.abandon(ctx, sess, err, logger)
		}
	}()

	out = &Outcome{Session: sess}
	lead := AgentView(req.Lead)
	o.publish(sess, Event{Type: EventStart, Agent: lead, UserRequest: req.UserRequest})

	for _, s := range req.Summons {
		agent := o.resolve(s.Agent, req.Lead)
		if agent == nil || agent.ID == req.Lead.ID || containsAgent(out.Members, agent.ID) {
			continue
		}
		if err := o.store.AddAgent(ctx, sess.ID, agent.ID); err != nil {
			return out, err
		}
		msg := &types.CouncilMessage{
			SessionID:     sess.ID,
			FromAgentID:   req.Lead.ID,
			FromAgentName: req.Lead.Name,
			ToAgentID:     agent.ID,
			ToAgentName:   agent.Name,
			Type:          types.MessageSummon,
			Content:       SummonText(agent.Name, s.Reason),
			CreatedAt:     o.now(),
		}
		if err := o.store.AppendMessage(ctx, msg); err != nil {
			return out, err
		}
		out.Members = append(out.Members, agent)
		out.Messages = append(out.Messages, msg)
		sess.ActiveAgentIDs = append(sess.ActiveAgentIDs, agent.ID)
		o.publish(sess, Event{Type: EventSummoned, Agent: AgentView(agent), From: lead, Reason: s.Reason, Message: msg})
	}

	if err := o.store.SetStatus(ctx, sess.ID, types.CouncilDeliberating); err != nil {
		return out, err
	}
	sess.Status = types.CouncilDeliberating
	o.publish(sess, Event{Type: EventStatus, Status: types.CouncilDeliberating})

	for _, member := range out.Members {
		o.publish(sess, Event{Type: EventThinking, Agent: AgentView(member)})
		resp, err := o.provider.Complete(ctx, llm.Request{
			Model:    member.Model,
			Messages: memberPrompt(member, req.Lead, req.UserRequest, out.Messages),
		})
		if err != nil {
			return out, fmt.Errorf("council insight from %s: %w", member.ID, err)
		}
		msg := &types.CouncilMessage{
			SessionID:     sess.ID,
			FromAgentID:   member.ID,
			FromAgentName: member.Name,
			ToAgentID:     req.Lead.ID,
			ToAgentName:   req.Lead.Name,
			Type:          types.MessageInsight,
			Content:       strings.TrimSpace(resp.Content),
			CreatedAt:     o.now(),
		}
		if err := o.store.AppendMessage(ctx, msg); err != nil {
			return out, err
		}
		out.Messages = append(out.Messages, msg)
		o.publish(sess, Event{Type: EventMessage, Message: msg})
	}

	o.publish(sess, Event{Type: EventThinking, Agent: lead})
	resp, err := o.provider.Complete(ctx, llm.Request{
		Model:    req.Lead.Model,
		Messages: synthesisPrompt(req.Lead, req.UserRequest, out.Messages),
	})
	if err != nil {
		return out, fmt.Errorf("council synthesis: %w", err)
	}
	synthesis := strings.TrimSpace(resp.Content)
	msg := &types.CouncilMessage{
		SessionID:     sess.ID,
		FromAgentID:   req.Lead.ID,
		FromAgentName: req.Lead.Name,
		Type:          types.MessageSynthesis,
		Content:       synthesis,
		CreatedAt:     o.now(),
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return out, err
	}
	out.Messages = append(out.Messages, msg)
	o.publish(sess, Event{Type: EventMessage, Message: msg})
	o.publish(sess, Event{Type: EventSynthesis, Synthesis: synthesis})

	at := o.now()
	concluded, err := o.store.Conclude(ctx, sess.ID, synthesis, at)
	if err != nil {
		return out, err
	}
	out.Synthesis = synthesis
	if concluded {
		sess.Status = types.CouncilConcluded
		sess.FinalSynthesis = synthesis
		sess.ConcludedAt = &at
		o.publish(sess, Event{Type: EventStatus, Status: types.CouncilConcluded, Synthesis: synthesis})
		logger.Info("council concluded", "members", len(out.Members), "messages", len(out.Messages))
	}
	return out, nil
}

// AbandonedPrefix starts the synthesis recorded for a council that failed.
const AbandonedPrefix = "Council abandoned: "

func (o *Orchestrator) abandon(ctx context.Context, sess *types.CouncilSession, cause error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	note := AbandonedPrefix + cause.Error()
	at := o.now()
	concluded, err := o.store.Conclude(ctx, sess.ID, note, at)
	if err != nil {
		logger.Error("council abandoned, session left open", "status", string(sess.Status), "error", err, "cause", cause)
		return
	}
	logger.Warn("council abandoned", "status", string(sess.Status), "cause", cause)
	if concluded {
		sess.Status = types.CouncilConcluded
		sess.FinalSynthesis = note
		sess.ConcludedAt = &at
		o.publish(sess, Event{Type: EventStatus, Status: types.CouncilConcluded, Synthesis: note})
	}
}

func (o *Orchestrator) publish(sess *types.CouncilSession, ev Event) {
	if o.broker == nil {
		return
	}
	ev.SessionID = sess.ID
	ev.ConversationID = sess.ConversationID
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	o.broker.Publish(ev)
}

// resolve finds a roster agent by name. Unknown names become ad-hoc agents
// on the lead's model.
func (o *Orchestrator) resolve(name string, lead *types.Agent) *types.Agent {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if o.roster != nil {
		if a, ok := o.roster.Resolve(name); ok {
			return a
		}
	}
	return &types.Agent{
		ID:           types.AgentSlug(name),
		Name:         name,
		SystemPrompt: fmt.Sprintf("You are %s, a specialist summoned to advise %s.", name, lead.Name),
		Model:        lead.Model,
	}
}

func containsAgent(agents []*types.Agent, id types.AgentID) bool {
	for _, a := range agents {
		if a.ID == id {
			return true
		}
	}
	return false
}

func transcript(msgs []*types.CouncilMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s (%s): %s\n", m.FromAgentName, m.Type, m.Content)
	}
	return b.String()
}

func memberPrompt(member, lead *types.Agent, request string, msgs []*types.CouncilMessage) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: member.SystemPrompt + "\n\nYou are taking part in a council led by " + lead.Name +
			". Give one focused insight from your perspective. Be concise."},
		{Role: "user", Content: "Request: " + request + "\n\nCouncil so far:\n" + transcript(msgs)},
	}
}

func synthesisPrompt(lead *types.Agent, request string, msgs []*types.CouncilMessage) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: lead.SystemPrompt + "\n\nYou lead this council. Combine the members' insights into one final answer for the user."},
		{Role: "user", Content: "Request: " + request + "\n\nDeliberation:\n" + transcript(msgs)},
	}
}
