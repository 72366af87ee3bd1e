package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	ctxengine "github.com/user/agentcouncil/internal/context"
	"github.com/user/agentcouncil/internal/council"
	"github.com/user/agentcouncil/internal/stream"
	"github.com/user/agentcouncil/internal/types"
	"github.com/user/agentcouncil/pkg/llm"
)

// AgentSource looks agents up by id.
type AgentSource interface {
	Lookup(id types.AgentID) (*types.Agent, bool)
}

// Options tunes the turn loop. Zero values take the defaults below.
type Options struct {
	DefaultAgent       types.AgentID
	HistoryLimit       int     // 20
	MemoryContextLimit int     // 5
	MemoryThreshold    int     // 100
	MemoryImportance   float64 // 0.5
	MaxToolRounds      int     // 5
	// Council is nil when councils are disabled.
	Council *council.Orchestrator
}

func (o *Options) applyDefaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	if o.MemoryContextLimit <= 0 {
		o.MemoryContextLimit = 5
	}
	if o.MemoryThreshold <= 0 {
		o.MemoryThreshold = 100
	}
	if o.MemoryImportance <= 0 {
		o.MemoryImportance = 0.5
	}
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = 5
	}
}

// Runtime implements the agentic turn loop.
type Runtime struct {
	provider      llm.Provider
	engine        *ctxengine.Engine
	conversations types.ConversationStore
	memories      types.MemoryStore
	registry      *Registry
	agents        AgentSource
	opts          Options
}

// New creates a Runtime with the given dependencies.
func New(
	provider llm.Provider,
	engine *ctxengine.Engine,
	conversations types.ConversationStore,
	memories types.MemoryStore,
	registry *Registry,
	agents AgentSource,
	opts Options,
) *Runtime {
	opts.applyDefaults()
	return &Runtime{
		provider:      provider,
		engine:        engine,
		conversations: conversations,
		memories:      memories,
		registry:      registry,
		agents:        agents,
		opts:          opts,
	}
}

// Registry returns the tool registry the runtime dispatches to.
func (rt *Runtime) Registry() *Registry { return rt.registry }

// TurnRequest is one user utterance. ConversationID wins over Key; with
// neither, a new conversation is started.
type TurnRequest struct {
	ConversationID types.ConversationID  `json:"conversationId,omitempty"`
	AgentID        types.AgentID         `json:"agentId,omitempty"`
	Key            types.ConversationKey `json:"-"`
	Message        string                `json:"message"`
}

// Turn is an accepted user message waiting to be answered.
type Turn struct {
	ConversationID types.ConversationID
	Conversation   *types.Conversation
	Agent          *types.Agent
	UserMessage    *types.Message
	// Created is set when Begin started a new conversation.
	Created bool
}

// TurnResult is what Run produced.
type TurnResult struct {
	ConversationID types.ConversationID  `json:"conversation_id"`
	MessageID      types.MessageID       `json:"message_id"`
	Content        string                `json:"content"`
	Steps          []types.ReasoningStep `json:"steps,omitempty"`
	Council        *council.Outcome      `json:"-"`
	Rounds         int                   `json:"rounds"`
	// Exhausted is set when the round limit cut tool use short.
	Exhausted bool `json:"exhausted,omitempty"`
}

// ToolResultEvent is the payload of a tool_result stream event.
type ToolResultEvent struct {
	Tool    string `json:"tool"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

const titleLimit = 50

// Begin validates and records the user's message, resolving the agent and
// conversation it belongs to.
func (rt *Runtime) Begin(ctx context.Context, req TurnRequest) (*Turn, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, types.Invalid("message", "message is required")
	}

	var conv *types.Conversation
	switch {
	case req.ConversationID != "":
		c, err := rt.conversations.Get(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		conv = c
	case req.Key != "":
		c, err := rt.conversations.GetByKey(ctx, req.Key)
		var nf *types.NotFoundError
		if err != nil && !errors.As(err, &nf) {
			return nil, err
		}
		conv = c
	}

	agentID := req.AgentID
	if agentID == "" && conv != nil {
		agentID = conv.AgentID
	}
	if agentID == "" {
		agentID = rt.opts.DefaultAgent
	}
	agent, ok := rt.agents.Lookup(agentID)
	if !ok {
		return nil, types.NotFound("agent", agentID)
	}

	turn := &Turn{Agent: agent}
	if conv == nil {
		conv = &types.Conversation{
			AgentID: agent.ID,
			Title:   truncate(text, titleLimit),
			Key:     req.Key,
		}
		if err := rt.conversations.Create(ctx, conv); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		turn.Created = true
	}
	turn.Conversation = conv
	turn.ConversationID = conv.ID

	msg := &types.Message{
		ConversationID: conv.ID,
		Role:           types.RoleUser,
		Content:        req.Message,
		State:          types.MessageFinal,
	}
	if err := rt.conversations.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("record user message: %w", err)
	}
	turn.UserMessage = msg
	return turn, nil
}

// Run answers a turn, relaying every model stream to w as it arrives. Tool
// results and council progress are interleaved as named events. A failed
// or aborted round leaves no assistant message behind.
func (rt *Runtime) Run(ctx context.Context, turn *Turn, w io.Writer) (*TurnResult, error) {
	if w == nil {
		w = io.Discard
	}
	logger := slog.With("conversation_id", string(turn.ConversationID), "agent_id", string(turn.Agent.ID))
	result := &TurnResult{ConversationID: turn.ConversationID}

	for round := 1; round <= rt.opts.MaxToolRounds; round++ {
		result.Rounds = round

		messages, err := rt.prompt(ctx, turn)
		if err != nil {
			return nil, err
		}

		content, msgID, err := rt.streamRound(ctx, turn, messages, w)
		if err != nil {
			return nil, err
		}
		result.MessageID = msgID
		result.Content = content

		d := ParseDirectives(content)
		if d.Malformed > 0 {
			logger.Warn("ignored malformed directives", "count", d.Malformed, "round", round)
		}

		if len(d.Tools) > 0 {
			for _, td := range d.Tools {
				res := rt.registry.Dispatch(ctx, Call{Name: td.Name, AgentID: turn.Agent.ID, Input: td.Input})
				if err := rt.conversations.Append(ctx, &types.Message{
					ConversationID: turn.ConversationID,
					Role:           types.RoleSystem,
					Content:        fmt.Sprintf("[Tool Result: %s]\n%s", td.Name, res.Output),
					AgentID:        turn.Agent.ID,
				}); err != nil {
					return nil, fmt.Errorf("record tool result: %w", err)
				}
				if err := stream.WriteEvent(w, "tool_result", ToolResultEvent{
					Tool:    td.Name,
					Output:  res.Output,
					IsError: res.Err != nil || res.Unknown,
				}); err != nil {
					return nil, fmt.Errorf("%w: %w", stream.ErrAborted, err)
				}
				result.Steps = append(result.Steps, types.ReasoningStep{
					Step:       len(result.Steps) + 1,
					Thought:    d.Thought,
					Action:     types.StepAction{Type: "tool_call", ToolName: td.Name},
					ToolResult: res.Output,
				})
			}
			if round == rt.opts.MaxToolRounds {
				result.Exhausted = true
				logger.Warn("tool round limit reached", "rounds", round)
			}
			continue
		}

		if d.Council != nil && rt.opts.Council != nil {
			outcome, err := rt.convene(ctx, turn, d, w)
			if err != nil {
				return nil, err
			}
			msg := &types.Message{
				ConversationID: turn.ConversationID,
				Role:           types.RoleAssistant,
				Content:        outcome.Synthesis,
				AgentID:        turn.Agent.ID,
			}
			if err := rt.conversations.Append(ctx, msg); err != nil {
				return nil, fmt.Errorf("record synthesis: %w", err)
			}
			var plan []string
			for _, m := range outcome.Members {
				plan = append(plan, "consult "+m.Name)
			}
			result.Steps = append(result.Steps, types.ReasoningStep{
				Step:    len(result.Steps) + 1,
				Thought: d.Thought,
				Action:  types.StepAction{Type: "council"},
				Plan:    plan,
			})
			result.Council = outcome
			result.MessageID = msg.ID
			result.Content = outcome.Synthesis
		} else {
			result.Steps = append(result.Steps, types.ReasoningStep{
				Step:    len(result.Steps) + 1,
				Thought: d.Thought,
				Action:  types.StepAction{Type: "respond"},
			})
		}
		break
	}

	rt.remember(ctx, turn, result.Content)
	logger.Info("turn complete", "rounds", result.Rounds, "steps", len(result.Steps))
	return result, nil
}

func (rt *Runtime) prompt(ctx context.Context, turn *Turn) ([]llm.Message, error) {
	history, err := rt.conversations.Recent(ctx, turn.ConversationID, rt.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	memories, err := rt.memories.Query(ctx, types.MemoryQuery{AgentID: turn.Agent.ID, Limit: rt.opts.MemoryContextLimit})
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	messages, err := rt.engine.BuildPrompt(ctxengine.PromptInput{
		Agent:    turn.Agent,
		Memories: memories,
		Tools:    rt.registry.Catalog(),
		History:  history,
		Council:  rt.opts.Council != nil,
	})
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}
	return messages, nil
}

// streamRound runs one model call. The placeholder is finalized only when
// the stream completes.
func (rt *Runtime) streamRound(ctx context.Context, turn *Turn, messages []llm.Message, w io.Writer) (string, types.MessageID, error) {
	placeholder, err := rt.conversations.BeginAssistant(ctx, turn.ConversationID, turn.Agent.ID)
	if err != nil {
		return "", "", fmt.Errorf("begin assistant message: %w", err)
	}
	discard := func() {
		if err := rt.conversations.Discard(context.WithoutCancel(ctx), placeholder.ID); err != nil {
			slog.Error("discard assistant message", "message_id", string(placeholder.ID), "error", err)
		}
	}

	body, err := rt.provider.Stream(ctx, llm.Request{Model: turn.Agent.Model, Messages: messages})
	if err != nil {
		discard()
		return "", "", fmt.Errorf("stream model: %w", err)
	}
	res, err := stream.Relay(ctx, body, w)
	body.Close()
	if err != nil {
		discard()
		return "", "", err
	}
	if res.Malformed > 0 {
		slog.Warn("skipped malformed stream frames", "conversation_id", string(turn.ConversationID), "count", res.Malformed)
	}

	if err := rt.conversations.Finalize(ctx, placeholder.ID, res.Content); err != nil {
		discard()
		return "", "", fmt.Errorf("finalize assistant message: %w", err)
	}
	return res.Content, placeholder.ID, nil
}

// convene runs the council while forwarding its events to w. Only the
// forwarding goroutine writes to w.
func (rt *Runtime) convene(ctx context.Context, turn *Turn, d Directives, w io.Writer) (*council.Outcome, error) {
	orch := rt.opts.Council
	events, unsubscribe := orch.Broker().Subscribe(council.Filter{ConversationID: turn.ConversationID})
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	var outcome *council.Outcome

	g.Go(func() error {
		defer close(done)
		o, err := orch.Convene(gctx, council.ConveneRequest{
			ConversationID: turn.ConversationID,
			Lead:           turn.Agent,
			UserRequest:    turn.UserMessage.Content,
			Summons:        d.Council.Summon,
		})
		if err != nil {
			return fmt.Errorf("convene council: %w", err)
		}
		outcome = o
		return nil
	})
	g.Go(func() error {
		forward := func(ev council.Event) error {
			if err := stream.WriteEvent(w, "council", ev); err != nil {
				return fmt.Errorf("%w: %w", stream.ErrAborted, err)
			}
			return nil
		}
		for {
			select {
			case ev := <-events:
				if err := forward(ev); err != nil {
					return err
				}
			case <-done:
				// Everything Convene published is already buffered.
				for {
					select {
					case ev := <-events:
						if err := forward(ev); err != nil {
							return err
						}
					default:
						return nil
					}
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcome, nil
}

// remember writes a short-term memory for answers long enough to matter.
func (rt *Runtime) remember(ctx context.Context, turn *Turn, answer string) {
	if utf8.RuneCountInString(answer) <= rt.opts.MemoryThreshold {
		return
	}
	rec := &types.MemoryRecord{
		AgentID:    turn.Agent.ID,
		Content:    fmt.Sprintf(`User asked: "%s..." | Response: "%s..."`, truncate(turn.UserMessage.Content, 100), truncate(answer, 200)),
		Type:       types.MemoryShortTerm,
		Importance: rt.opts.MemoryImportance,
	}
	if err := rt.memories.Add(ctx, rec); err != nil {
		slog.Warn("store turn memory", "conversation_id", string(turn.ConversationID), "error", err)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
