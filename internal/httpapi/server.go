// Package httpapi serves the chat, tool, council and task endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/user/agentcouncil/internal/council"
	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/stream"
	"github.com/user/agentcouncil/internal/taskgraph"
	"github.com/user/agentcouncil/internal/types"
	"github.com/user/agentcouncil/pkg/llm"
)

// Turner runs a chat turn, streaming to the writer ready returns.
type Turner interface {
	Turn(ctx context.Context, req runtime.TurnRequest, ready func(*runtime.Turn) io.Writer) (*runtime.TurnResult, error)
}

// AgentLister lists the configured agents.
type AgentLister interface {
	Agents() []*types.Agent
}

// ScheduleRunner triggers a named autopilot schedule.
type ScheduleRunner interface {
	RunNow(ctx context.Context, name string) (string, error)
}

// Deps are the services behind the API. Scheduler and Broker may be nil.
type Deps struct {
	Gateway       Turner
	Tools         *runtime.Registry
	Agents        AgentLister
	Conversations types.ConversationStore
	Council       types.CouncilStore
	Broker        *council.Broker
	Tasks         *taskgraph.Engine
	Scheduler     ScheduleRunner
	DefaultAgent  types.AgentID
}

// Server is the HTTP API.
type Server struct {
	deps    Deps
	mux     *http.ServeMux
	handler http.Handler
}

// NewServer creates a Server and registers its routes.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/tools", s.handleListTools)
	s.mux.HandleFunc("POST /api/tools/execute", s.handleExecuteTool)
	s.mux.HandleFunc("GET /api/agents", s.handleAgents)
	s.mux.HandleFunc("GET /api/conversations", s.handleConversations)
	s.mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleMessages)
	s.mux.HandleFunc("GET /api/conversations/{id}/council", s.handleCouncil)
	s.mux.HandleFunc("GET /api/conversations/{id}/council/events", s.handleCouncilEvents)
	s.mux.HandleFunc("GET /api/tasks", s.handleTasks)
	s.mux.HandleFunc("POST /api/schedules/{name}/run", s.handleRunSchedule)
	s.handler = cors(s.mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
		}
		<-errCh
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req runtime.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON"})
		return
	}
	sw := newEventWriter(w)
	res, err := s.deps.Gateway.Turn(r.Context(), req, func(turn *runtime.Turn) io.Writer {
		w.Header().Set("X-Conversation-Id", string(turn.ConversationID))
		return sw
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			slog.Info("chat client disconnected", "conversation_id", w.Header().Get("X-Conversation-Id"))
			return
		}
		if !sw.started {
			writeError(w, err)
			return
		}
		// Headers are gone; report in-band.
		status, body := classify(err)
		slog.Error("chat stream failed", "status", status, "error", err)
		stream.WriteEvent(sw, "error", body)
		return
	}
	stream.WriteEvent(sw, "done", res)
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	all := s.deps.Tools.All()
	out := make([]toolInfo, 0, len(all))
	for _, t := range all {
		out = append(out, toolInfo{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	writeJSON(w, http.StatusOK, out)
}

type toolResponse struct {
	Result string `json:"result"`
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var call runtime.Call
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON"})
		return
	}
	if call.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "toolName is required"})
		return
	}
	if call.AgentID == "" {
		call.AgentID = s.deps.DefaultAgent
	}
	res := s.deps.Tools.Dispatch(r.Context(), call)
	writeJSON(w, http.StatusOK, toolResponse{Result: res.Output})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.deps.Agents.Agents()
	if agents == nil {
		agents = []*types.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.deps.Conversations.List(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if convs == nil {
		convs = []*types.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := types.ConversationID(r.PathValue("id"))
	ctx := r.Context()
	if _, err := s.deps.Conversations.Get(ctx, id); err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.deps.Conversations.Recent(ctx, id, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type councilResponse struct {
	Session  *types.CouncilSession   `json:"session"`
	Messages []*types.CouncilMessage `json:"messages"`
}

func (s *Server) handleCouncil(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := s.deps.Council.LatestSession(ctx, types.ConversationID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.deps.Council.Messages(ctx, sess.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*types.CouncilMessage{}
	}
	writeJSON(w, http.StatusOK, councilResponse{Session: sess, Messages: msgs})
}

func (s *Server) handleCouncilEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "council events not available"})
		return
	}
	convID := types.ConversationID(r.PathValue("id"))
	events, unsubscribe := s.deps.Broker.Subscribe(council.Filter{ConversationID: convID})
	defer unsubscribe()

	sw := newEventWriter(w)
	io.WriteString(sw, ": subscribed\n\n")
	sw.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := stream.WriteEvent(sw, string(ev.Type), ev); err != nil {
				slog.Debug("council event subscriber gone", "conversation_id", string(convID), "error", err)
				return
			}
		}
	}
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentID := types.AgentID(q.Get("agent"))
	if agentID == "" {
		agentID = s.deps.DefaultAgent
	}
	opts := taskgraph.ListOptions{
		Status:     types.TaskStatus(q.Get("status")),
		ParentOnly: q.Get("parent_only") == "true",
		Limit:      queryInt(r, "limit", 0),
	}
	tasks, err := s.deps.Tasks.ListTasks(r.Context(), agentID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*types.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type scheduleResponse struct {
	Schedule string `json:"schedule"`
	Response string `json:"response"`
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "scheduler not running"})
		return
	}
	name := r.PathValue("name")
	resp, err := s.deps.Scheduler.RunNow(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{Schedule: name, Response: resp})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
}

// classify maps an error to its HTTP status and response body.
func classify(err error) (int, errorBody) {
	var (
		verr *types.ValidationError
		nf   *types.NotFoundError
		up   *llm.UpstreamError
	)
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, errorBody{Error: "Rate limits exceeded, please try again later."}
	case errors.Is(err, llm.ErrPaymentRequired):
		return http.StatusPaymentRequired, errorBody{Error: "Payment required, please add funds."}
	case errors.As(err, &up):
		return http.StatusBadGateway, errorBody{Error: "AI gateway error", Status: up.StatusCode, Body: up.Body}
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorBody{Error: verr.Error()}
	case errors.As(err, &nf):
		return http.StatusNotFound, errorBody{Error: nf.Error()}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal server error"}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}
