package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"

	ctxengine "github.com/user/agentcouncil/internal/context"
	"github.com/user/agentcouncil/internal/types"
)

// Tool defines the interface for an executable tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, agentID types.AgentID, args json.RawMessage) (string, error)
}

// Handler is the typed body of a tool built with NewTool.
type Handler[In any] func(ctx context.Context, agentID types.AgentID, in In) (string, error)

type typedTool[In any] struct {
	name        string
	description string
	params      json.RawMessage
	handler     Handler[In]
}

// NewTool builds a Tool whose input is decoded into In before the handler
// runs. Absent or null input decodes to the zero value. A nil params schema
// is reflected from In.
func NewTool[In any](name, description string, params json.RawMessage, h Handler[In]) Tool {
	if params == nil {
		params = SchemaFor[In]()
	}
	return &typedTool[In]{name: name, description: description, params: params, handler: h}
}

var schemaReflector = &jsonschema.Reflector{DoNotReference: true, Anonymous: true}

// SchemaFor returns the JSON schema of In. Fields without omitempty are
// required.
func SchemaFor[In any]() json.RawMessage {
	var in In
	s := schemaReflector.Reflect(&in)
	s.Version = ""
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b
}

func (t *typedTool[In]) Name() string                { return t.name }
func (t *typedTool[In]) Description() string         { return t.description }
func (t *typedTool[In]) Parameters() json.RawMessage { return t.params }

func (t *typedTool[In]) Execute(ctx context.Context, agentID types.AgentID, args json.RawMessage) (string, error) {
	var in In
	if trimmed := bytes.TrimSpace(args); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &in); err != nil {
			return "", types.Invalid("input", "parse %s input: %v", t.name, err)
		}
	}
	return t.handler(ctx, agentID, in)
}

// Registry holds registered tools in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry. Re-registering a name replaces the
// tool in place.
func (r *Registry) Register(tools ...Tool) {
	for _, t := range tools {
		if _, ok := r.tools[t.Name()]; !ok {
			r.order = append(r.order, t.Name())
		}
		r.tools[t.Name()] = t
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns all registered tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Catalog describes the registered tools for the system prompt.
func (r *Registry) Catalog() []ctxengine.ToolInfo {
	out := make([]ctxengine.ToolInfo, 0, len(r.order))
	for _, t := range r.All() {
		out = append(out, ctxengine.ToolInfo{Name: t.Name(), Description: t.Description()})
	}
	return out
}

// Call is one tool invocation.
type Call struct {
	Name    string          `json:"toolName"`
	AgentID types.AgentID   `json:"agentId"`
	Input   json.RawMessage `json:"toolInput"`
}

// Result is the outcome of a Call. Err is set when the tool failed; Output
// then carries the message the model sees.
type Result struct {
	Output string
	Err    error
	// Unknown is set when no tool has the requested name.
	Unknown bool
}

// Dispatch executes a call. Unknown tools are a soft failure: the result
// lists the valid names and Err stays nil.
func (r *Registry) Dispatch(ctx context.Context, call Call) Result {
	tool, ok := r.tools[call.Name]
	if !ok {
		return Result{
			Output:  fmt.Sprintf("Unknown tool: %s. Available tools: %s", call.Name, strings.Join(r.order, ", ")),
			Unknown: true,
		}
	}
	out, err := tool.Execute(ctx, call.AgentID, call.Input)
	if err != nil {
		slog.Warn("tool failed", "tool", call.Name, "agent_id", string(call.AgentID), "error", err)
		return Result{Output: "Error: " + err.Error(), Err: err}
	}
	return Result{Output: out}
}
