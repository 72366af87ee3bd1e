package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentcouncil/internal/types"
)

type echoTool struct{}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echoes input" }
func (e *echoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}
func (e *echoTool) Execute(_ context.Context, agentID types.AgentID, args json.RawMessage) (string, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	return string(agentID) + ":" + p.Text, nil
}

type addInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

func addTool() Tool {
	return NewTool("add", "Adds two numbers", nil, func(_ context.Context, _ types.AgentID, in addInput) (string, error) {
		if in.A < 0 {
			return "", errors.New("negative")
		}
		return strconv.Itoa(in.A + in.B), nil
	})
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{})

	tool, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tool.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(addTool(), &echoTool{})
	r.Register(addTool())

	assert.Equal(t, []string{"add", "echo"}, r.Names())
	catalog := r.Catalog()
	require.Len(t, catalog, 2)
	assert.Equal(t, "add", catalog[0].Name)
	assert.Equal(t, "Echoes input", catalog[1].Description)
}

func TestDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{}, addTool())
	ctx := context.Background()

	res := r.Dispatch(ctx, Call{Name: "echo", AgentID: "planner", Input: json.RawMessage(`{"text":"hi"}`)})
	require.NoError(t, res.Err)
	assert.Equal(t, "planner:hi", res.Output)

	res = r.Dispatch(ctx, Call{Name: "add", Input: json.RawMessage(`{"a":2,"b":3}`)})
	require.NoError(t, res.Err)
	assert.Equal(t, "5", res.Output)
}

func TestDispatchUnknownToolIsSoft(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{}, addTool())

	res := r.Dispatch(context.Background(), Call{Name: "teleport"})
	assert.NoError(t, res.Err)
	assert.True(t, res.Unknown)
	assert.Equal(t, "Unknown tool: teleport. Available tools: echo, add", res.Output)
}

func TestDispatchToolErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(addTool())
	ctx := context.Background()

	res := r.Dispatch(ctx, Call{Name: "add", Input: json.RawMessage(`{"a":-1}`)})
	require.Error(t, res.Err)
	assert.Equal(t, "Error: negative", res.Output)

	res = r.Dispatch(ctx, Call{Name: "add", Input: json.RawMessage(`{"a":"x"}`)})
	var ve *types.ValidationError
	require.ErrorAs(t, res.Err, &ve)
	assert.Contains(t, res.Output, "parse add input")
}

func TestTypedToolNullInput(t *testing.T) {
	out, err := addTool().Execute(context.Background(), "", json.RawMessage("null"))
	require.NoError(t, err)
	assert.Equal(t, "0", out)

	out, err = addTool().Execute(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "0", out)
}

type searchInput struct {
	Query string `json:"query" jsonschema_description:"What to look for"`
	Limit int    `json:"limit,omitempty"`
}

func TestSchemaForReflectsInput(t *testing.T) {
	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	require.NoError(t, json.Unmarshal(SchemaFor[searchInput](), &schema))
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, "string", schema.Properties["query"]["type"])
	assert.Equal(t, "What to look for", schema.Properties["query"]["description"])
	assert.Equal(t, "integer", schema.Properties["limit"]["type"])
	assert.Equal(t, []string{"query"}, schema.Required)

	tool := NewTool("search", "Search", nil, func(context.Context, types.AgentID, searchInput) (string, error) { return "", nil })
	assert.JSONEq(t, string(SchemaFor[searchInput]()), string(tool.Parameters()))
}
