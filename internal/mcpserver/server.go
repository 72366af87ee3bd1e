// Package mcpserver exposes the tool registry over the Model Context
// Protocol so external MCP clients can call the same tools agents use.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/types"
)

// Version is reported to MCP clients during initialization.
var Version = "dev"

// New builds an MCP server whose tools dispatch through registry on behalf
// of agentID.
func New(registry *runtime.Registry, agentID types.AgentID) *server.MCPServer {
	s := server.NewMCPServer(
		"agentcouncil",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, t := range registry.All() {
		s.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), t.Parameters()),
			handler(registry, t.Name(), agentID))
	}
	return s
}

func handler(registry *runtime.Registry, name string, agentID types.AgentID) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := json.Marshal(req.GetArguments())
		if err != nil {
			return nil, fmt.Errorf("encode %s arguments: %w", name, err)
		}
		res := registry.Dispatch(ctx, runtime.Call{Name: name, AgentID: agentID, Input: input})
		if res.Err != nil || res.Unknown {
			slog.Debug("mcp tool call failed", "tool", name, "output", res.Output)
			return mcp.NewToolResultError(res.Output), nil
		}
		return mcp.NewToolResultText(res.Output), nil
	}
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
