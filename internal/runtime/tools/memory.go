package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/types"
)

const defaultRecallLimit = 5

type memoryStoreInput struct {
	Content    string   `json:"content" jsonschema_description:"What to remember"`
	Type       string   `json:"type,omitempty" jsonschema_description:"short_term, long_term or episodic"`
	Importance *float64 `json:"importance,omitempty" jsonschema_description:"Importance between 0 and 1, default 0.5"`
}

// NewMemoryStore returns the memory_store tool.
func NewMemoryStore(store types.MemoryStore) runtime.Tool {
	return runtime.NewTool("memory_store", "Store a fact in the agent's long-lived memory", nil,
		func(ctx context.Context, agentID types.AgentID, in memoryStoreInput) (string, error) {
			content := strings.TrimSpace(in.Content)
			if content == "" {
				return "", types.Invalid("content", "no content provided to store")
			}
			rec := &types.MemoryRecord{
				AgentID:    agentID,
				Content:    content,
				Type:       in.Type,
				Importance: 0.5,
			}
			if rec.Type == "" {
				rec.Type = types.MemoryShortTerm
			}
			if in.Importance != nil {
				rec.Importance = *in.Importance
			}
			if err := store.Add(ctx, rec); err != nil {
				return "", fmt.Errorf("store memory: %w", err)
			}
			preview := truncate(content, 50)
			if preview != content {
				preview += "..."
			}
			return fmt.Sprintf("Successfully stored %s memory: %q", rec.Type, preview), nil
		})
}

type memoryRecallInput struct {
	Query string `json:"query,omitempty" jsonschema_description:"Text the memory should contain"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum memories to return, default 5"`
}

// NewMemoryRecall returns the memory_recall tool.
func NewMemoryRecall(store types.MemoryStore) runtime.Tool {
	return runtime.NewTool("memory_recall", "Recall the agent's most important memories, optionally filtered by text", nil,
		func(ctx context.Context, agentID types.AgentID, in memoryRecallInput) (string, error) {
			limit := in.Limit
			if limit <= 0 {
				limit = defaultRecallLimit
			}
			recs, err := store.Query(ctx, types.MemoryQuery{
				AgentID:  agentID,
				Contains: strings.TrimSpace(in.Query),
				Limit:    limit,
			})
			if err != nil {
				return "", fmt.Errorf("recall memories: %w", err)
			}
			if len(recs) == 0 {
				return "No memories found matching your query.", nil
			}
			var b strings.Builder
			b.WriteString("[Retrieved Memories]")
			for i, r := range recs {
				fmt.Fprintf(&b, "\n%d. [%s] (importance: %s): %s",
					i+1, r.Type, strconv.FormatFloat(r.Importance, 'f', -1, 64), r.Content)
			}
			return b.String(), nil
		})
}
