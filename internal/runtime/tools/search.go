package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/types"
)

const searchLimit = 5

// SearchHit is one web search result.
type SearchHit struct {
	Title       string
	URL         string
	Description string
}

// Searcher is a web search backend.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

type webSearchInput struct {
	Query string `json:"query" jsonschema_description:"Search query"`
}

// NewWebSearch returns the web_search tool. The first backend is used; with
// none configured the tool explains how to enable search.
func NewWebSearch(backends ...Searcher) runtime.Tool {
	return runtime.NewTool("web_search", "Search the web for current information", nil,
		func(ctx context.Context, _ types.AgentID, in webSearchInput) (string, error) {
			query := strings.TrimSpace(in.Query)
			if query == "" {
				return "", types.Invalid("query", "no search query provided")
			}
			if len(backends) == 0 {
				return fmt.Sprintf("[Web Search for %q]\nNote: Web search requires a search provider. "+
					"Set FIRECRAWL_API_KEY or BRAVE_API_KEY to enable it.", query), nil
			}
			hits, err := backends[0].Search(ctx, query, searchLimit)
			if err != nil {
				return "", fmt.Errorf("web search via %s: %w", backends[0].Name(), err)
			}
			return formatSearchResults(hits), nil
		})
}

func formatSearchResults(hits []SearchHit) string {
	if len(hits) == 0 {
		return "No search results found."
	}
	var sb strings.Builder
	sb.WriteString("[Web Search Results]\n")
	for i, h := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		title := h.Title
		if title == "" {
			title = "Untitled"
		}
		desc := h.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&sb, "%d. %s\n   URL: %s\n   %s", i+1, title, h.URL, desc)
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
