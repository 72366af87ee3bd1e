package tools

import (
	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/taskgraph"
	"github.com/user/agentcouncil/internal/types"
)

// Options selects backends for the built-in tools.
type Options struct {
	FirecrawlAPIKey string
	BraveAPIKey     string
	Memories        types.MemoryStore
	Tasks           *taskgraph.Engine
}

// RegisterDefaults adds the built-in tool set to r in catalog order.
// Firecrawl is preferred for search and fetch when a key is present.
func RegisterDefaults(r *runtime.Registry, opts Options) {
	var (
		searchers []Searcher
		scraper   Scraper = NewDirectFetcher()
	)
	if opts.FirecrawlAPIKey != "" {
		fc := NewFirecrawl(opts.FirecrawlAPIKey)
		searchers = append(searchers, fc)
		scraper = fc
	}
	if opts.BraveAPIKey != "" {
		searchers = append(searchers, NewBraveSearch(opts.BraveAPIKey))
	}

	r.Register(
		NewWebSearch(searchers...),
		NewFetchURL(scraper),
		NewDateTime(nil),
		NewCalculator(),
	)
	if opts.Memories != nil {
		r.Register(NewMemoryStore(opts.Memories), NewMemoryRecall(opts.Memories))
	}
	if opts.Tasks != nil {
		r.Register(NewTaskTools(opts.Tasks)...)
	}
	r.Register(NewCodeExecutor())
}
