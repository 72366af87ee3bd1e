package main

import (
	"fmt"
	"time"

	"github.com/user/agentcouncil/internal/config"
	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/runtime/tools"
	"github.com/user/agentcouncil/internal/state"
	"github.com/user/agentcouncil/internal/taskgraph"
	"github.com/user/agentcouncil/pkg/llm"
	"github.com/user/agentcouncil/pkg/llm/openai"
)

// services holds the pieces every long-running command shares.
type services struct {
	db            *state.DB
	roster        *config.Roster
	conversations *state.ConversationStore
	memories      *state.MemoryStore
	councils      *state.CouncilStore
	tasks         *taskgraph.Engine
	registry      *runtime.Registry
}

func newServices(cfg *config.Config) (*services, error) {
	roster, err := config.LoadRoster(cfg.RosterPath(), cfg.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &services{
		db:            db,
		roster:        roster,
		conversations: state.NewConversationStore(db),
		memories:      state.NewMemoryStore(db),
		councils:      state.NewCouncilStore(db),
		tasks:         taskgraph.New(state.NewTaskStore(db)),
		registry:      runtime.NewRegistry(),
	}
	tools.RegisterDefaults(s.registry, tools.Options{
		FirecrawlAPIKey: cfg.Firecrawl.APIKey,
		BraveAPIKey:     cfg.Brave.APIKey,
		Memories:        s.memories,
		Tasks:           s.tasks,
	})
	return s, nil
}

func (s *services) Close() error { return s.db.Close() }

func newProvider(cfg *config.Config) llm.Provider {
	return openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
}
