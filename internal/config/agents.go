package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/user/agentcouncil/internal/types"
)

// DefaultRoster is written to agents.toml on first load.
const DefaultRoster = `# Agent roster. The default agent is chosen by default_agent in config.json.
# model may be omitted to use llm.model.

[[agent]]
id = "dehtyar"
name = "Dehtyar"
avatar = "dehtyar"
description = "Lead agent. Plans, delegates and convenes the council."
system_prompt = """
You are Dehtyar, the lead of a small council of AI agents. You answer directly when you can, \
use tools when facts or actions are needed, and summon specialists when a request benefits \
from more than one perspective. You own the final decision."""

[[agent]]
id = "researcher"
name = "Researcher"
avatar = "researcher"
description = "Finds and verifies facts."
system_prompt = """
You are the Researcher. You gather evidence, cite sources and separate what is known from \
what is assumed. Keep findings concise."""

[[agent]]
id = "planner"
name = "Planner"
avatar = "planner"
description = "Breaks goals into ordered, actionable steps."
system_prompt = """
You are the Planner. You turn goals into small ordered steps with clear completion criteria, \
and you keep the task list up to date."""

[[agent]]
id = "critic"
name = "Critic"
avatar = "critic"
description = "Finds risks, gaps and weak assumptions."
system_prompt = """
You are the Critic. You look for what could go wrong: missing information, risky \
assumptions and cheaper alternatives. Be specific and constructive."""
`

type rosterFile struct {
	Agents []types.Agent `toml:"agent"`
}

// Roster is the set of configured agents. It is safe for concurrent use and
// may be replaced in place by Reload.
type Roster struct {
	mu           sync.RWMutex
	agents       []*types.Agent
	byID         map[types.AgentID]*types.Agent
	defaultModel string
}

// ParseRoster decodes TOML roster data. Agents without an id get one derived
// from their name; agents without a model use defaultModel.
func ParseRoster(data []byte, defaultModel string) (*Roster, error) {
	r := &Roster{defaultModel: defaultModel}
	if err := r.parse(data); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Roster) parse(data []byte) error {
	var f rosterFile
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f)
	if err != nil {
		return fmt.Errorf("decode roster: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		slog.Warn("unknown roster keys ignored", "keys", fmt.Sprint(undecoded))
	}
	if len(f.Agents) == 0 {
		return types.Invalid("agent", "roster defines no agents")
	}

	agents := make([]*types.Agent, 0, len(f.Agents))
	byID := make(map[types.AgentID]*types.Agent, len(f.Agents))
	for i := range f.Agents {
		a := f.Agents[i]
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			return types.Invalid(fmt.Sprintf("agent[%d].name", i), "is required")
		}
		if a.ID == "" {
			a.ID = types.AgentSlug(a.Name)
		}
		if a.Model == "" {
			a.Model = r.defaultModel
		}
		a.SystemPrompt = strings.TrimSpace(a.SystemPrompt)
		if _, dup := byID[a.ID]; dup {
			return types.Invalid(fmt.Sprintf("agent[%d].id", i), "duplicate agent id %q", a.ID)
		}
		byID[a.ID] = &a
		agents = append(agents, &a)
	}

	r.mu.Lock()
	r.agents, r.byID = agents, byID
	r.mu.Unlock()
	return nil
}

// LoadRoster reads the roster at path, writing DefaultRoster there first if
// the file does not exist.
func LoadRoster(path, defaultModel string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeAtomic(path, []byte(DefaultRoster)); err != nil {
			return nil, fmt.Errorf("write default roster: %w", err)
		}
		data = []byte(DefaultRoster)
	} else if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	r, err := ParseRoster(data, defaultModel)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Reload re-reads path. On error the current agents are kept.
func (r *Roster) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	return r.parse(data)
}

// Lookup returns the agent with the given id.
func (r *Roster) Lookup(id types.AgentID) (*types.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	return a, ok
}

// Resolve finds an agent by id, display name (case-insensitive) or the slug
// of a display name.
func (r *Roster) Resolve(name string) (*types.Agent, bool) {
	name = strings.TrimSpace(name)
	if a, ok := r.Lookup(types.AgentID(name)); ok {
		return a, true
	}
	if a, ok := r.Lookup(types.AgentSlug(name)); ok {
		return a, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return nil, false
}

// Agents returns the roster in file order.
func (r *Roster) Agents() []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*types.Agent(nil), r.agents...)
}

// Watch reloads the roster whenever path is written, until ctx ends. Editors
// that replace the file are handled by watching the parent directory.
// Bursts of events within debounce collapse into one reload.
func (r *Roster) Watch(ctx context.Context, path string, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			reload = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("roster watcher error", "error", err)
		case <-reload:
			reload = nil
			if err := r.Reload(path); err != nil {
				slog.Error("roster reload failed, keeping previous agents", "path", path, "error", err)
				continue
			}
			slog.Info("roster reloaded", "path", path, "agents", len(r.Agents()))
		}
	}
}
