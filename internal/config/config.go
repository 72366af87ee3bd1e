// Package config loads the JSON service configuration and the TOML agent
// roster.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Schedule is one autopilot job.
type Schedule struct {
	Name    string `json:"name"`
	Cron    string `json:"cron"`
	Agent   string `json:"agent"`
	Prompt  string `json:"prompt,omitempty"`
	Deliver string `json:"deliver,omitempty"`
	Enabled bool   `json:"enabled"`
}

type Config struct {
	DataDir            string `json:"data_dir"`
	LogLevel           string `json:"log_level"`
	HTTPAddr           string `json:"http_addr"`
	AgentsFile         string `json:"agents_file,omitempty"`
	DefaultAgent       string `json:"default_agent"`
	MaxConcurrent      int    `json:"max_concurrent"`
	MaxToolRounds      int    `json:"max_tool_rounds"`
	HistoryLimit       int    `json:"history_limit"`
	MemoryContextLimit int    `json:"memory_context_limit"`
	Memory             struct {
		Threshold  int     `json:"threshold"`
		Importance float64 `json:"importance"`
	} `json:"memory"`
	Council struct {
		Enabled          bool `json:"enabled"`
		SpeakingWindowMS int  `json:"speaking_window_ms"`
	} `json:"council"`
	LLM struct {
		Provider         string  `json:"provider"`
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
		TimeoutSeconds   int     `json:"timeout_seconds"`
	} `json:"llm"`
	Firecrawl struct {
		APIKey string `json:"api_key"`
	} `json:"firecrawl"`
	Brave struct {
		APIKey string `json:"api_key"`
	} `json:"brave"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
	Schedules []Schedule `json:"schedules,omitempty"`
}

// DefaultPath returns ~/.agentcouncil/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".agentcouncil", "config.json")
}

// Defaults returns the configuration written on first load.
func Defaults() *Config {
	cfg := &Config{
		DataDir:            filepath.Join(os.Getenv("HOME"), ".agentcouncil"),
		LogLevel:           "info",
		HTTPAddr:           ":8080",
		DefaultAgent:       "dehtyar",
		MaxConcurrent:      4,
		MaxToolRounds:      5,
		HistoryLimit:       20,
		MemoryContextLimit: 5,
	}
	cfg.Memory.Threshold = 100
	cfg.Memory.Importance = 0.5
	cfg.Council.Enabled = true
	cfg.Council.SpeakingWindowMS = 2000
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.LLM.TimeoutSeconds = 60
	return cfg
}

// Load reads path over Defaults, writing the defaults when the file does not
// exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment (highest
// precedence).
func applyEnv(cfg *Config) {
	for env, dst := range map[string]*string{
		"OPENAI_API_KEY":     &cfg.LLM.APIKey,
		"OPENAI_BASE_URL":    &cfg.LLM.BaseURL,
		"FIRECRAWL_API_KEY":  &cfg.Firecrawl.APIKey,
		"BRAVE_API_KEY":      &cfg.Brave.APIKey,
		"TELEGRAM_BOT_TOKEN": &cfg.Telegram.Token,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

// RosterPath returns the agent roster location, defaulting to agents.toml
// in the data directory.
func (c *Config) RosterPath() string {
	if c.AgentsFile != "" {
		return c.AgentsFile
	}
	return filepath.Join(c.DataDir, "agents.toml")
}

// DBPath returns the SQLite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "agentcouncil.db")
}

// Schedule returns the named schedule.
func (c *Config) Schedule(name string) (Schedule, bool) {
	for _, s := range c.Schedules {
		if s.Name == name {
			return s, true
		}
	}
	return Schedule{}, false
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its nested JSON map form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as dot-keyed values, with secrets masked when mask
// is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads path and returns the value at a dot-separated key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if data, err := os.ReadFile(path); err == nil {
		json.Unmarshal(data, &raw)
	}
	for _, src := range []map[string]any{Flatten(m), Flatten(raw)} {
		if v, ok := src[key]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("unknown config key: %s", key)
}

// SetValue sets a dot-separated key in the file at path. The value is parsed
// as JSON when it can be (numbers, booleans) and stored as a string
// otherwise. Keys outside the Config struct are preserved.
func SetValue(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	flat := Flatten(raw)
	flat[key] = coerce(value)
	out, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(out, '\n'))
}

func coerce(value string) any {
	var v any
	trimmed := strings.TrimSpace(value)
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		switch v.(type) {
		case float64, bool:
			return v
		}
	}
	return value
}
