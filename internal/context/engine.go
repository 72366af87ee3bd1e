package context

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/agentcouncil/internal/types"
	"github.com/user/agentcouncil/pkg/llm"
)

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	tmpl      *template.Template
	maxTokens int
	reserve   int
}

// New creates a context engine with the specified token budget.
// model selects the tokenizer; unknown models fall back to cl100k_base.
// maxTokens is the model's context window size and reserve is kept free
// for the response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	return NewWithTemplate(model, maxTokens, reserve, DefaultPrompt)
}

// NewWithTemplate is New with a custom system prompt template.
func NewWithTemplate(model string, maxTokens, reserve int, prompt string) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	tmpl, err := template.New("system").Parse(prompt)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &Engine{
		tokenizer: enc,
		tmpl:      tmpl,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

// ToolInfo is the prompt-facing description of a tool.
type ToolInfo struct {
	Name        string
	Description string
}

// PromptData is the input to the system prompt template.
type PromptData struct {
	Agent    *types.Agent
	Time     string
	Memories []*types.MemoryRecord
	Tools    []ToolInfo
	Council  bool
}

// PromptInput is everything one model round is built from.
type PromptInput struct {
	Agent    *types.Agent
	Memories []*types.MemoryRecord
	Tools    []ToolInfo
	// History is oldest first.
	History []*types.Message
	Council bool
	Now     time.Time
}

func (e *Engine) countTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// BuildPrompt renders the system prompt and appends as much of the history
// as fits the budget. When history must be cut, the oldest messages go first.
func (e *Engine) BuildPrompt(in PromptInput) ([]llm.Message, error) {
	if in.Agent == nil {
		return nil, fmt.Errorf("build prompt: nil agent")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	sysPrompt, err := e.SystemPrompt(PromptData{
		Agent:    in.Agent,
		Time:     now.Format(time.RFC3339),
		Memories: in.Memories,
		Tools:    in.Tools,
		Council:  in.Council,
	})
	if err != nil {
		return nil, err
	}

	remaining := e.maxTokens - e.reserve - e.countTokens(sysPrompt)

	// Walk backwards so the newest messages win.
	start := len(in.History)
	for i := len(in.History) - 1; i >= 0; i-- {
		cost := e.countTokens(in.History[i].Content) + 4
		if cost > remaining {
			break
		}
		remaining -= cost
		start = i
	}

	messages := make([]llm.Message, 0, 1+len(in.History)-start)
	messages = append(messages, llm.Message{Role: string(types.RoleSystem), Content: sysPrompt})
	for _, m := range in.History[start:] {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return messages, nil
}

// SystemPrompt renders the system prompt template.
func (e *Engine) SystemPrompt(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}
