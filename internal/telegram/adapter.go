// Package telegram bridges a Telegram bot to the chat gateway. Each
// user/chat pair maps to one keyed conversation.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/taskgraph"
	"github.com/user/agentcouncil/internal/types"
)

const maxTelegramMessage = 4096

// Submitter queues a turn and reports its outcome.
type Submitter interface {
	Submit(req runtime.TurnRequest, done func(*runtime.TurnResult, error)) error
}

// AgentLister lists the configured agents.
type AgentLister interface {
	Agents() []*types.Agent
}

// Sender sends bot messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Deps are the services the adapter talks to.
type Deps struct {
	Gateway       Submitter
	Conversations types.ConversationStore
	Agents        AgentLister
	Tasks         *taskgraph.Engine
	DefaultAgent  types.AgentID
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	sender Sender
	deps   Deps
}

// New creates a Telegram adapter and verifies the token.
func New(token string, deps Deps) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{bot: bot, sender: bot, deps: deps}, nil
}

func newWithSender(sender Sender, deps Deps) *Adapter {
	return &Adapter{sender: sender, deps: deps}
}

// Start long-polls for updates until ctx ends.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram adapter started", "bot", a.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	req := runtime.TurnRequest{
		Key:     conversationKey(msg.From.ID, chatID),
		Message: msg.Text,
	}
	err := a.deps.Gateway.Submit(req, func(res *runtime.TurnResult, err error) {
		if err != nil {
			slog.Error("telegram turn failed", "chat_id", chatID, "error", err)
			a.send(chatID, errorReply(err))
			return
		}
		a.send(chatID, res.Content)
	})
	if err != nil {
		slog.Error("telegram submit failed", "chat_id", chatID, "error", err)
		a.send(chatID, "I'm busy with earlier messages in this chat. Please try again shortly.")
	}
}

func errorReply(err error) string {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		return "I couldn't accept that: " + verr.Message
	default:
		return "Sorry, something went wrong processing your message."
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := conversationKey(msg.From.ID, chatID)

	switch msg.Command() {
	case "start":
		a.send(chatID, "Hello! I'm your agent council. Send a message to talk to "+string(a.deps.DefaultAgent)+
			", or use /agents to see who else is here.")

	case "new":
		if err := a.deps.Conversations.ReleaseKey(ctx, key); err != nil {
			slog.Error("release conversation key", "key", key, "error", err)
			a.send(chatID, "Error starting a new conversation.")
			return
		}
		a.send(chatID, "Starting a new conversation. The previous one is kept in history.")

	case "status":
		a.send(chatID, a.status(ctx, key))

	case "agents":
		var b strings.Builder
		b.WriteString("Agents:")
		for _, ag := range a.deps.Agents.Agents() {
			fmt.Fprintf(&b, "\n- %s (%s)", ag.Name, ag.ID)
			if ag.Description != "" {
				b.WriteString(": " + ag.Description)
			}
		}
		a.send(chatID, b.String())

	case "tasks":
		a.send(chatID, a.tasks(ctx, key))

	default:
		a.send(chatID, "Unknown command. Available: /start, /new, /status, /agents, /tasks")
	}
}

func (a *Adapter) status(ctx context.Context, key types.ConversationKey) string {
	conv, err := a.deps.Conversations.GetByKey(ctx, key)
	var nf *types.NotFoundError
	if errors.As(err, &nf) {
		return "No active conversation. Send a message to start one."
	}
	if err != nil {
		return "Error fetching status."
	}
	count, err := a.deps.Conversations.Count(ctx, conv.ID)
	if err != nil {
		return "Error fetching status."
	}
	return fmt.Sprintf("Conversation: %s\nAgent: %s\nMessages: %d\nStarted: %s",
		conv.Title, conv.AgentID, count, humanize.Time(conv.CreatedAt))
}

func (a *Adapter) tasks(ctx context.Context, key types.ConversationKey) string {
	agentID := a.deps.DefaultAgent
	if conv, err := a.deps.Conversations.GetByKey(ctx, key); err == nil {
		agentID = conv.AgentID
	}
	tasks, err := a.deps.Tasks.ListTasks(ctx, agentID, taskgraph.ListOptions{Limit: 10})
	if err != nil {
		return "Error listing tasks."
	}
	if len(tasks) == 0 {
		return "No tasks for " + string(agentID) + "."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tasks for %s:", agentID)
	for _, t := range tasks {
		indent := ""
		if t.IsSubtask() {
			indent = "  "
		}
		fmt.Fprintf(&b, "\n%s[%s] %s", indent, t.Status, t.Title)
	}
	return b.String()
}

// Deliver sends message to the chat named by an address of the form
// "telegram:<user>:<chat>".
func (a *Adapter) Deliver(_ context.Context, address, message string) error {
	parts := strings.Split(address, ":")
	if len(parts) != 3 || parts[0] != "telegram" {
		return types.Invalid("address", "expected telegram:<user>:<chat>, got %q", address)
	}
	chatID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return types.Invalid("address", "bad chat id %q", parts[2])
	}
	return a.send(chatID, message)
}

func (a *Adapter) send(chatID int64, text string) error {
	var lastErr error
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.sender.Send(msg); err != nil {
			// Model output is not always valid Telegram markdown.
			msg.ParseMode = ""
			if _, err := a.sender.Send(msg); err != nil {
				slog.Error("telegram send failed", "chat_id", chatID, "error", err)
				lastErr = err
			}
		}
	}
	return lastErr
}

// splitMessage cuts text into chunks Telegram accepts, on rune boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := min(maxTelegramMessage, len(text))
		for end < len(text) && end > 0 && !isRuneStart(text[end]) {
			end--
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func conversationKey(userID, chatID int64) types.ConversationKey {
	return types.NewConversationKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
