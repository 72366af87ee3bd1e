package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/user/agentcouncil/internal/council"
	"github.com/user/agentcouncil/internal/gateway"
	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("server", "", "daemon URL (default: derived from http_addr)")
	chatCmd.Flags().String("agent", "", "agent to talk to (default: default_agent)")
	chatCmd.Flags().StringP("conversation", "c", "", "continue an existing conversation")
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with an agent through the running daemon",
	Long: "Sends a message to the daemon and streams the reply. With no message, " +
		"starts an interactive session that keeps the conversation going.",
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

var (
	agentColor   = color.New(color.FgCyan, color.Bold)
	toolColor    = color.New(color.FgYellow)
	councilColor = color.New(color.FgMagenta)
	errColor     = color.New(color.FgRed)
)

// serverURL turns a listen address like ":8080" into a client URL.
func serverURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	if !strings.Contains(addr, "://") {
		return "http://" + addr
	}
	return addr
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		server = serverURL(cfg.HTTPAddr)
	}
	agent, _ := cmd.Flags().GetString("agent")
	conv, _ := cmd.Flags().GetString("conversation")

	s := &chatSession{
		client: newAPIClient(server),
		retry:  gateway.DefaultRetryPolicy(),
		agent:  types.AgentID(agent),
		convID: types.ConversationID(conv),
	}
	ctx := cmd.Context()

	if len(args) == 1 {
		return s.send(ctx, args[0])
	}

	fmt.Println("Type a message and press Enter. /new starts a new conversation, /quit exits.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			s.convID = ""
			fmt.Println("Started a new conversation.")
			continue
		}
		if err := s.send(ctx, line); err != nil {
			errColor.Fprintln(os.Stderr, "Error:", err)
		}
	}
}

type chatSession struct {
	client *apiClient
	retry  *gateway.RetryPolicy
	agent  types.AgentID
	convID types.ConversationID
}

func (s *chatSession) send(ctx context.Context, message string) error {
	req := runtime.TurnRequest{ConversationID: s.convID, AgentID: s.agent, Message: message}
	handlers := chatHandlers{
		Delta: func(text string) { fmt.Print(text) },
		Tool: func(ev runtime.ToolResultEvent) {
			toolColor.Printf("\n[%s] %s\n", ev.Tool, oneLine(ev.Output, 120))
		},
		Council: printCouncilEvent,
	}

	var res *runtime.TurnResult
	err := s.retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.client.Chat(ctx, req, handlers)
		return err
	})
	fmt.Println()
	if err != nil {
		return err
	}
	if s.convID == "" {
		s.convID = res.ConversationID
		agentColor.Fprintf(os.Stderr, "(conversation %s)\n", s.convID)
	}
	if res.Exhausted {
		toolColor.Fprintln(os.Stderr, "(tool round limit reached)")
	}
	return nil
}

func printCouncilEvent(ev council.Event) {
	switch ev.Type {
	case council.EventStart:
		councilColor.Printf("\n⚖ council convened: %s\n", oneLine(ev.UserRequest, 80))
	case council.EventSummoned:
		if ev.Agent != nil {
			councilColor.Printf("  + %s joins", ev.Agent.Name)
			if ev.Reason != "" {
				councilColor.Printf(" (%s)", ev.Reason)
			}
			fmt.Println()
		}
	case council.EventMessage:
		if ev.Message != nil {
			councilColor.Printf("  %s [%s]: %s\n", ev.Message.FromAgentName, ev.Message.Type, oneLine(ev.Message.Content, 100))
		}
	case council.EventStatus:
		councilColor.Printf("  council %s\n", ev.Status)
	}
}

// oneLine flattens s to a single line of at most n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
