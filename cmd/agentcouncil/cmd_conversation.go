package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/user/agentcouncil/internal/council"
	"github.com/user/agentcouncil/internal/types"
)

func init() {
	rootCmd.AddCommand(conversationCmd)
	conversationCmd.AddCommand(conversationListCmd, conversationShowCmd, conversationCouncilCmd, conversationWatchCmd)
	conversationListCmd.Flags().Int("limit", 20, "maximum conversations to show")
	conversationShowCmd.Flags().Int("limit", 50, "maximum messages to show")
	conversationWatchCmd.Flags().String("server", "", "daemon URL (default: derived from http_addr)")
}

var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"conv"},
	Short:   "Browse conversations and their councils",
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newServices(loadConfig())
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")
		convs, err := svc.conversations.List(ctx, limit)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tAGENT\tMESSAGES\tUPDATED\tTITLE")
		for _, c := range convs {
			count, err := svc.conversations.Count(ctx, c.ID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", c.ID, c.AgentID, count, humanize.Time(c.UpdatedAt), c.Title)
		}
		return w.Flush()
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newServices(loadConfig())
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx := cmd.Context()
		id := types.ConversationID(args[0])
		conv, err := svc.conversations.Get(ctx, id)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		msgs, err := svc.conversations.Recent(ctx, id, limit)
		if err != nil {
			return err
		}
		agentColor.Printf("%s\n", conv.Title)
		fmt.Printf("agent %s, started %s\n\n", conv.AgentID, humanize.Time(conv.CreatedAt))
		for _, m := range msgs {
			switch m.Role {
			case types.RoleUser:
				fmt.Printf("> %s\n\n", m.Content)
			case types.RoleSystem:
				toolColor.Printf("%s\n\n", oneLine(m.Content, 160))
			default:
				name := string(m.AgentID)
				if a, ok := svc.roster.Lookup(m.AgentID); ok {
					name = a.Name
				}
				agentColor.Printf("%s: ", name)
				fmt.Printf("%s\n\n", m.Content)
			}
		}
		return nil
	},
}

var conversationCouncilCmd = &cobra.Command{
	Use:   "council <id>",
	Short: "Show the latest council held in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		svc, err := newServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx := cmd.Context()
		sess, err := svc.councils.LatestSession(ctx, types.ConversationID(args[0]))
		var nf *types.NotFoundError
		if errors.As(err, &nf) {
			fmt.Println("No council has been held in this conversation.")
			return nil
		}
		if err != nil {
			return err
		}
		msgs, err := svc.councils.Messages(ctx, sess.ID)
		if err != nil {
			return err
		}

		tl := council.NewTimeline(speakingWindow(cfg.Council.SpeakingWindowMS))
		for _, ev := range replay(sess, msgs, svc.roster.Lookup) {
			tl.Apply(ev)
		}
		renderTimeline(os.Stdout, tl)
		return nil
	},
}

var conversationWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Follow a conversation's councils live",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = serverURL(cfg.HTTPAddr)
		}
		tl := council.NewTimeline(speakingWindow(cfg.Council.SpeakingWindowMS))
		fmt.Println("Watching for council activity. Press Ctrl-C to stop.")
		return newAPIClient(server).WatchCouncil(cmd.Context(), args[0], func(ev council.Event) {
			if !tl.Apply(ev) {
				return
			}
			printCouncilEvent(ev)
			if speaker, ok := tl.Speaker(); ok {
				councilColor.Printf("  (%s is speaking)\n", speaker)
			}
			if tl.Status() == types.CouncilConcluded && tl.Synthesis() != "" {
				agentColor.Println("\nSynthesis:")
				fmt.Println(tl.Synthesis())
			}
		})
	},
}

func speakingWindow(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// replay rebuilds the change feed of a stored council session.
func replay(sess *types.CouncilSession, msgs []*types.CouncilMessage, lookup func(types.AgentID) (*types.Agent, bool)) []council.Event {
	view := func(id types.AgentID) *types.CouncilAgent {
		if a, ok := lookup(id); ok {
			return council.AgentView(a)
		}
		return &types.CouncilAgent{ID: id, Name: string(id)}
	}
	base := council.Event{SessionID: sess.ID, ConversationID: sess.ConversationID}

	start := base
	start.Type = council.EventStart
	start.Agent = view(sess.LeadAgentID)
	start.UserRequest = sess.UserRequest
	start.At = sess.CreatedAt
	events := []council.Event{start}

	for _, m := range msgs {
		ev := base
		ev.Type = council.EventMessage
		ev.Message = m
		ev.At = m.CreatedAt
		events = append(events, ev)
	}

	if sess.Status == types.CouncilDeliberating || sess.Status == types.CouncilConcluded {
		ev := base
		ev.Type = council.EventStatus
		ev.Status = sess.Status
		ev.Synthesis = sess.FinalSynthesis
		events = append(events, ev)
	}
	return events
}

func renderTimeline(w io.Writer, tl *council.Timeline) {
	fmt.Fprintf(w, "Council %s (%s)\n", tl.SessionID(), tl.Status())
	fmt.Fprintf(w, "Request: %s\n\nMembers:\n", tl.UserRequest())
	for _, a := range tl.Agents() {
		marker := " "
		if a.IsSpeaking {
			marker = "▶"
		}
		fmt.Fprintf(w, " %s %s\n", marker, a.Name)
	}
	fmt.Fprintln(w, "\nMessages:")
	for _, m := range tl.Messages() {
		to := ""
		if m.ToAgentName != "" {
			to = " → " + m.ToAgentName
		}
		fmt.Fprintf(w, "  %s%s [%s]: %s\n", m.FromAgentName, to, m.Type, oneLine(m.Content, 200))
	}
	if s := tl.Synthesis(); s != "" {
		fmt.Fprintf(w, "\nSynthesis:\n%s\n", s)
	}
}
