package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/user/agentcouncil/internal/types"
)

func init() {
	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryAddCmd, memorySearchCmd)
	memoryCmd.PersistentFlags().String("agent", "", "agent the memories belong to (default: default_agent)")

	memoryAddCmd.Flags().String("type", types.MemoryShortTerm, "memory type")
	memoryAddCmd.Flags().Float64("importance", 0.5, "importance between 0 and 1")
	memorySearchCmd.Flags().Int("limit", 10, "maximum memories to show")
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and seed agent memories",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Store a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		svc, err := newServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		agent, err := resolveAgent(cmd, svc, cfg.DefaultAgent)
		if err != nil {
			return err
		}
		kind, _ := cmd.Flags().GetString("type")
		importance, _ := cmd.Flags().GetFloat64("importance")
		rec := &types.MemoryRecord{AgentID: agent.ID, Content: args[0], Type: kind, Importance: importance}
		if err := svc.memories.Add(cmd.Context(), rec); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Memory %s stored for %s.\n", rec.ID, agent.Name)
		return nil
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "List memories, most important first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		svc, err := newServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		agent, err := resolveAgent(cmd, svc, cfg.DefaultAgent)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		q := types.MemoryQuery{AgentID: agent.ID, Limit: limit}
		if len(args) == 1 {
			q.Contains = args[0]
		}
		recs, err := svc.memories.Query(cmd.Context(), q)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No memories found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IMPORTANCE\tTYPE\tSTORED\tCONTENT")
		for _, r := range recs {
			fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\n", r.Importance, r.Type, humanize.Time(r.CreatedAt), oneLine(r.Content, 80))
		}
		return w.Flush()
	},
}

// resolveAgent returns the agent named by --agent, or fallback.
func resolveAgent(cmd *cobra.Command, svc *services, fallback string) (*types.Agent, error) {
	name, _ := cmd.Flags().GetString("agent")
	if name == "" {
		name = fallback
	}
	a, ok := svc.roster.Resolve(name)
	if !ok {
		return nil, types.NotFound("agent", name)
	}
	return a, nil
}
