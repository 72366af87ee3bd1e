package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/user/agentcouncil/internal/config"
	"github.com/user/agentcouncil/internal/types"
)

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentListCmd, agentShowCmd)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect the agent roster",
}

func loadRoster() (*config.Config, *config.Roster, error) {
	cfg := loadConfig()
	roster, err := config.LoadRoster(cfg.RosterPath(), cfg.LLM.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("load agents: %w", err)
	}
	return cfg, roster, nil
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, roster, err := loadRoster()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tMODEL\tDESCRIPTION")
		for _, a := range roster.Agents() {
			id := string(a.ID)
			if id == cfg.DefaultAgent {
				id += " *"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, a.Name, a.Model, oneLine(a.Description, 60))
		}
		return w.Flush()
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show an agent's persona",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, roster, err := loadRoster()
		if err != nil {
			return err
		}
		a, ok := roster.Resolve(args[0])
		if !ok {
			return types.NotFound("agent", args[0])
		}
		bold := color.New(color.Bold).SprintFunc()
		fmt.Printf("%s (%s)\n", bold(a.Name), a.ID)
		if a.Description != "" {
			fmt.Println(a.Description)
		}
		fmt.Printf("model: %s\n\n%s\n", a.Model, a.SystemPrompt)
		return nil
	},
}
