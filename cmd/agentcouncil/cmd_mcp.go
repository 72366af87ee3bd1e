package main

import (
	"github.com/spf13/cobra"

	"github.com/user/agentcouncil/internal/mcpserver"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("agent", "", "agent whose memories and tasks the tools act on (default: default_agent)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the agent tools over MCP on stdin/stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		svc, err := newServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		agent, err := resolveAgent(cmd, svc, cfg.DefaultAgent)
		if err != nil {
			return err
		}
		return mcpserver.ServeStdio(mcpserver.New(svc.registry, agent.ID))
	},
}
