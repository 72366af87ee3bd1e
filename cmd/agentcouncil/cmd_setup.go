package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/agentcouncil/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("agentcouncil setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.BaseURL = prompt(scanner, "Model gateway base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "Model gateway API key", cfg.LLM.APIKey)
		cfg.LLM.Model = prompt(scanner, "Model name", cfg.LLM.Model)
		if n, err := strconv.Atoi(prompt(scanner, "Max output tokens", strconv.Itoa(cfg.LLM.MaxTokens))); err == nil {
			cfg.LLM.MaxTokens = n
		}
		cfg.DefaultAgent = prompt(scanner, "Default agent", cfg.DefaultAgent)
		cfg.HTTPAddr = prompt(scanner, "HTTP listen address", cfg.HTTPAddr)
		cfg.Firecrawl.APIKey = prompt(scanner, "Firecrawl API key (optional)", cfg.Firecrawl.APIKey)
		cfg.Brave.APIKey = prompt(scanner, "Brave API key (optional)", cfg.Brave.APIKey)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		if _, err := config.LoadRoster(cfg.RosterPath(), cfg.LLM.Model); err != nil {
			return fmt.Errorf("write agent roster: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		fmt.Println("Agents are defined in", cfg.RosterPath())
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
