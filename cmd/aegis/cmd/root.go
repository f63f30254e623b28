// Package cmd provides the CLI commands for Aegis Moderation.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hmcelik/aegis-moderation/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Aegis - chat moderation processing core",
	Long: `Aegis is the moderation processing core for multi-tenant group chats.

It consumes messages from an ingress collaborator, routes them through a
sharded queue, evaluates rule-based and AI-assisted verdicts under per-tenant
budgets, and dispatches enforcement actions through a durable outbox.

Quick start:
  1. Create a config file: aegis.yaml
  2. Run: aegis run

Configuration:
  Config is loaded from aegis.yaml in the current directory, $HOME/.aegis/,
  or /etc/aegis/.

  Environment variables can override config values with the AEGIS_ prefix.
  Example: AEGIS_PLATFORM_BOT_TOKEN=123:abc

Commands:
  run         Start the moderation core
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./aegis.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
