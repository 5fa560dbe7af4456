package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/perimos/perimos/internal/config"
)

var homeDir string

var rootCmd = &cobra.Command{
	Use:   "perimos",
	Short: "Scoped credential broker and permission boundary for cloud agents",
	Long: "Brokers time-boxed, policy-bounded access to customer cloud accounts on\n" +
		"behalf of automated agents, and records every decision and action in a\n" +
		"tamper-evident, hash-chained audit ledger.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "Override the perimos home directory (default ~/.perimos)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func home() string {
	if homeDir != "" {
		return homeDir
	}
	return config.DefaultDir()
}

func connectionsPath() string { return filepath.Join(home(), "connections.yaml") }
func overridesPath() string   { return filepath.Join(home(), "limits.yaml") }
func ledgerPath() string      { return filepath.Join(home(), "ledger.db") }
func haltsDir() string        { return filepath.Join(home(), "halts") }
