package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/perimos/perimos/internal/broker"
	"github.com/perimos/perimos/internal/config"
	"github.com/perimos/perimos/internal/killswitch"
)

var (
	grantConnection string
	grantPlan       string
)

func init() {
	rootCmd.AddCommand(grantCmd)
	grantCmd.Flags().StringVar(&grantConnection, "connection", "", "Connection id from the registry (required)")
	grantCmd.Flags().StringVar(&grantPlan, "plan", "", "Execution plan id for cache scoping")
	grantCmd.MarkFlagRequired("connection")
}

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Exchange a connection's trust for short-lived session credentials",
	Long: "Runs the full issuance path — kill switch, circuit breaker, cache,\n" +
		"STS exchange — and prints the session label and expiry. Secret values\n" +
		"are never printed.",
	RunE: runGrant,
}

func runGrant(cmd *cobra.Command, args []string) error {
	registry, err := config.LoadRegistry(connectionsPath())
	if err != nil {
		return err
	}
	conn := registry.Get(grantConnection)
	if conn == nil {
		return fmt.Errorf("connection %q not found in %s", grantConnection, connectionsPath())
	}

	halts, err := killswitch.NewHaltStore(haltsDir())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	br, err := broker.NewFromConfig(ctx, halts, broker.Options{})
	if err != nil {
		return err
	}

	grant, err := br.AssumeRole(ctx, conn, grantPlan)
	if err != nil {
		return err
	}

	source := "exchange"
	if grant.FromCache {
		source = "cache"
	}
	fmt.Printf("granted: %s\n", grant.Credentials.Redacted())
	if grant.SessionLabel != "" {
		fmt.Printf("session: %s\n", grant.SessionLabel)
	}
	fmt.Printf("source:  %s (latency %s)\n", source, grant.Latency)
	return nil
}
