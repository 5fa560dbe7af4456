package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/perimos/perimos/internal/killswitch"
)

var (
	haltReason     string
	haltCustomer   string
	haltConnection string
	haltDuration   time.Duration
)

func init() {
	rootCmd.AddCommand(haltCmd)
	haltCmd.AddCommand(haltCreateCmd)
	haltCmd.AddCommand(haltListCmd)
	haltCmd.AddCommand(haltRevokeCmd)
	haltCmd.AddCommand(haltCleanupCmd)
	haltCreateCmd.Flags().StringVar(&haltReason, "reason", "", "Why issuance is being halted (required)")
	haltCreateCmd.Flags().StringVar(&haltCustomer, "customer", "", "Limit the halt to one customer")
	haltCreateCmd.Flags().StringVar(&haltConnection, "connection", "", "Limit the halt to one connection")
	haltCreateCmd.Flags().DurationVar(&haltDuration, "duration", killswitch.DefaultDuration, "How long the halt stays active")
	haltCreateCmd.MarkFlagRequired("reason")
}

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Manage kill-switch halt orders",
	Long: "Halt orders stop credential issuance before it happens. An active halt\n" +
		"covering a connection denies every exchange for it; a halt with no scope\n" +
		"stops all issuance. Already-issued credentials are NOT revoked — they\n" +
		"remain valid with the provider until natural expiry.",
}

var haltCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a halt order",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := killswitch.NewHaltStore(haltsDir())
		if err != nil {
			return err
		}
		halt, err := store.Create(haltReason, haltCustomer, haltConnection, haltDuration)
		if err != nil {
			return err
		}
		fmt.Printf("halt %s active until %s\n", halt.ID, halt.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var haltListCmd = &cobra.Command{
	Use:   "list",
	Short: "List halt orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := killswitch.NewHaltStore(haltsDir())
		if err != nil {
			return err
		}
		halts, err := store.List()
		if err != nil {
			return err
		}
		if len(halts) == 0 {
			fmt.Println("no halt orders")
			return nil
		}
		now := time.Now().UTC()
		for i := range halts {
			h := &halts[i]
			state := "expired"
			if h.RevokedAt != nil {
				state = "revoked"
			} else if h.IsActive(now) {
				state = "active"
			}
			scope := "all issuance"
			if h.ConnectionID != "" {
				scope = "connection " + h.ConnectionID
			} else if h.CustomerID != "" {
				scope = "customer " + h.CustomerID
			}
			fmt.Printf("%-22s %-8s %-26s %s\n", h.ID, state, scope, h.Reason)
		}
		return nil
	},
}

var haltRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke a halt order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := killswitch.NewHaltStore(haltsDir())
		if err != nil {
			return err
		}
		if err := store.Revoke(args[0]); err != nil {
			return err
		}
		fmt.Printf("halt %s revoked\n", args[0])
		return nil
	},
}

var haltCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired and revoked halt orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := killswitch.NewHaltStore(haltsDir())
		if err != nil {
			return err
		}
		return store.Cleanup()
	},
}
