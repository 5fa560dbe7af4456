package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perimos/perimos/internal/catalog"
)

var limitsFormat string

func init() {
	rootCmd.AddCommand(limitsCmd)
	limitsCmd.Flags().StringVarP(&limitsFormat, "format", "f", "text", "Output format (text|json)")
}

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show the active hard-limit table and policy catalog",
	Long: "Prints the hard limits (with deployment overrides applied), the\n" +
		"supported services with their allow-lists, and the banned-action set.\n" +
		"Read-only operational surface; nothing here is enforced by this command.",
	RunE: runLimits,
}

func runLimits(cmd *cobra.Command, args []string) error {
	limits, err := loadLimits()
	if err != nil {
		return err
	}

	if limitsFormat == "json" {
		payload := map[string]any{
			"limits":         limits,
			"banned_actions": catalog.BannedActions(),
			"services":       catalog.Services(),
			"risk_patterns":  catalog.RiskPatterns(),
		}
		out, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println("Hard limits:")
	fmt.Printf("  max cost per operation:      $%.2f\n", limits.MaxCostPerOperation)
	fmt.Printf("  max resources per operation: %d\n", limits.MaxResourcesPerOperation)
	fmt.Printf("  max instance size:           %s\n", limits.MaxInstanceSize)
	fmt.Printf("  global rate per hour:        %d\n", limits.GlobalRatePerHour)
	fmt.Printf("  customer rate per hour:      %d\n", limits.CustomerRatePerHour)
	fmt.Printf("  max session duration:        %s\n", limits.MaxSessionDuration)

	fmt.Println("\nServices:")
	for _, svc := range catalog.Services() {
		fmt.Printf("  %-11s %s\n", svc, strings.Join(catalog.AllowedActions(svc), ", "))
	}

	fmt.Println("\nBanned actions (cannot be overridden):")
	for _, p := range catalog.BannedActions() {
		fmt.Printf("  %s\n", p)
	}
	return nil
}
