package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perimos/perimos/internal/ledger"
)

var (
	verifyFrom int64
	verifyTo   int64
	tailCount  int
	anchorID   string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditAnchorCmd)
	auditVerifyCmd.Flags().Int64Var(&verifyFrom, "from", 1, "First chain position to verify")
	auditVerifyCmd.Flags().Int64Var(&verifyTo, "to", 0, "Last chain position to verify (0 = chain head)")
	auditTailCmd.Flags().IntVarP(&tailCount, "lines", "n", 10, "Number of recent entries to show")
	auditAnchorCmd.Flags().StringVar(&anchorID, "verify", "", "Verify an existing anchor instead of creating one")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit ledger operations",
	Long:  "Commands for verifying, inspecting, and anchoring the hash-chained audit ledger.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity of a position range",
	Long: "Recomputes every entry hash in the range and validates each link.\n" +
		"Exits 0 if the chain is intact, 1 if a broken link is found.",
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit ledger entries",
	RunE:  runAuditTail,
}

var auditAnchorCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Create or verify an anchor commitment",
	Long: "Without flags, commits the unanchored head of the chain into a new\n" +
		"anchor. With --verify <id>, recomputes an existing anchor's commitment\n" +
		"and reports whether the covered entries are unchanged.",
	RunE: runAuditAnchor,
}

func openLedger(ctx context.Context) (*ledger.Ledger, *ledger.SQLiteStore, error) {
	store, err := ledger.OpenSQLite(ledgerPath())
	if err != nil {
		return nil, nil, err
	}
	led, err := ledger.Open(ctx, store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return led, store, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	led, store, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := led.VerifyChain(ctx, verifyFrom, verifyTo)
	if err != nil {
		return err
	}
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Checked)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at position %d: %s\n", result.BrokenAt, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	led, store, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	head := led.Position()
	from := head - int64(tailCount) + 1
	if from < 1 {
		from = 1
	}

	entries, err := led.Query(ctx, ledger.Filter{FromPosition: from, ToPosition: head, Limit: tailCount})
	if err != nil {
		return err
	}
	for i := range entries {
		out, err := json.MarshalIndent(&entries[i], "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}

func runAuditAnchor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	led, store, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if anchorID != "" {
		result, err := led.VerifyAnchor(ctx, anchorID)
		if err != nil {
			return err
		}
		if result.Valid {
			fmt.Printf("OK: anchor %s verified\n", anchorID)
			return nil
		}
		fmt.Fprintf(os.Stderr, "FAILED: %s\n", result.Reason)
		os.Exit(1)
		return nil
	}

	anchor, err := led.CreateAnchor(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("anchor %s covers positions %d-%d\n", anchor.ID, anchor.FromPosition, anchor.ToPosition)
	fmt.Printf("commitment: %s\n", anchor.Hash)
	return nil
}
