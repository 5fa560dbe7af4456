package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/perimos/perimos/internal/boundary"
	"github.com/perimos/perimos/internal/catalog"
	"github.com/perimos/perimos/internal/config"
	"github.com/perimos/perimos/internal/model"
	"github.com/perimos/perimos/internal/ratelimit"
)

var (
	checkConnection string
	checkService    string
	checkAction     string
	checkRegion     string
	checkCost       float64
	checkResources  []string
	checkInstance   string
	checkFormat     string
	checkWatch      bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkConnection, "connection", "", "Connection id from the registry (required)")
	checkCmd.Flags().StringVar(&checkService, "service", "", "Service name, e.g. ec2 (required)")
	checkCmd.Flags().StringVar(&checkAction, "action", "", "Action name, e.g. DescribeInstances (required)")
	checkCmd.Flags().StringVar(&checkRegion, "region", "", "Target region")
	checkCmd.Flags().Float64Var(&checkCost, "cost", 0, "Estimated cost in USD")
	checkCmd.Flags().StringSliceVar(&checkResources, "resources", nil, "Target resource identifiers")
	checkCmd.Flags().StringVar(&checkInstance, "instance-type", "", "Requested instance type, e.g. t3.large")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.Flags().BoolVarP(&checkWatch, "watch", "w", false, "Re-evaluate whenever the connections file changes")
	checkCmd.MarkFlagRequired("connection")
	checkCmd.MarkFlagRequired("service")
	checkCmd.MarkFlagRequired("action")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate an action against the permission boundary",
	Long: "Runs the full ordered boundary evaluation for one action request and\n" +
		"prints the verdict. Exit code 0 if allowed, 1 if denied.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	result, err := evaluateCheck()
	if err != nil {
		return err
	}

	if !checkWatch {
		if !result.Allowed {
			os.Exit(1)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := config.NewWatcher(connectionsPath(), func() {
		if _, err := evaluateCheck(); err != nil {
			fmt.Fprintf(os.Stderr, "check: reload: %v\n", err)
		}
	})
	return w.Run(ctx)
}

func evaluateCheck() (model.ValidationResult, error) {
	registry, err := config.LoadRegistry(connectionsPath())
	if err != nil {
		return model.ValidationResult{}, err
	}
	conn := registry.Get(checkConnection)
	if conn == nil {
		return model.ValidationResult{}, fmt.Errorf("connection %q not found in %s", checkConnection, connectionsPath())
	}

	limits, err := loadLimits()
	if err != nil {
		return model.ValidationResult{}, err
	}

	limiter := ratelimit.New(limits.GlobalRatePerHour, limits.CustomerRatePerHour)
	b := boundary.New(limits, limiter)

	req := &model.ActionRequest{
		Service:   checkService,
		Action:    checkAction,
		Region:    checkRegion,
		Resources: checkResources,
	}
	if checkCost > 0 {
		req.EstimatedCost = &checkCost
	}
	if checkInstance != "" {
		req.Params = map[string]any{"instance_type": checkInstance}
	}

	result := b.Validate(req, conn)

	switch checkFormat {
	case "json":
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return result, err
		}
		fmt.Println(string(out))
	default:
		printVerdict(req, result)
	}
	return result, nil
}

func printVerdict(req *model.ActionRequest, result model.ValidationResult) {
	if result.Allowed {
		fmt.Printf("ALLOW %s (risk %s)\n", req.Key(), result.Risk)
	} else {
		fmt.Printf("DENY  %s (risk %s, check %s)\n", req.Key(), result.Risk, result.DeniedBy)
		fmt.Printf("      %s\n", result.Reason)
	}
	for _, w := range result.Warnings {
		fmt.Printf("warn: %s\n", w)
	}
	for _, s := range result.Suggestions {
		fmt.Printf("hint: %s\n", s)
	}
}

func loadLimits() (catalog.HardLimits, error) {
	limits := catalog.DefaultLimits()
	overrides, err := catalog.LoadOverrides(overridesPath())
	if err != nil {
		return limits, err
	}
	return overrides.Apply(limits)
}
