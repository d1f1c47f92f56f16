// Command redressctl evaluates compensation requests locally and prints the
// result envelopes as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/opensource-finance/redress/internal/compensation"
	"github.com/opensource-finance/redress/internal/domain"
	"github.com/opensource-finance/redress/internal/legacy"
	"github.com/opensource-finance/redress/internal/scenario"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// localTenant labels envelopes computed outside the server.
const localTenant = "local"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "redressctl",
		Short:         "Bank compensation calculator",
		Long:          "Evaluates legacy and named-scenario compensation requests without a running server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().String("rules", "", "YAML legacy rule table (default: built-in table)")
	root.PersistentFlags().StringP("format", "f", "envelope", "Output format (envelope, display)")

	root.AddCommand(legacyCmd(), scenarioCmd(), rulesCmd(), scenariosCmd(), versionCmd())
	return root
}

func legacyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "legacy",
		Short: "Evaluate a numeric legacy scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetInt("id")
			txnDate, _ := cmd.Flags().GetString("transaction-date")
			refDate, _ := cmd.Flags().GetString("reference-date")
			amount, _ := cmd.Flags().GetFloat64("amount")

			return calculate(cmd, &domain.CalculationRequest{
				Strategy:        domain.StrategyLegacy,
				ScenarioID:      id,
				TransactionDate: txnDate,
				ReferenceDate:   refDate,
				Amount:          amount,
			})
		},
	}

	cmd.Flags().Int("id", 0, "Scenario id (required)")
	cmd.Flags().String("transaction-date", "", "Transaction date, YYYY-MM-DD (required)")
	cmd.Flags().String("reference-date", "", "Reference date, YYYY-MM-DD (required)")
	cmd.Flags().Float64("amount", 0, "Transaction amount")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("transaction-date")
	_ = cmd.MarkFlagRequired("reference-date")
	return cmd
}

func scenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "scenario",
		Short:   "Evaluate a named scenario from extracted fields",
		Example: "  redressctl scenario --field scenario_type=upi --field transaction_amount=2500 \\\n    --field transaction_date_iso=2026-01-12 --field resolved_date_iso=2026-01-20",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, _ := cmd.Flags().GetStringArray("field")
			fields, err := parseFields(pairs)
			if err != nil {
				return err
			}
			repoRate, _ := cmd.Flags().GetFloat64("repo-rate")
			sbRate, _ := cmd.Flags().GetFloat64("sb-rate")

			return calculate(cmd, &domain.CalculationRequest{
				Strategy:           domain.StrategyScenario,
				Fields:             fields,
				DefaultRepoRate:    repoRate,
				DefaultSavingsRate: sbRate,
			})
		},
	}

	defaults := domain.DefaultConfig().Compensation
	cmd.Flags().StringArray("field", nil, "Extracted field as key=value (repeatable)")
	cmd.Flags().Float64("repo-rate", defaults.DefaultRepoRate, "Default repo rate when the fields carry none")
	cmd.Flags().Float64("sb-rate", defaults.DefaultSavingsRate, "Default savings rate when the fields carry none")
	return cmd
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the legacy rule table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine(cmd)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), engine.Rules())
		},
	}
}

func scenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "Print the named scenarios and their fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), scenario.Scenarios())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "redressctl %s (commit %s, built %s)\n", version, commit, date)
			if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
				fmt.Fprintln(cmd.OutOrStdout(), bi.Main.Path, bi.GoVersion)
			}
		},
	}
}

func calculate(cmd *cobra.Command, req *domain.CalculationRequest) error {
	engine, err := loadEngine(cmd)
	if err != nil {
		return err
	}

	cfg := domain.DefaultConfig().Compensation
	svc := compensation.NewService(cfg, []domain.Strategy{
		compensation.NewLegacyStrategy(engine),
		compensation.NewScenarioStrategy(cfg),
	})

	result, err := svc.Calculate(context.Background(), localTenant, req)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "display":
		return printJSON(cmd.OutOrStdout(), result.ToResponse())
	case "envelope", "":
		return printJSON(cmd.OutOrStdout(), result)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func loadEngine(cmd *cobra.Command) (*legacy.Engine, error) {
	path, _ := cmd.Flags().GetString("rules")
	if path == "" {
		return legacy.NewEngine(nil)
	}
	rules, err := legacy.LoadRulesFile(path)
	if err != nil {
		return nil, err
	}
	return legacy.NewEngine(rules)
}

// parseFields turns key=value pairs into a field map. Later keys win.
func parseFields(pairs []string) (map[string]string, error) {
	fields := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("field %q must be key=value", pair)
		}
		fields[key] = value
	}
	return fields, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
