package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fabingest/internal/classify"
	"fabingest/internal/config"
	"fabingest/internal/logging"
)

func newRulesCommand(ctx *commandContext) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect classification rules",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the well-formed rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := rulesEngine(ctx)
			if err != nil {
				return err
			}
			rules := engine.Rules()
			out := cmd.OutOrStdout()
			if len(rules) == 0 {
				fmt.Fprintln(out, "No classification rules configured")
				return nil
			}
			rows := make([][]string, 0, len(rules))
			for _, rule := range rules {
				rows = append(rows, []string{strconv.Itoa(rule.Order + 1), rule.Pattern, rule.Destination})
			}
			fmt.Fprintln(out, renderTable([]string{"#", "Pattern", "Destination"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft}))
			return nil
		},
	}

	testCmd := &cobra.Command{
		Use:   "test <file>...",
		Short: "Show which rule would classify each file name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := rulesEngine(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(args))
			for _, name := range args {
				switch rule, ok := engine.Test(name); {
				case engine.Excluded(name):
					rows = append(rows, []string{name, "-", "excluded folder"})
				case ok:
					rows = append(rows, []string{name, rule.Pattern, rule.Destination})
				default:
					rows = append(rows, []string{name, "-", "no match (skipped)"})
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"File", "Rule", "Destination"}, rows, nil))
			return nil
		},
	}

	rulesCmd.AddCommand(listCmd, testCmd)
	return rulesCmd
}

func rulesEngine(ctx *commandContext) (*classify.Engine, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return newRulesEngine(cfg), nil
}

func newRulesEngine(cfg *config.Config) *classify.Engine {
	return classify.New(classify.Options{
		Rules:          cfg.Classify.Rules,
		Exclude:        cfg.Watch.Exclude,
		CopyAttempts:   cfg.Classify.CopyAttempts,
		CopyRetryDelay: cfg.CopyRetryDelay(),
		Logger:         logging.NewNop(),
	})
}
