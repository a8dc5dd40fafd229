package main

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/leadfactory/leadfactory/internal/model"
)

var budgetCmd = &cobra.Command{
	Use:   "budget [period]",
	Short: "Show remaining spend headroom per provider",
	Long:  "Shows how much budget is left under each configured limit for the given period (hourly, daily, weekly, monthly, total). Defaults to daily.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		period := model.PeriodDaily
		if len(args) == 1 {
			period = model.LimitPeriod(args[0])
			if !model.ValidPeriod(period) {
				return eris.Errorf("unknown period %q", args[0])
			}
		}

		env, err := initCore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		remaining, err := env.Guard.RemainingBudget(ctx, period)
		if err != nil {
			return eris.Wrap(err, "remaining budget")
		}
		if len(remaining) == 0 {
			fmt.Printf("no %s limits configured\n", period)
			return nil
		}

		keys := make([]string, 0, len(remaining))
		for k := range remaining {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Printf("remaining %s budget:\n", period)
		for _, k := range keys {
			fmt.Printf("  %-12s $%.2f\n", k, remaining[k])
		}

		fmt.Println("\nconfigured limits:")
		for _, l := range env.Guard.Limits() {
			status := "enabled"
			if !l.Enabled {
				status = "disabled"
			}
			fmt.Printf("  %-20s %-8s %-18s $%.2f  %s\n",
				l.Name, l.Period, l.Scope, l.LimitUSD, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(budgetCmd)
}
