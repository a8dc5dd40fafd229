package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	costsProviderDays int
	costsAggregateDay string
	costsCleanupDays  int
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Inspect and maintain the cost ledger",
}

var costsProviderCmd = &cobra.Command{
	Use:   "provider <name>",
	Short: "Show spend for one provider over a trailing window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initCore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		costs, err := env.Ledger.ProviderCosts(ctx, args[0], costsProviderDays)
		if err != nil {
			return eris.Wrap(err, "provider costs")
		}

		fmt.Printf("%s spend, last %d days: $%.2f over %d requests\n",
			costs.Provider, costs.Days, costs.TotalCostUSD, costs.RequestCount)
		for _, op := range costs.ByOperation {
			fmt.Printf("  %-20s $%.2f  (%d requests)\n", op.Operation, op.TotalCostUSD, op.RequestCount)
		}
		return nil
	},
}

var costsCampaignCmd = &cobra.Command{
	Use:   "campaign <id>",
	Short: "Show all spend attributed to one campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initCore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		costs, err := env.Ledger.CampaignCosts(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "campaign costs")
		}

		fmt.Printf("campaign %s: $%.2f over %d requests\n",
			costs.CampaignID, costs.TotalCostUSD, costs.RequestCount)
		for _, row := range costs.Breakdown {
			fmt.Printf("  %s/%s  $%.2f  (%d requests)\n",
				row.Provider, row.Operation, row.TotalCostUSD, row.RequestCount)
		}
		return nil
	},
}

var costsAggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute daily rollups from raw cost records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		day := time.Now().UTC().AddDate(0, 0, -1)
		if costsAggregateDay != "" {
			parsed, err := time.Parse("2006-01-02", costsAggregateDay)
			if err != nil {
				return eris.Wrapf(err, "parse day %q", costsAggregateDay)
			}
			day = parsed
		}

		env, err := initCore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Ledger.AggregateDaily(ctx, day)
		if err != nil {
			return eris.Wrap(err, "aggregate daily")
		}

		zap.L().Info("daily aggregation complete",
			zap.String("day", day.Format("2006-01-02")),
			zap.Int64("rows", n),
		)
		return nil
	},
}

var costsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete raw cost records past the retention window",
	Long:  "Deletes raw cost records older than the retention window. Daily aggregates are kept forever.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		days := cfg.Ledger.RetentionDays
		if cmd.Flags().Changed("days") {
			days = costsCleanupDays
		}

		env, err := initCore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Ledger.Cleanup(ctx, days)
		if err != nil {
			return eris.Wrap(err, "cleanup")
		}

		zap.L().Info("ledger cleanup complete",
			zap.Int("retention_days", days),
			zap.Int64("deleted", n),
		)
		return nil
	},
}

func init() {
	costsProviderCmd.Flags().IntVar(&costsProviderDays, "days", 30, "trailing window in days")
	costsAggregateCmd.Flags().StringVar(&costsAggregateDay, "day", "", "UTC day to aggregate, YYYY-MM-DD (default yesterday)")
	costsCleanupCmd.Flags().IntVar(&costsCleanupDays, "days", 0, "retention in days (default from config)")

	costsCmd.AddCommand(costsProviderCmd, costsCampaignCmd, costsAggregateCmd, costsCleanupCmd)
	rootCmd.AddCommand(costsCmd)
}
