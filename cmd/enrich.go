package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadfactory/leadfactory/internal/bucket"
	"github.com/leadfactory/leadfactory/internal/model"
)

var (
	enrichBudget      float64
	enrichMaxBuckets  int
	enrichConcurrency int
	enrichStrategies  string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run one bucket enrichment pass",
	Long:  "Discovers pending business segments, orders them by strategy priority, and enriches them through the gated providers until the work or the budget runs out.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if enrichStrategies != "" {
			cfg.Enrich.StrategiesFile = enrichStrategies
		}

		env, err := initEnrich(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		flowCfg := bucket.FlowConfig{
			BudgetUSD:       cfg.Enrich.BudgetUSD,
			MaxBuckets:      cfg.Enrich.MaxBuckets,
			Concurrency:     cfg.Enrich.Concurrency,
			DiscoveryWindow: cfg.Enrich.DiscoveryWindow,
		}
		if cmd.Flags().Changed("budget") {
			flowCfg.BudgetUSD = enrichBudget
		}
		if cmd.Flags().Changed("max-buckets") {
			flowCfg.MaxBuckets = enrichMaxBuckets
		}
		if cmd.Flags().Changed("concurrency") {
			flowCfg.Concurrency = enrichConcurrency
		}

		flow := bucket.NewFlow(env.Store, env.Gateway, env.Sources, env.Book, flowCfg)

		summary, err := flow.Run(ctx)
		if err != nil {
			if summary != nil {
				printSummary(summary)
			}
			return eris.Wrap(err, "enrichment run")
		}

		printSummary(summary)
		return nil
	},
}

func printSummary(s *model.FlowSummary) {
	fmt.Printf("Enrichment run finished (%s)\n", s.StopReason)
	fmt.Printf("  buckets:   %d\n", s.BucketsProcessed)
	fmt.Printf("  processed: %d (enriched %d, failed %d)\n", s.TotalProcessed, s.TotalEnriched, s.TotalFailed)
	if s.BudgetUSD > 0 {
		fmt.Printf("  cost:      $%.2f of $%.2f budget\n", s.TotalCostUSD, s.BudgetUSD)
	} else {
		fmt.Printf("  cost:      $%.2f\n", s.TotalCostUSD)
	}
	fmt.Printf("  success:   %.0f%%\n", s.AverageSuccessRate*100)
	fmt.Printf("  elapsed:   %s\n", s.Elapsed.Round(time.Millisecond))

	for _, b := range s.Buckets {
		fmt.Printf("  %-24s %-7s enriched %d/%d  $%.2f\n",
			b.Key, b.Priority, b.Enriched, b.Processed, b.CostUSD)
		for _, e := range b.Errors {
			zap.L().Debug("bucket error",
				zap.String("bucket", b.Key),
				zap.String("business_id", e.BusinessID),
				zap.String("source", e.Source),
				zap.String("message", e.Message),
			)
		}
	}
}

func init() {
	enrichCmd.Flags().Float64Var(&enrichBudget, "budget", 0, "run budget in USD (0 = no cap)")
	enrichCmd.Flags().IntVar(&enrichMaxBuckets, "max-buckets", 0, "max buckets to process (0 = all)")
	enrichCmd.Flags().IntVar(&enrichConcurrency, "concurrency", 0, "in-flight enrichments per bucket")
	enrichCmd.Flags().StringVar(&enrichStrategies, "strategies", "", "path to bucket strategies YAML")
	rootCmd.AddCommand(enrichCmd)
}
