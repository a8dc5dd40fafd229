package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadfactory/leadfactory/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leadfactory",
	Short: "Cost-guarded lead enrichment pipeline",
	Long:  "Enriches lead buckets through external data providers behind rate limits, circuit breakers, and spending guardrails, with every billable call recorded in a cost ledger.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
