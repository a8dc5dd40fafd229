package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		lgr, st, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = st.Close()
			_ = lgr.Close()
		}()

		if err := lgr.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate ledger")
		}
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate business store")
		}

		zap.L().Info("migrations complete", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
