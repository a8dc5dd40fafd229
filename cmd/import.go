package main

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadfactory/leadfactory/internal/model"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import businesses from CSV into the inventory",
	Long:  "Reads a CSV with columns id,name,domain,geo_bucket,vert_bucket,campaign_id and upserts the rows by ID. A missing id column gets a generated UUID.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		businesses, err := readBusinessCSV(importCSVPath)
		if err != nil {
			return err
		}
		if len(businesses) == 0 {
			return eris.Errorf("no rows found in %s", importCSVPath)
		}

		lgr, st, err := initStores(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = st.Close()
			_ = lgr.Close()
		}()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate business store")
		}

		n, err := st.Import(ctx, businesses)
		if err != nil {
			return eris.Wrap(err, "import businesses")
		}

		pending, err := st.CountPending(ctx)
		if err != nil {
			return eris.Wrap(err, "count pending")
		}

		zap.L().Info("import complete",
			zap.Int64("imported", n),
			zap.Int("pending_enrichment", pending),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

// readBusinessCSV parses the import file. The header row names the columns;
// order does not matter.
func readBusinessCSV(path string) ([]model.Business, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open csv")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read csv header")
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"name", "geo_bucket", "vert_bucket"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("csv is missing required column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []model.Business
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read csv row")
		}

		b := model.Business{
			ID:         field(row, "id"),
			Name:       field(row, "name"),
			Domain:     field(row, "domain"),
			GeoBucket:  field(row, "geo_bucket"),
			VertBucket: field(row, "vert_bucket"),
			CampaignID: field(row, "campaign_id"),
		}
		if b.Name == "" || b.GeoBucket == "" || b.VertBucket == "" {
			continue
		}
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		out = append(out, b)
	}
	return out, nil
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
