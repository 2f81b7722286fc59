package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tradegate/internal/archive"
	"tradegate/internal/ledger"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the order ledger to Parquet files",
	Long: `Export writes a dated Parquet snapshot of orders, fills, and
executions from the ledger into <data_dir>/archive/<date>/.`,
	RunE: runExport,
}

var (
	exportAccount string
	exportSymbol  string
	exportTag     string
	exportFrom    string
	exportTo      string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportAccount, "account", "", "filter by account id")
	exportCmd.Flags().StringVar(&exportSymbol, "symbol", "", "filter by symbol")
	exportCmd.Flags().StringVar(&exportTag, "tag", "", "filter by tag")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "only orders created at or after this RFC3339 time")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "only orders created at or before this RFC3339 time")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := ledger.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer store.Close()

	f := ledger.Filter{
		AccountID: exportAccount,
		Symbol:    exportSymbol,
		Tag:       exportTag,
	}
	if exportFrom != "" {
		t, err := time.Parse(time.RFC3339, exportFrom)
		if err != nil {
			return fmt.Errorf("parsing --from: %w", err)
		}
		f.From = t
	}
	if exportTo != "" {
		t, err := time.Parse(time.RFC3339, exportTo)
		if err != nil {
			return fmt.Errorf("parsing --to: %w", err)
		}
		f.To = t
	}

	exporter := archive.NewExporter(cfg.Storage.DataDir)
	dir, err := exporter.Export(cmd.Context(), store, f, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("exported ledger snapshot to %s\n", dir)
	return nil
}
