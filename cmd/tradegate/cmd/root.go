package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tradegate",
	Short: "Order routing service with risk checks and a durable trade ledger",
	Long: `Tradegate routes execution intents to venue adapters.

Every submission passes a configurable chain of risk rules before it
reaches a venue, duplicate submissions are deduplicated by idempotency
key, and every order's lifecycle is recorded in a SQLite ledger that can
be queried over HTTP or exported to Parquet.`,
	SilenceUsage: true,
}

var cfgPath string

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultPath := "config/tradegate.yaml"
	if p := os.Getenv("TRADEGATE_CONFIG"); p != "" {
		defaultPath = p
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "f", defaultPath, "path to YAML config file")
}
