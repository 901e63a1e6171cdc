package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/finops/common/logging"
	"github.com/telhawk-systems/finops/internal/config"
)

var (
	cfgFile      string
	outputFormat string
	cfg          *config.Config
	logger       *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "finops",
	Short: "Financial data ingestion and evidence runtime",
	Long: `finops ingests news and market data from external providers into tenant
scoped canonical records, and runs auditable, replayable analysis over the
ingested evidence.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/finops/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "output format: json, yaml")
}

func initConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded

	// Logs go to stderr so command output stays parseable.
	l := logging.NewWithWriter(os.Stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service("finops"))
	logging.SetDefault(l)
	logger = l.Logger
	return nil
}
