package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/finops/internal/canonical"
	"github.com/telhawk-systems/finops/internal/models"
)

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Read canonical market data",
}

var marketQuoteCmd = &cobra.Command{
	Use:     "quote",
	Short:   "Show the latest stored quote for a symbol",
	Example: `  finops market quote --tenant 6f1c... --symbol aapl`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		tenantID, err := parseID("tenant", tenant)
		if err != nil {
			return err
		}
		symbol, err := symbolFlag(cmd)
		if err != nil {
			return err
		}

		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		quote, err := repo.GetLatestQuote(cmd.Context(), tenantID, symbol)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), quote)
	},
}

var marketTimeseriesCmd = &cobra.Command{
	Use:     "timeseries",
	Short:   "List stored bars for a symbol, newest first",
	Example: `  finops market timeseries --tenant 6f1c... --symbol msft --timeframe 1day --start 2024-01-01`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, err := timeseriesQuery(cmd)
		if err != nil {
			return err
		}

		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		bars, err := repo.ListTimeseries(cmd.Context(), q)
		if err != nil {
			return err
		}
		if bars == nil {
			bars = []models.MarketBar{}
		}
		return printResult(cmd.OutOrStdout(), bars)
	},
}

func symbolFlag(cmd *cobra.Command) (string, error) {
	raw, _ := cmd.Flags().GetString("symbol")
	symbol := canonical.Symbol(raw)
	if symbol == "" {
		return "", fmt.Errorf("--symbol is required")
	}
	if len(symbol) > 16 {
		return "", fmt.Errorf("--symbol must be at most 16 characters")
	}
	return symbol, nil
}

func timeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	ts, err := canonical.Timestamp(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return &ts, nil
}

func timeseriesQuery(cmd *cobra.Command) (models.TimeseriesQuery, error) {
	var q models.TimeseriesQuery
	tenant, _ := cmd.Flags().GetString("tenant")
	tenantID, err := parseID("tenant", tenant)
	if err != nil {
		return q, err
	}
	symbol, err := symbolFlag(cmd)
	if err != nil {
		return q, err
	}
	timeframe, _ := cmd.Flags().GetString("timeframe")
	if timeframe != "" && (len(timeframe) < 2 || len(timeframe) > 16) {
		return q, fmt.Errorf("--timeframe must be 2 to 16 characters")
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 || limit > 1000 {
		return q, fmt.Errorf("--limit must be between 1 and 1000")
	}
	start, err := timeFlag(cmd, "start")
	if err != nil {
		return q, err
	}
	end, err := timeFlag(cmd, "end")
	if err != nil {
		return q, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return q, fmt.Errorf("--end is before --start")
	}

	return models.TimeseriesQuery{
		TenantID:  tenantID,
		Symbol:    symbol,
		Timeframe: timeframe,
		Start:     start,
		End:       end,
		Limit:     limit,
	}, nil
}

func init() {
	rootCmd.AddCommand(marketCmd)
	marketCmd.AddCommand(marketQuoteCmd, marketTimeseriesCmd)

	for _, c := range []*cobra.Command{marketQuoteCmd, marketTimeseriesCmd} {
		c.Flags().String("tenant", "", "tenant ID (UUID)")
		c.Flags().String("symbol", "", "ticker symbol")
	}
	marketTimeseriesCmd.Flags().String("timeframe", "", "bar interval, e.g. 1day or 1h (all when empty)")
	marketTimeseriesCmd.Flags().String("start", "", "earliest bar time, inclusive")
	marketTimeseriesCmd.Flags().String("end", "", "latest bar time, inclusive")
	marketTimeseriesCmd.Flags().Int("limit", 100, "maximum bars to return (1-1000)")
}
