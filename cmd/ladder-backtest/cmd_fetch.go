package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ladder-backtest/services/arrowpipeline"
	"ladder-backtest/services/clickhouse"
	"ladder-backtest/services/engine"
	"ladder-backtest/services/marketdata"
)

// fetchCmd downloads one month of klines from Binance
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download a month of Binance klines",
	Long: `Page /api/v3/klines for one month and save the raw kline columns plus a
readable local time column to CSV. Optionally store the bars in ClickHouse
or write them as an Arrow IPC stream.

Examples:
  ladder-backtest fetch --symbol PEPEUSDT --interval 1h --month 202505
  ladder-backtest fetch --symbol BTCUSDT --month 2024-05 --clickhouse
  ladder-backtest fetch --symbol BTCUSDT --month 202405 --arrow btc.arrow`,
	RunE: runFetch,
}

var (
	fetchSymbol     string
	fetchInterval   string
	fetchMonth      string
	fetchOut        string
	fetchClickHouse bool
	fetchArrow      string
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchSymbol, "symbol", "", "Trading pair, default data.symbol")
	fetchCmd.Flags().StringVar(&fetchInterval, "interval", "", "Kline interval, default data.interval")
	fetchCmd.Flags().StringVar(&fetchMonth, "month", "", "Month to fetch (YYYYMM)")
	fetchCmd.Flags().StringVar(&fetchOut, "out", "", "CSV path, default <symbol>_<interval>_<month>.csv")
	fetchCmd.Flags().BoolVar(&fetchClickHouse, "clickhouse", false, "Also insert the klines into ClickHouse")
	fetchCmd.Flags().StringVar(&fetchArrow, "arrow", "", "Also write the bars to this Arrow IPC file")
	_ = fetchCmd.MarkFlagRequired("month")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appCfg
	symbol := firstNonEmpty(fetchSymbol, cfg.Data.Symbol)
	interval := firstNonEmpty(fetchInterval, cfg.Data.Interval)

	from, to, err := marketdata.MonthRange(fetchMonth)
	if err != nil {
		return err
	}
	engCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	loc := engCfg.Location

	fetcher := marketdata.NewBinanceFetcher(cfg.Binance, loc, logger)
	klines, err := fetcher.FetchRange(ctx, symbol, interval, from, to)
	if err != nil {
		return err
	}
	if len(klines) == 0 {
		return fmt.Errorf("no klines returned for %s %s %s", symbol, interval, fetchMonth)
	}

	out := fetchOut
	if out == "" {
		out = fmt.Sprintf("%s_%s_%s.csv", symbol, interval, from.Format("200601"))
	}
	if err := marketdata.SaveKlinesCSV(out, klines, loc); err != nil {
		return err
	}
	logger.Info("Saved klines", zap.String("path", out), zap.Int("rows", len(klines)))

	if fetchClickHouse {
		store, err := clickhouse.Open(ctx, cfg.ClickHouse, loc, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		if _, err := store.InsertKlines(ctx, symbol, interval, klines); err != nil {
			return err
		}
	}

	if fetchArrow != "" {
		bars, err := marketdata.KlinesToBars(klines, loc)
		if err != nil {
			return err
		}
		if err := writeBarsArrow(fetchArrow, symbol, bars); err != nil {
			return err
		}
		logger.Info("Saved Arrow bars", zap.String("path", fetchArrow))
	}
	return nil
}

func writeBarsArrow(path, symbol string, bars []engine.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := arrowpipeline.NewPipeline(logger).WriteBars(f, symbol, bars); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
