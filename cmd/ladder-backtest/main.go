package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ladder-backtest/services/clickhouse"
	"ladder-backtest/services/config"
	"ladder-backtest/services/engine"
	"ladder-backtest/services/logging"
	"ladder-backtest/services/marketdata"
	"ladder-backtest/services/tracing"
)

var (
	configPath string
	logLevel   string

	appCfg *config.Config
	logger *zap.Logger
)

// rootCmd is the base command for the ladder backtester
var rootCmd = &cobra.Command{
	Use:   "ladder-backtest",
	Short: "Multi-account cross-day ladder backtester",
	Long: `ladder-backtest opens one account per day at a fixed anchor time and walks
each account through a six rung long/short ladder until a rung closes in
profit or the ladder runs out.

Examples:
  ladder-backtest run --csv PEPEUSDT_1h_202505.csv
  ladder-backtest fetch --symbol PEPEUSDT --month 202505
  ladder-backtest sweep --csv PEPEUSDT_1h_202505.csv --fees 0,0.0002,0.001
  ladder-backtest serve --addr :8080`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		appCfg = cfg
		logger = logging.Must(cfg.Logging.Level, cfg.Logging.Format)
		return tracing.Init(cfg.Tracing, engine.EngineVersion)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openProvider builds the bar source named by data.source. The returned
// closer is never nil.
func openProvider(ctx context.Context, cfg *config.Config, loc *time.Location) (marketdata.Provider, func(), error) {
	noop := func() {}
	switch cfg.Data.Source {
	case config.SourceCSV:
		if cfg.Data.Path == "" {
			return nil, noop, fmt.Errorf("data.path (or --csv) is required for the csv source")
		}
		return marketdata.FileProvider{Path: cfg.Data.Path, Loader: marketdata.NewCSVLoader(loc, logger)}, noop, nil
	case config.SourceClickHouse:
		store, err := clickhouse.Open(ctx, cfg.ClickHouse, loc, logger)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { store.Close() }, nil
	case config.SourceBinance:
		return marketdata.NewBinanceFetcher(cfg.Binance, loc, logger), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown data source %q", cfg.Data.Source)
}

// applyDataFlags folds the shared --csv/--symbol/--month flags into cfg.
func applyDataFlags(cfg *config.Config, csvPath, symbol, month string) {
	if csvPath != "" {
		cfg.Data.Source = config.SourceCSV
		cfg.Data.Path = csvPath
	}
	if symbol != "" {
		cfg.Data.Symbol = symbol
	}
	if month != "" {
		cfg.Data.Month = month
	}
}
