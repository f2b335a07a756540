package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ladder-backtest/services/clickhouse"
	"ladder-backtest/services/monitoring"
	"ladder-backtest/services/report"
	"ladder-backtest/services/runner"
)

// runCmd runs one backtest and writes its reports
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ladder simulation over one bar series",
	Long: `Load bars from the configured source, simulate every daily account and
print the trade tail plus each account's final capital.

Examples:
  ladder-backtest run --csv PEPEUSDT_1h_202505.csv
  ladder-backtest run --csv data.csv --formats csv,txt,parquet --out ./reports
  ladder-backtest run --config ladder.yaml --store-trades`,
	RunE: runBacktest,
}

var (
	runCSV         string
	runSymbol      string
	runMonth       string
	runOut         string
	runFormats     string
	runTail        int
	runStoreTrades bool
	runNoExport    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runCSV, "csv", "", "Kline CSV file; switches data.source to csv")
	runCmd.Flags().StringVar(&runSymbol, "symbol", "", "Override data.symbol")
	runCmd.Flags().StringVar(&runMonth, "month", "", "Restrict bars to a month (YYYYMM)")
	runCmd.Flags().StringVar(&runOut, "out", "", "Override report.output_dir")
	runCmd.Flags().StringVar(&runFormats, "formats", "", "Comma separated report formats: "+strings.Join(report.Formats, ","))
	runCmd.Flags().IntVar(&runTail, "tail", -1, "Trades to print in the console summary (default report.tail)")
	runCmd.Flags().BoolVar(&runStoreTrades, "store-trades", false, "Insert trades into ClickHouse")
	runCmd.Flags().BoolVar(&runNoExport, "no-export", false, "Only print the console summary")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appCfg
	applyDataFlags(cfg, runCSV, runSymbol, runMonth)
	if runOut != "" {
		cfg.Report.OutputDir = runOut
	}
	if runFormats != "" {
		cfg.Report.Formats = strings.Split(runFormats, ",")
	}
	if runTail >= 0 {
		cfg.Report.Tail = runTail
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	engCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	from, to, err := cfg.Data.Range()
	if err != nil {
		return err
	}

	provider, closeProvider, err := openProvider(ctx, cfg, engCfg.Location)
	if err != nil {
		return err
	}
	defer closeProvider()

	opts := []runner.Option{runner.WithLogger(logger), runner.WithMetrics(monitoring.NewMetrics())}
	if runStoreTrades {
		store, err := clickhouse.Open(ctx, cfg.ClickHouse, engCfg.Location, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, runner.WithTradeSink(store))
	}

	out, err := runner.New(provider, opts...).Run(ctx, runner.Request{
		Symbol:   cfg.Data.Symbol,
		Interval: cfg.Data.Interval,
		From:     from,
		To:       to,
		Engine:   engCfg,
	})
	if err != nil {
		return err
	}

	report.PrintSummary(cmd.OutOrStdout(), out.Result, out.Summary, cfg.Report.Tail)
	if runNoExport {
		return nil
	}

	base := fmt.Sprintf("%s_ladder_%s", cfg.Data.Symbol, out.Manifest.JobID[:8])
	paths, err := report.ExportFiles(cfg.Report.OutputDir, base, cfg.Report.Formats, out.Result, out.Summary, logger)
	if err != nil {
		return err
	}
	manifestPath := filepath.Join(cfg.Report.OutputDir, base+"_manifest.json")
	if err := writeJSON(manifestPath, out.Manifest); err != nil {
		return err
	}
	logger.Info("Reports saved", zap.Strings("files", append(paths, manifestPath)))
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
